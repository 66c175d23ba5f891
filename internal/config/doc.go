// Package config loads vpcctl's own settings from an optional HCL file.
//
// Example vpcctl.hcl:
//
//	state_dir      = "/var/lib/vpcctl"
//	state_backend  = "sqlite"
//	log_level      = "debug"
//	default_policy = "${env.HOME}/policies/default.json"
//	app_command    = ["python3", "-m", "http.server", "{port}"]
//	probe_timeout  = "3s"
//
// The file is evaluated with an "env" object holding the process
// environment. Values are layered: built-in defaults, then the file, then
// VPCCTL_* environment variables.
package config
