package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/vpcctl/internal/brand"
)

// PortPlaceholder in AppCommand is replaced with the app's port.
const PortPlaceholder = "{port}"

// Config is vpcctl's tool configuration.
type Config struct {
	StateDir      string   `hcl:"state_dir,optional" json:"state_dir"`
	StateBackend  string   `hcl:"state_backend,optional" json:"state_backend"`
	IptablesPath  string   `hcl:"iptables_path,optional" json:"iptables_path"`
	LogLevel      string   `hcl:"log_level,optional" json:"log_level"`
	LogJSON       bool     `hcl:"log_json,optional" json:"log_json"`
	DefaultPolicy string   `hcl:"default_policy,optional" json:"default_policy,omitempty"`
	AppLogDir     string   `hcl:"app_log_dir,optional" json:"app_log_dir"`
	AppCommand    []string `hcl:"app_command,optional" json:"app_command"`
	ProbeTimeout  string   `hcl:"probe_timeout,optional" json:"probe_timeout"`
	MetricsFile   string   `hcl:"metrics_file,optional" json:"metrics_file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir:     brand.Dir(brand.StateDir),
		StateBackend: "file",
		IptablesPath: "iptables",
		LogLevel:     "info",
		AppLogDir:    brand.Dir(brand.LogDir),
		AppCommand:   []string{"python3", "-m", "http.server", PortPlaceholder},
		ProbeTimeout: "5s",
	}
}

// Load reads the config file at path over the defaults and applies
// environment overrides. An empty path, or a missing file at the default
// location, yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = brand.DefaultConfigPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// LoadBytes decodes HCL source over the defaults without consulting the
// environment for overrides.
func LoadBytes(filename string, data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(filename, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(filename string, data []byte) error {
	// gohcl zeroes absent attributes, so decode aside and merge.
	var file Config
	if err := hclsimple.Decode(filename, data, evalContext(), &file); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	merge(&c.StateDir, file.StateDir)
	merge(&c.StateBackend, file.StateBackend)
	merge(&c.IptablesPath, file.IptablesPath)
	merge(&c.LogLevel, file.LogLevel)
	merge(&c.DefaultPolicy, file.DefaultPolicy)
	merge(&c.AppLogDir, file.AppLogDir)
	merge(&c.ProbeTimeout, file.ProbeTimeout)
	merge(&c.MetricsFile, file.MetricsFile)
	c.LogJSON = file.LogJSON
	if len(file.AppCommand) > 0 {
		c.AppCommand = file.AppCommand
	}
	return nil
}

func merge(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && hclsyntaxIdent(k) {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}

// hclsyntaxIdent keeps environment names that HCL can address as env.NAME.
func hclsyntaxIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// ApplyEnv applies VPCCTL_* overrides using lookup (os.Getenv in
// production).
func (c *Config) ApplyEnv(lookup func(string) string) {
	p := brand.ConfigEnvPrefix + "_"
	merge(&c.StateDir, lookup(p+"STATE_DIR"))
	merge(&c.StateBackend, lookup(p+"STATE_BACKEND"))
	merge(&c.IptablesPath, lookup(p+"IPTABLES"))
	merge(&c.LogLevel, lookup(p+"LOG_LEVEL"))
	merge(&c.DefaultPolicy, lookup(p+"DEFAULT_POLICY"))
	merge(&c.MetricsFile, lookup(p+"METRICS_FILE"))
	if v := lookup(p + "LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LogJSON = b
		}
	}
}

// ProbeTimeoutDuration returns the parsed probe timeout, 5s when invalid.
func (c *Config) ProbeTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ProbeTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// AppCommandFor returns AppCommand with the port substituted.
func (c *Config) AppCommandFor(port int) []string {
	out := make([]string, len(c.AppCommand))
	for i, arg := range c.AppCommand {
		out[i] = strings.ReplaceAll(arg, PortPlaceholder, strconv.Itoa(port))
	}
	return out
}
