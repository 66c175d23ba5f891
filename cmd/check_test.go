package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunCheck_ValidConfig(t *testing.T) {
	env := newTestEnv(t)
	configPath := writeTemp(t, "vpcctl.hcl", `
state_dir     = "/tmp/vpcctl-check"
state_backend = "sqlite"
app_command   = ["busybox", "httpd", "-f", "-p", "{port}"]
`)
	policyPath := writeTemp(t, "web.json", `[
		{"subnet": "*", "ingress": [{"port": 22, "action": "deny"}]},
		{"subnet": "10.10.1.0/24", "ingress": [{"port": 80}]}
	]`)

	require.NoError(t, RunCheck(configPath, []string{policyPath}, true))
	out := env.out.String()
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "busybox httpd -f -p {port}")
	assert.Contains(t, out, "web.json: 2 policies")
	assert.Contains(t, out, "ip netns exec <ns> iptables -A INPUT -p tcp --dport 22 -j DROP")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	newTestEnv(t)

	configPath := writeTemp(t, "broken.hcl", `state_dir = "/tmp" {`)
	assert.Error(t, RunCheck(configPath, nil, false))

	configPath = writeTemp(t, "bad-backend.hcl", `state_backend = "etcd"`)
	err := RunCheck(configPath, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_backend")
}

func TestRunCheck_InvalidPolicy(t *testing.T) {
	env := newTestEnv(t)
	configPath := writeTemp(t, "vpcctl.hcl", ``)
	policyPath := writeTemp(t, "bad.json", `{"subnet": "10.10.1.0/24", "ingress": [{"port": 99999}]}`)

	err := RunCheck(configPath, []string{policyPath}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.json")
	assert.Contains(t, env.out.String(), "bad.json:")
}
