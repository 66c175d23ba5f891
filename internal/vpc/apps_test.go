package vpc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/network"
)

func TestDeployApp(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	sub := h.mustSubnet(t, "demo", "public", "10.10.1.0/24")

	app, err := h.ctl.DeployApp("demo", "public", 8080)
	require.NoError(t, err)
	assert.Equal(t, 4001, app.PID)
	assert.Equal(t, sub.Namespace, app.Namespace)
	assert.NotEmpty(t, app.ID)
	assert.Equal(t, filepath.Join(h.cfg.AppLogDir, "vpcctl-"+sub.Namespace+"-http.log"), app.LogFile)
	assert.Equal(t, []string{"ip", "netns", "exec", sub.Namespace, "python3", "-m", "http.server", "8080"}, app.Cmd)

	require.Len(t, h.procs.started, 1)
	assert.Equal(t, startCall{
		ns:      sub.Namespace,
		argv:    []string{"python3", "-m", "http.server", "8080"},
		logFile: app.LogFile,
	}, h.procs.started[0])

	apps := h.record(t, "demo").Apps
	require.Len(t, apps, 1)
	assert.Equal(t, app.ID, apps[0].ID)
	assert.Equal(t, 8080, apps[0].Port)
}

func TestDeployApp_Errors(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")

	_, err := h.ctl.DeployApp("demo", "public", 8080)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.ctl.DeployApp("ghost", "public", 8080)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.ctl.DeployApp("demo", "public", 70000)
	assert.Equal(t, KindValidation, KindOf(err))

	assert.Empty(t, h.procs.started)
}

func TestStopApp(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	pub := h.mustSubnet(t, "demo", "public", "10.10.1.0/24")
	h.mustSubnet(t, "demo", "private", "10.10.2.0/24")

	first, err := h.ctl.DeployApp("demo", "public", 8080)
	require.NoError(t, err)
	_, err = h.ctl.DeployApp("demo", "public", 8081)
	require.NoError(t, err)
	third, err := h.ctl.DeployApp("demo", "private", 8080)
	require.NoError(t, err)

	stopped, err := h.ctl.StopApp("demo", pub.Namespace, first.PID)
	require.NoError(t, err)
	require.Len(t, stopped, 1)
	assert.Equal(t, first.ID, stopped[0].ID)
	assert.Equal(t, []int{first.PID}, h.procs.terminated)
	assert.Len(t, h.record(t, "demo").Apps, 2)

	stopped, err = h.ctl.StopApp("demo", pub.Namespace, 0)
	require.NoError(t, err)
	assert.Len(t, stopped, 1)

	apps := h.record(t, "demo").Apps
	require.Len(t, apps, 1)
	assert.Equal(t, third.ID, apps[0].ID)

	stopped, err = h.ctl.StopApp("demo", "", 0)
	require.NoError(t, err)
	assert.Len(t, stopped, 1)
	assert.Empty(t, h.record(t, "demo").Apps)
}

func TestStopApp_AbsentVPC(t *testing.T) {
	h := newHarness(t)
	stopped, err := h.ctl.StopApp("ghost", "", 0)
	assert.NoError(t, err)
	assert.Nil(t, stopped)
}

func TestNamespaceCommand(t *testing.T) {
	assert.Equal(t,
		[]string{"ip", "netns", "exec", "ns-demo-web", "sleep", "1"},
		NamespaceCommand("ns-demo-web", []string{"sleep", "1"}))
}

func TestDryRunProcessManager(t *testing.T) {
	runner := &firewall.DryRunRunner{Out: &bytes.Buffer{}}
	m := &DryRunProcessManager{Runner: runner}

	pid, err := m.Start("ns-demo-web", []string{"python3", "-m", "http.server", "80"}, "/tmp/x.log")
	require.NoError(t, err)
	assert.Zero(t, pid)
	require.NoError(t, m.Terminate(4242))

	assert.Equal(t, []string{
		"ip netns exec ns-demo-web python3 -m http.server 80",
		"kill -TERM 4242",
	}, runner.Commands())
}

func hostOnlyProber(ping func(string, time.Duration) error) *network.Prober {
	return &network.Prober{
		Timeout: 2 * time.Second,
		Exec: func(ns string, fn func() error) error {
			if ns != "" {
				return errors.New("namespaces unavailable in tests")
			}
			return fn()
		},
		Ping: ping,
	}
}

func TestTestConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	h := newHarness(t)
	h.ctl.prober = hostOnlyProber(func(string, time.Duration) error { return errors.New("no reply") })

	res, err := h.ctl.TestConnectivity(context.Background(), host, port, "")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "http", res.Method)
	assert.Equal(t, "204 No Content", res.Status)

	// Failure is reported, not returned.
	res, err = h.ctl.TestConnectivity(context.Background(), "10.10.1.2", 80, "ns-demo-public")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
}

func TestTestConnectivity_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctl.TestConnectivity(context.Background(), "not-an-ip", 80, "")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = h.ctl.TestConnectivity(context.Background(), "10.0.0.1", 0, "")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCurlMaxTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{400 * time.Millisecond, 1},
		{0, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{5 * time.Second, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, curlMaxTime(tt.in), tt.in.String())
	}
}
