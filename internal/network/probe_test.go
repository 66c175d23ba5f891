package network

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func testProber(ping func(string, time.Duration) error) *Prober {
	return &Prober{
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

func TestProbe_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	p := testProber(func(string, time.Duration) error {
		t.Fatal("ping must not run when http succeeds")
		return nil
	})
	res := p.Probe(context.Background(), host, port, "")
	assert.True(t, res.OK)
	assert.Equal(t, "http", res.Method)
	assert.Equal(t, "200 OK", res.Status)
	assert.NoError(t, res.Err)
}

func TestProbe_FallsBackToICMP(t *testing.T) {
	// A listener that is closed immediately gives a port nobody serves.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	var pinged string
	p := testProber(func(target string, _ time.Duration) error {
		pinged = target
		return nil
	})
	res := p.Probe(context.Background(), "127.0.0.1", port, "")
	assert.True(t, res.OK)
	assert.Equal(t, "icmp", res.Method)
	assert.Equal(t, "127.0.0.1", pinged)
}

func TestProbe_Unreachable(t *testing.T) {
	p := testProber(func(string, time.Duration) error { return errors.New("packet loss") })
	res := p.Probe(context.Background(), "10.99.0.2", 8080, "ns-missing")
	assert.False(t, res.OK)
	assert.Equal(t, "ns-missing", res.Namespace)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "http:")
	assert.Contains(t, res.Err.Error(), "icmp:")
}
