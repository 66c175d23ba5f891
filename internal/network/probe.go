package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ProbeResult is the outcome of one reachability check.
type ProbeResult struct {
	Target    string
	Port      int
	Namespace string
	Method    string // "http" or "icmp"
	OK        bool
	Status    string
	Err       error
	Elapsed   time.Duration
}

// Prober checks HTTP reachability, falling back to a single ICMP echo.
type Prober struct {
	Timeout time.Duration
	// Exec runs fn inside a namespace; InNamespace by default.
	Exec func(ns string, fn func() error) error
	// Ping sends one echo request; pro-bing by default.
	Ping func(target string, timeout time.Duration) error
}

// NewProber creates a prober with the given per-attempt timeout.
func NewProber(timeout time.Duration) *Prober {
	return &Prober{Timeout: timeout, Exec: InNamespace, Ping: ping}
}

// Probe GETs http://target:port/ from ns ("" for the host). It never
// returns an error; failures are reported in the result.
func (p *Prober) Probe(ctx context.Context, target string, port int, ns string) ProbeResult {
	start := time.Now()
	res := ProbeResult{Target: target, Port: port, Namespace: ns, Method: "http"}

	status, err := p.httpGet(ctx, target, port, ns)
	if err == nil {
		res.OK = true
		res.Status = status
		res.Elapsed = time.Since(start)
		return res
	}

	res.Method = "icmp"
	pingErr := p.Exec(ns, func() error { return p.Ping(target, p.Timeout) })
	res.Elapsed = time.Since(start)
	if pingErr != nil {
		res.Err = errors.Join(fmt.Errorf("http: %w", err), fmt.Errorf("icmp: %w", pingErr))
		return res
	}
	res.OK = true
	res.Status = fmt.Sprintf("icmp echo reply (http failed: %v)", err)
	return res
}

func (p *Prober) httpGet(ctx context.Context, target string, port int, ns string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr := net.JoinHostPort(target, strconv.Itoa(port))

	// Dial on the namespaced thread; the connection keeps the namespace
	// after the thread is released.
	var conn net.Conn
	err := p.Exec(ns, func() error {
		var derr error
		conn, derr = (&net.Dialer{Timeout: p.Timeout}).DialContext(ctx, "tcp", addr)
		return derr
	})
	if err != nil {
		return "", err
	}

	used := false
	transport := &http.Transport{
		DialContext: func(context.Context, string, string) (net.Conn, error) {
			if used {
				return nil, errors.New("connection already used")
			}
			used = true
			return conn, nil
		},
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: p.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/", nil)
	if err != nil {
		conn.Close()
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Status, nil
}

func ping(target string, timeout time.Duration) error {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}
