package cmd

import (
	"context"
	"time"
)

// RunDeployApp starts the configured app in a subnet namespace.
func RunDeployApp(s *Session, name, subnet string, port int) error {
	app, err := s.Ctl.DeployApp(name, subnet, port)
	if err != nil {
		return err
	}
	if s.Preview {
		return nil
	}
	ok("App started in %s on port %d (pid %d, log %s)", app.Namespace, app.Port, app.PID, app.LogFile)
	return nil
}

// RunStopApp stops recorded apps of a VPC matching ns and pid.
func RunStopApp(s *Session, name, ns string, pid int) error {
	stopped, err := s.Ctl.StopApp(name, ns, pid)
	if err != nil {
		return err
	}
	if len(stopped) == 0 {
		warn("No matching apps recorded for %s", name)
		return nil
	}
	for _, app := range stopped {
		ok("Stopped pid %d in %s (port %d)", app.PID, app.Namespace, app.Port)
	}
	return nil
}

// RunTestConnectivity probes target:port from fromNS or the host. An
// unreachable target is reported, not returned.
func RunTestConnectivity(ctx context.Context, s *Session, target string, port int, fromNS string) error {
	res, err := s.Ctl.TestConnectivity(ctx, target, port, fromNS)
	if err != nil || res == nil {
		return err
	}
	from := fromNS
	if from == "" {
		from = "host"
	}
	if res.OK {
		ok("%s -> %s:%d reachable via %s (%s, %s)", from, target, port, res.Method, res.Status, res.Elapsed.Round(time.Millisecond))
	} else {
		fail("%s -> %s:%d unreachable: %v", from, target, port, res.Err)
	}
	return nil
}
