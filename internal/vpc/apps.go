package vpc

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"grimm.is/vpcctl/internal/brand"
	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/validation"
)

// ProcessManager starts and stops app processes inside namespaces.
type ProcessManager interface {
	// Start runs argv inside ns in the background with output to logFile
	// and returns its pid.
	Start(ns string, argv []string, logFile string) (int, error)
	// Terminate sends SIGTERM. A process that is already gone is not an
	// error.
	Terminate(pid int) error
}

// DryRunProcessManager echoes the commands a real run would execute.
type DryRunProcessManager struct {
	Runner firewall.CommandRunner
}

func (m *DryRunProcessManager) Start(ns string, argv []string, logFile string) (int, error) {
	cmd := NamespaceCommand(ns, argv)
	return 0, m.Runner.Run(cmd[0], cmd[1:]...)
}

func (m *DryRunProcessManager) Terminate(pid int) error {
	return m.Runner.Run("kill", "-TERM", strconv.Itoa(pid))
}

// NamespaceCommand prefixes argv with "ip netns exec ns".
func NamespaceCommand(ns string, argv []string) []string {
	return append([]string{"ip", "netns", "exec", ns}, argv...)
}

// DeployApp starts the configured app command in the subnet's namespace on
// port and records it. In preview mode the command is only printed.
func (c *Controller) DeployApp(name, subnet string, port int) (app *state.AppInstance, err error) {
	const op = "deploy-app"
	defer func() { c.metrics.RecordOperation(op, err) }()

	if err := validation.ValidatePortNumber(port); err != nil {
		return nil, newError(KindValidation, op, err)
	}
	v, err := c.load(op, name)
	if err != nil {
		return nil, err
	}
	idx := v.Subnet(subnet)
	if idx < 0 {
		return nil, notFoundError(op, "subnet '%s' not found in VPC '%s'", subnet, name)
	}
	ns := v.Subnets[idx].Namespace

	argv := c.cfg.AppCommandFor(port)
	logFile := filepath.Join(c.cfg.AppLogDir, fmt.Sprintf("%s-%s-http.log", brand.LowerName, ns))
	pid, err := c.procs.Start(ns, argv, logFile)
	if err != nil {
		return nil, externalError(op, fmt.Errorf("failed to start app in %s: %w", ns, err))
	}

	app = &state.AppInstance{
		ID:        uuid.NewString(),
		Namespace: ns,
		Port:      port,
		PID:       pid,
		Cmd:       NamespaceCommand(ns, argv),
		LogFile:   logFile,
		StartedAt: c.clock.Now().UTC(),
	}
	if c.preview {
		return app, nil
	}

	v.Apps = append(v.Apps, *app)
	if err := c.save(op, v); err != nil {
		return app, err
	}
	c.logger.WithVPC(name).Info("app started", "ns", ns, "port", port, "pid", pid, "log", logFile)
	c.audit("app.deploy", name+"/"+subnet, map[string]any{"pid": pid, "port": port, "id": app.ID})
	return app, nil
}

// StopApp terminates and forgets every recorded app matching ns and pid
// (either may be empty/zero to match all). A missing VPC is reported as
// nothing stopped.
func (c *Controller) StopApp(name, ns string, pid int) (stopped []state.AppInstance, err error) {
	const op = "stop-app"
	defer func() { c.metrics.RecordOperation(op, err) }()

	v, err := c.load(op, name)
	if IsNotFound(err) {
		c.logger.WithVPC(name).Info("VPC not found, no apps to stop")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	kept := v.Apps[:0]
	for _, app := range v.Apps {
		if (ns != "" && app.Namespace != ns) || (pid != 0 && app.PID != pid) {
			kept = append(kept, app)
			continue
		}
		if app.PID > 0 {
			if err := c.procs.Terminate(app.PID); err != nil {
				c.logger.Warn("failed to stop app", "pid", app.PID, "ns", app.Namespace, "error", err)
			}
		}
		stopped = append(stopped, app)
	}
	v.Apps = kept

	if err := c.save(op, v); err != nil {
		return stopped, err
	}
	if len(stopped) > 0 {
		c.audit("app.stop", name, map[string]any{"count": len(stopped)})
	}
	return stopped, nil
}
