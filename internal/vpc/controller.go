package vpc

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"grimm.is/vpcctl/internal/clock"
	"grimm.is/vpcctl/internal/config"
	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/logging"
	"grimm.is/vpcctl/internal/metrics"
	"grimm.is/vpcctl/internal/network"
	"grimm.is/vpcctl/internal/state"
)

// Options wires a Controller. Store, Runner and Network are required.
type Options struct {
	Store   state.Store
	Runner  firewall.CommandRunner
	Network *network.Manager

	// Chains answers chain-existence queries; iptables itself when nil.
	Chains firewall.ChainLister
	// Procs launches and stops app processes.
	Procs  ProcessManager
	Prober *network.Prober
	Config *config.Config

	// Preview suppresses every write to Store. Runner, Network and Procs
	// are expected to be their dry-run variants.
	Preview bool

	Clock   clock.Clock
	Metrics *metrics.Registry
}

// Controller implements the vpcctl operations.
type Controller struct {
	store    state.Store
	runner   firewall.CommandRunner
	ledger   *firewall.Ledger
	chains   *firewall.Chains
	net      *network.Manager
	procs    ProcessManager
	prober   *network.Prober
	cfg      *config.Config
	iptables string
	preview  bool
	clock    clock.Clock
	metrics  *metrics.Registry
	logger   *logging.Logger
}

// New creates a controller.
func New(opts Options) *Controller {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	store := opts.Store
	if _, ok := store.(*state.PreviewStore); opts.Preview && !ok {
		store = state.NewPreviewStore(store)
	}
	procs := opts.Procs
	if procs == nil {
		if opts.Preview {
			procs = &DryRunProcessManager{Runner: opts.Runner}
		} else {
			procs = NewProcessManager()
		}
	}
	prober := opts.Prober
	if prober == nil {
		prober = network.NewProber(cfg.ProbeTimeoutDuration())
	}
	clk := clock.Or(opts.Clock)
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Get()
	}

	return &Controller{
		store:    store,
		runner:   opts.Runner,
		ledger:   firewall.NewLedger(opts.Runner, opts.Preview),
		chains:   firewall.NewChains(opts.Runner, cfg.IptablesPath, opts.Chains),
		net:      opts.Network,
		procs:    procs,
		prober:   prober,
		cfg:      cfg,
		iptables: cfg.IptablesPath,
		preview:  opts.Preview,
		clock:    clk,
		metrics:  reg,
		logger:   logging.WithComponent("vpc"),
	}
}

// Preview reports whether the controller runs in preview mode.
func (c *Controller) Preview() bool {
	return c.preview
}

// Metrics returns the registry operations are counted in.
func (c *Controller) Metrics() *metrics.Registry {
	return c.metrics
}

func (c *Controller) ipt(args ...string) []string {
	return append([]string{c.iptables}, args...)
}

func (c *Controller) nsIpt(ns string, args ...string) []string {
	return append([]string{"ip", "netns", "exec", ns, c.iptables}, args...)
}

// exec runs a command that is not tracked by the ledger.
func (c *Controller) exec(cmd []string) error {
	c.logger.Info("exec", "cmd", firewall.FormatCommand(cmd[0], cmd[1:]...))
	err := c.runner.Run(cmd[0], cmd[1:]...)
	c.metrics.RecordCommand(commandName(cmd), err)
	return err
}

// commandName labels a command for metrics: the binary, or the binary run
// inside a namespace.
func commandName(cmd []string) string {
	if len(cmd) > 4 && cmd[0] == "ip" && cmd[1] == "netns" && cmd[2] == "exec" {
		return filepath.Base(cmd[4])
	}
	return filepath.Base(cmd[0])
}

// addRule adds rule through the ledger and records it. A rule that was
// already present is recorded too, so teardown removes it.
func (c *Controller) addRule(v *state.VPC, rule []string, tag string) (bool, error) {
	recorded, added, err := c.ledger.Add(rule, tag)
	c.metrics.RecordCommand(commandName(rule), err)
	if err != nil {
		return false, fmt.Errorf("failed to add rule %q: %w", tag, err)
	}
	v.RecordRule(recorded)
	return added, nil
}

func (c *Controller) load(op, name string) (*state.VPC, error) {
	v, err := c.store.Load(name)
	if errors.Is(err, state.ErrNotFound) {
		return nil, notFoundError(op, "VPC '%s' not found", name)
	}
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	return v, nil
}

func (c *Controller) save(op string, v *state.VPC) error {
	if err := c.store.Save(v.Name, v); err != nil {
		return newError(KindInternal, op, fmt.Errorf("failed to save VPC '%s': %w", v.Name, err))
	}
	return nil
}

func (c *Controller) audit(action, resource string, details map[string]any) {
	if c.preview {
		return
	}
	c.logger.Audit(action, resource, details)
}

// List returns the recorded VPC names.
func (c *Controller) List() ([]string, error) {
	names, err := c.store.List()
	if err != nil {
		return nil, newError(KindInternal, "list", err)
	}
	slices.Sort(names)
	return names, nil
}

// Inspect returns the record of name. found is false when no record exists.
func (c *Controller) Inspect(name string) (v *state.VPC, found bool, err error) {
	v, err = c.load("inspect", name)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
