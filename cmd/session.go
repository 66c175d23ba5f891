package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"grimm.is/vpcctl/internal/config"
	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/i18n"
	"grimm.is/vpcctl/internal/logging"
	"grimm.is/vpcctl/internal/metrics"
	"grimm.is/vpcctl/internal/network"
	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/vpc"
)

// Printer formats command output for the user's locale.
var Printer = i18n.NewCLIPrinter()

// Stdout receives command output.
var Stdout io.Writer = os.Stdout

// Session is one command invocation's controller and the resources behind
// it.
type Session struct {
	Ctl     *vpc.Controller
	Config  *config.Config
	Preview bool

	store   state.Store
	metrics *metrics.Registry
	closers []func()
}

// NewSession wraps an existing controller. store is the base store the
// controller was built with.
func NewSession(ctl *vpc.Controller, cfg *config.Config, store state.Store) *Session {
	return &Session{
		Ctl:     ctl,
		Config:  cfg,
		Preview: ctl.Preview(),
		store:   store,
		metrics: ctl.Metrics(),
	}
}

// Open builds the live stack from cfg, or the preview stack that echoes
// every mutation instead of performing it.
func Open(cfg *config.Config, preview bool) (*Session, error) {
	store, err := state.Open(cfg.StateBackend, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	nl, err := network.NewRealNetlinker()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open netlink: %w", err)
	}
	nsm := network.NewRealNamespaceManager()
	sys := &network.RealSystemController{}
	live := firewall.NewRealCommandRunner()

	var (
		runner firewall.CommandRunner = live
		mgr    *network.Manager
	)
	if preview {
		rec := network.NewRecorder()
		runner = firewall.NewDryRunRunner(live)
		mgr = network.NewManagerWithDeps(
			network.NewDryRunNetlinker(nl, rec),
			&network.DryRunSystemController{Reader: sys, Rec: rec},
			network.NewDryRunNamespaceManager(nsm, rec),
			network.DryRunOffload{Rec: rec},
		)
	} else {
		mgr = network.NewManagerWithDeps(nl, sys, nsm, network.EthtoolOffload{})
	}

	ctl := vpc.New(vpc.Options{
		Store:   store,
		Runner:  runner,
		Network: mgr,
		Chains:  firewall.NewChainLister(live, cfg.IptablesPath),
		Config:  cfg,
		Preview: preview,
	})

	s := NewSession(ctl, cfg, store)
	s.closers = append(s.closers, nl.Close)
	return s, nil
}

// Close exports metrics when configured and releases the store.
func (s *Session) Close() error {
	var errs []error
	if s.Config.MetricsFile != "" && !s.Preview {
		if err := s.writeMetrics(); err != nil {
			logging.Warn("failed to write metrics", "path", s.Config.MetricsFile, "error", err)
		}
	}
	for _, c := range s.closers {
		c()
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Session) writeMetrics() error {
	if err := metrics.NewCollector(s.metrics, s.store).Collect(); err != nil {
		return err
	}
	return s.metrics.WriteTextfile(s.Config.MetricsFile)
}
