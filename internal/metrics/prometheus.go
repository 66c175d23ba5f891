// Package metrics holds vpcctl's prometheus counters.
//
// vpcctl is a short-lived CLI, so nothing is served over HTTP. When
// metrics_file is configured the registry is written in the node_exporter
// textfile format at the end of each non-preview run.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all vpcctl metrics.
type Registry struct {
	reg *prometheus.Registry

	// Rule ledger
	LedgerAdds    *prometheus.CounterVec
	LedgerDeletes *prometheus.CounterVec

	// Lifecycle
	Operations *prometheus.CounterVec
	Commands   *prometheus.CounterVec

	// Recorded state, refreshed by Collector
	VPCs        prometheus.Gauge
	Subnets     *prometheus.GaugeVec
	LedgerRules *prometheus.GaugeVec
	Apps        *prometheus.GaugeVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates a registry with its own prometheus.Registry so tests do not
// collide with the default one.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	r := &Registry{reg: reg}

	r.LedgerAdds = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "vpcctl_ledger_adds_total",
		Help: "Rule ledger add calls by outcome (added, present, error)",
	}, []string{"outcome"})

	r.LedgerDeletes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "vpcctl_ledger_deletes_total",
		Help: "Rule ledger delete calls by the strategy that resolved them",
	}, []string{"strategy"})

	r.Operations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "vpcctl_operations_total",
		Help: "Controller operations by name and status",
	}, []string{"op", "status"})

	r.Commands = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "vpcctl_commands_total",
		Help: "External commands run by binary and status",
	}, []string{"binary", "status"})

	r.VPCs = factory.NewGauge(prometheus.GaugeOpts{
		Name: "vpcctl_vpcs",
		Help: "Number of recorded VPCs",
	})

	r.Subnets = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpcctl_subnets",
		Help: "Recorded subnets per VPC",
	}, []string{"vpc"})

	r.LedgerRules = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpcctl_ledger_rules",
		Help: "Recorded host rules per VPC",
	}, []string{"vpc"})

	r.Apps = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vpcctl_apps",
		Help: "Recorded app instances per VPC",
	}, []string{"vpc"})

	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordOperation counts a controller operation.
func (r *Registry) RecordOperation(op string, err error) {
	r.Operations.WithLabelValues(op, status(err)).Inc()
}

// RecordCommand counts an external command.
func (r *Registry) RecordCommand(binary string, err error) {
	r.Commands.WithLabelValues(binary, status(err)).Inc()
}

// WriteTextfile writes the registry to path in the textfile collector format.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
