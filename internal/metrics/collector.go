package metrics

import (
	"fmt"

	"grimm.is/vpcctl/internal/state"
)

// Collector refreshes the recorded-state gauges from a metadata store.
type Collector struct {
	registry *Registry
	store    state.Store
}

// NewCollector creates a collector for store.
func NewCollector(r *Registry, store state.Store) *Collector {
	return &Collector{registry: r, store: store}
}

// Collect walks every recorded VPC. Gauges for VPCs that no longer exist
// are reset.
func (c *Collector) Collect() error {
	names, err := c.store.List()
	if err != nil {
		return fmt.Errorf("failed to list vpcs: %w", err)
	}

	c.registry.Subnets.Reset()
	c.registry.LedgerRules.Reset()
	c.registry.Apps.Reset()
	c.registry.VPCs.Set(float64(len(names)))

	for _, name := range names {
		v, err := c.store.Load(name)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		c.registry.Subnets.WithLabelValues(name).Set(float64(len(v.Subnets)))
		c.registry.LedgerRules.WithLabelValues(name).Set(float64(len(v.HostRules)))
		c.registry.Apps.WithLabelValues(name).Set(float64(len(v.Apps)))
	}
	return nil
}
