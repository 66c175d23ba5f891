package firewall

import (
	"strings"
)

// Backend is the iptables flavor on the host.
type Backend string

const (
	BackendLegacy  Backend = "legacy"
	BackendNFT     Backend = "nf_tables"
	BackendUnknown Backend = "unknown"
)

// DetectBackend reads `iptables --version`.
func DetectBackend(r CommandRunner, iptables string) Backend {
	out, err := r.Output(iptables, "--version")
	if err != nil {
		return BackendUnknown
	}
	s := string(out)
	switch {
	case strings.Contains(s, "nf_tables"):
		return BackendNFT
	case strings.Contains(s, "legacy"):
		return BackendLegacy
	}
	return BackendUnknown
}

// ChainLister answers whether a chain exists in the live rule set.
type ChainLister interface {
	ChainExists(table, chain string) (bool, error)
}

// IptablesChainLister asks iptables directly.
type IptablesChainLister struct {
	runner CommandRunner
	binary string
}

// NewIptablesChainLister creates a lister using binary (usually "iptables").
func NewIptablesChainLister(r CommandRunner, binary string) *IptablesChainLister {
	return &IptablesChainLister{runner: r, binary: binary}
}

// ChainExists runs `iptables -t <table> -S <chain>`; exit status 1 means absent.
func (l *IptablesChainLister) ChainExists(table, chain string) (bool, error) {
	_, err := l.runner.Output(l.binary, "-t", table, "-S", chain)
	if err == nil {
		return true, nil
	}
	if IsCommandExit(err, 1) {
		return false, nil
	}
	return false, err
}

// NewChainLister prefers netlink on nf_tables hosts and falls back to
// iptables.
func NewChainLister(r CommandRunner, binary string) ChainLister {
	if DetectBackend(r, binary) == BackendNFT {
		if l, err := NewNFTChainLister(); err == nil {
			return l
		}
	}
	return NewIptablesChainLister(r, binary)
}

// Chains wraps chain-level iptables commands for one binary.
type Chains struct {
	runner CommandRunner
	binary string
	lister ChainLister
}

// NewChains creates chain helpers. lister may be nil to use iptables.
func NewChains(r CommandRunner, binary string, lister ChainLister) *Chains {
	if lister == nil {
		lister = NewIptablesChainLister(r, binary)
	}
	return &Chains{runner: r, binary: binary, lister: lister}
}

// Exists reports whether chain exists in the filter table. Lookup errors
// are treated as absent.
func (c *Chains) Exists(chain string) bool {
	ok, err := c.lister.ChainExists("filter", chain)
	return err == nil && ok
}

// Ensure creates chain in the filter table unless it already exists.
func (c *Chains) Ensure(chain string) error {
	if c.Exists(chain) {
		return nil
	}
	return c.runner.Run(c.binary, "-N", chain)
}

// Flush removes every rule from chain.
func (c *Chains) Flush(chain string) error {
	return c.runner.Run(c.binary, "-F", chain)
}

// Delete destroys an empty, unreferenced chain.
func (c *Chains) Delete(chain string) error {
	return c.runner.Run(c.binary, "-X", chain)
}
