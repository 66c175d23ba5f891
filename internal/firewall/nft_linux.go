//go:build linux

package firewall

import (
	"fmt"

	"github.com/google/nftables"
)

// NFTChainLister reads IPv4 chains over netlink. iptables-nft keeps its
// tables (filter, nat, ...) in the ip family under the same names.
type NFTChainLister struct {
	conn *nftables.Conn
}

// NewNFTChainLister opens a netlink connection to nf_tables.
func NewNFTChainLister() (*NFTChainLister, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}
	return &NFTChainLister{conn: conn}, nil
}

// ChainExists looks for chain in the ip-family table.
func (l *NFTChainLister) ChainExists(table, chain string) (bool, error) {
	chains, err := l.conn.ListChainsOfTableFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return false, fmt.Errorf("failed to list chains: %w", err)
	}
	for _, c := range chains {
		if c.Table != nil && c.Table.Name == table && c.Name == chain {
			return true, nil
		}
	}
	return false, nil
}
