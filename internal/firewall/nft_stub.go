//go:build !linux

package firewall

import "errors"

// NFTChainLister is only available on Linux.
type NFTChainLister struct{}

// NewNFTChainLister always fails off Linux.
func NewNFTChainLister() (*NFTChainLister, error) {
	return nil, errors.New("nftables is only supported on linux")
}

// ChainExists is never reached off Linux.
func (l *NFTChainLister) ChainExists(table, chain string) (bool, error) {
	return false, errors.New("nftables is only supported on linux")
}
