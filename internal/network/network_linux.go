//go:build linux

package network

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// RealNetlinker talks to the kernel through a netlink handle. The handle is
// bound to the namespace it was opened in; its methods satisfy Netlinker
// directly.
type RealNetlinker struct {
	*netlink.Handle
}

// NewRealNetlinker opens a handle in the caller's namespace.
func NewRealNetlinker() (*RealNetlinker, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("open netlink handle: %w", err)
	}
	return &RealNetlinker{Handle: h}, nil
}

var _ Netlinker = (*RealNetlinker)(nil)
