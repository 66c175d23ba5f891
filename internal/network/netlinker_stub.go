//go:build !linux

package network

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

var errUnsupported = fmt.Errorf("netlink not supported on this platform")

// RealNetlinker is a stub implementation of Netlinker.
type RealNetlinker struct{}

// NewRealNetlinker always fails off Linux.
func NewRealNetlinker() (*RealNetlinker, error) {
	return nil, errUnsupported
}

func (r *RealNetlinker) Close() {}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return nil, errUnsupported
}

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) {
	return nil, errUnsupported
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error                   { return errUnsupported }
func (r *RealNetlinker) LinkSetDown(link netlink.Link) error                 { return errUnsupported }
func (r *RealNetlinker) LinkSetMaster(slave, master netlink.Link) error      { return errUnsupported }
func (r *RealNetlinker) LinkAdd(link netlink.Link) error                     { return errUnsupported }
func (r *RealNetlinker) LinkDel(link netlink.Link) error                     { return errUnsupported }
func (r *RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error { return errUnsupported }
func (r *RealNetlinker) RouteAdd(route *netlink.Route) error                 { return errUnsupported }

func (r *RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return nil, errUnsupported
}
