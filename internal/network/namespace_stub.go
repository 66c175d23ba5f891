//go:build !linux

package network

import (
	"github.com/vishvananda/netlink"
)

// NetnsDir is where ip-netns(8) bind-mounts named namespaces.
const NetnsDir = "/var/run/netns"

// RealNamespaceManager is a stub; named namespaces are Linux only.
type RealNamespaceManager struct{}

func NewRealNamespaceManager() *RealNamespaceManager { return &RealNamespaceManager{} }

func (m *RealNamespaceManager) Exists(name string) (bool, error) { return false, nil }
func (m *RealNamespaceManager) Create(name string) error         { return errUnsupported }
func (m *RealNamespaceManager) Delete(name string) error         { return errUnsupported }
func (m *RealNamespaceManager) List() ([]string, error)          { return nil, nil }

func (m *RealNamespaceManager) MoveLink(link netlink.Link, ns string) error {
	return errUnsupported
}

func (m *RealNamespaceManager) Netlinker(ns string) (Netlinker, func(), error) {
	return nil, nil, errUnsupported
}

// InNamespace runs fn directly when ns is empty.
func InNamespace(ns string, fn func() error) error {
	if ns == "" {
		return fn()
	}
	return errUnsupported
}
