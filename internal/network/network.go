package network

import (
	"errors"

	"github.com/vishvananda/netlink"
)

var (
	// ErrLinkNotFound is returned by non-kernel Netlinkers for absent links.
	ErrLinkNotFound = errors.New("link not found")
	// ErrNamespaceNotFound is returned for absent named namespaces.
	ErrNamespaceNotFound = errors.New("network namespace not found")
)

// Netlinker is an interface that abstracts netlink interactions.
// This allows for mocking netlink calls during unit testing.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMaster(slave, master netlink.Link) error
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error

	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error

	RouteAdd(route *netlink.Route) error
}

// NamespaceManager manages named network namespaces (the ones ip-netns(8)
// lists under /var/run/netns).
type NamespaceManager interface {
	Exists(name string) (bool, error)
	Create(name string) error
	Delete(name string) error
	List() ([]string, error)
	// MoveLink moves a host link into the namespace.
	MoveLink(link netlink.Link, ns string) error
	// Netlinker returns a Netlinker bound to the namespace and a function
	// releasing it.
	Netlinker(ns string) (Netlinker, func(), error)
}

// SystemController is an interface that abstracts system-level operations like sysctl.
type SystemController interface {
	ReadSysctl(path string) (string, error)
	WriteSysctl(path, value string) error
	IsNotExist(err error) bool
}

// OffloadController toggles NIC offload features.
type OffloadController interface {
	DisableTxChecksum(ns, iface string) error
}

// IsLinkNotFound reports whether err means the link does not exist.
func IsLinkNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf netlink.LinkNotFoundError
	return errors.Is(err, ErrLinkNotFound) || errors.As(err, &nf)
}
