package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/logging"
)

// Manager provisions bridges, veth pairs and namespaces. Every mutating
// method first checks live state, so repeating a call is harmless.
type Manager struct {
	nl      Netlinker
	sys     SystemController
	ns      NamespaceManager
	offload OffloadController
	retry   firewall.Backoff
	logger  *logging.Logger
}

// NewManagerWithDeps creates a new manager with injected dependencies.
// offload may be nil.
func NewManagerWithDeps(nl Netlinker, sys SystemController, ns NamespaceManager, offload OffloadController) *Manager {
	return &Manager{
		nl:      nl,
		sys:     sys,
		ns:      ns,
		offload: offload,
		retry:   firewall.Backoff{Attempts: 5, Delay: 20 * time.Millisecond, Max: 200 * time.Millisecond},
		logger:  logging.WithComponent("netns"),
	}
}

// EnableForwarding turns on IPv4 forwarding.
func (m *Manager) EnableForwarding() error {
	if err := m.sys.WriteSysctl(IPForwardPath, "1"); err != nil {
		return fmt.Errorf("failed to set net.ipv4.ip_forward: %w", err)
	}
	return nil
}

// waitLink looks a link up, retrying briefly while the kernel catches up
// with a creation.
func (m *Manager) waitLink(nl Netlinker, name string) (netlink.Link, error) {
	var link netlink.Link
	err := m.retry.Do(context.Background(), func() error {
		l, err := nl.LinkByName(name)
		if err != nil {
			if IsLinkNotFound(err) {
				return firewall.Temporary(err)
			}
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find link %s: %w", name, err)
	}
	return link, nil
}

// LinkExists reports whether a host link exists.
func (m *Manager) LinkExists(name string) (bool, error) {
	_, err := m.nl.LinkByName(name)
	if err == nil {
		return true, nil
	}
	if IsLinkNotFound(err) {
		return false, nil
	}
	return false, err
}

// ListLinks returns the names of host links starting with prefix, sorted.
func (m *Manager) ListLinks(prefix string) ([]string, error) {
	links, err := m.nl.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	var names []string
	for _, l := range links {
		if name := l.Attrs().Name; strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// EnsureBridge creates the bridge unless present and brings it up.
func (m *Manager) EnsureBridge(name string) (created bool, err error) {
	exists, err := m.LinkExists(name)
	if err != nil {
		return false, err
	}
	if !exists {
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
		if err := m.nl.LinkAdd(br); err != nil {
			return false, fmt.Errorf("failed to create bridge %s: %w", name, err)
		}
		created = true
		m.logger.Info("bridge created", "bridge", name)
	}

	link, err := m.waitLink(m.nl, name)
	if err != nil {
		return created, err
	}
	if err := m.nl.LinkSetUp(link); err != nil {
		return created, fmt.Errorf("failed to bring up bridge %s: %w", name, err)
	}
	return created, nil
}

// DeleteLink brings a host link down and deletes it. An absent link is not
// an error; the result reports whether anything was deleted.
func (m *Manager) DeleteLink(name string) (bool, error) {
	link, err := m.nl.LinkByName(name)
	if err != nil {
		if IsLinkNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := m.nl.LinkSetDown(link); err != nil {
		m.logger.Warn("failed to bring link down", "link", name, "error", err)
	}
	if err := m.nl.LinkDel(link); err != nil {
		return false, fmt.Errorf("failed to delete link %s: %w", name, err)
	}
	return true, nil
}

// EnsureVethPair creates the pair a<->b unless either end already exists.
func (m *Manager) EnsureVethPair(a, b string) (created bool, err error) {
	for _, name := range []string{a, b} {
		exists, err := m.LinkExists(name)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	veth := &netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: a}, PeerName: b}
	if err := m.nl.LinkAdd(veth); err != nil {
		return false, fmt.Errorf("failed to create veth pair %s/%s: %w", a, b, err)
	}
	return true, nil
}

// AttachToBridge enslaves a host link to bridge and brings it up.
func (m *Manager) AttachToBridge(name, bridge string) error {
	link, err := m.waitLink(m.nl, name)
	if err != nil {
		return err
	}
	br, err := m.nl.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("failed to find bridge %s: %w", bridge, err)
	}
	if err := m.nl.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", name, bridge, err)
	}
	if err := m.nl.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	m.disableOffload("", name)
	return nil
}

// AddAddress assigns cidr (address/prefix) to a host link. An address that
// is already assigned is not an error.
func (m *Manager) AddAddress(name, cidr string) error {
	return m.addAddress(m.nl, name, cidr)
}

func (m *Manager) addAddress(nl Netlinker, name, cidr string) error {
	link, err := nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to find link %s: %w", name, err)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", cidr, err)
	}
	if err := nl.AddrAdd(link, addr); err != nil {
		if errors.Is(err, unix.EEXIST) {
			m.logger.Debug("address already assigned", "link", name, "addr", cidr)
			return nil
		}
		return fmt.Errorf("failed to add %s to %s: %w", cidr, name, err)
	}
	return nil
}

// NamespaceExists reports whether a named namespace exists.
func (m *Manager) NamespaceExists(name string) (bool, error) {
	return m.ns.Exists(name)
}

// EnsureNamespace creates a named namespace unless present.
func (m *Manager) EnsureNamespace(name string) (created bool, err error) {
	exists, err := m.ns.Exists(name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := m.ns.Create(name); err != nil {
		return false, err
	}
	m.logger.Info("namespace created", "ns", name)
	return true, nil
}

// DeleteNamespace deletes a named namespace and with it every interface
// inside. An absent namespace is not an error.
func (m *Manager) DeleteNamespace(name string) (bool, error) {
	exists, err := m.ns.Exists(name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := m.ns.Delete(name); err != nil {
		return false, err
	}
	return true, nil
}

// ListNamespaces returns the named namespaces starting with prefix.
func (m *Manager) ListNamespaces(prefix string) ([]string, error) {
	all, err := m.ns.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	var out []string
	for _, n := range all {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// HostConfig is the in-namespace side of a subnet attachment.
type HostConfig struct {
	Link    string       // veth end to move into the namespace
	Address netip.Prefix // host address with the subnet's prefix length
	Gateway netip.Addr   // default route
}

// ConfigureNamespaceEnd moves cfg.Link into ns (unless it is there already),
// assigns the host address, brings it and loopback up and installs the
// default route.
func (m *Manager) ConfigureNamespaceEnd(ns string, cfg HostConfig) error {
	nsl, release, err := m.ns.Netlinker(ns)
	if err != nil {
		return err
	}
	defer release()

	if _, err := nsl.LinkByName(cfg.Link); err != nil {
		if !IsLinkNotFound(err) {
			return err
		}
		link, err := m.waitLink(m.nl, cfg.Link)
		if err != nil {
			return err
		}
		if err := m.ns.MoveLink(link, ns); err != nil {
			return err
		}
	}

	link, err := m.waitLink(nsl, cfg.Link)
	if err != nil {
		return err
	}
	if err := m.addAddress(nsl, cfg.Link, cfg.Address.String()); err != nil {
		return err
	}
	if err := nsl.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s in %s: %w", cfg.Link, ns, err)
	}
	if lo, err := nsl.LinkByName("lo"); err == nil {
		if err := nsl.LinkSetUp(lo); err != nil {
			return fmt.Errorf("failed to bring up loopback in %s: %w", ns, err)
		}
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Scope:     netlink.SCOPE_UNIVERSE,
		Gw:        net.IP(cfg.Gateway.AsSlice()),
	}
	if err := nsl.RouteAdd(route); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("failed to add default route via %s in %s: %w", cfg.Gateway, ns, err)
	}
	m.disableOffload(ns, cfg.Link)
	return nil
}

func (m *Manager) disableOffload(ns, name string) {
	if m.offload == nil {
		return
	}
	if err := m.offload.DisableTxChecksum(ns, name); err != nil {
		m.logger.Debug("failed to disable tx checksum offload", "link", name, "ns", ns, "error", err)
	}
}
