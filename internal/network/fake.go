package network

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// FakeKernel is an in-memory host: links per namespace ("" is the host),
// named namespaces and sysctls. It implements NamespaceManager,
// SystemController and OffloadController; Host returns its host-scope
// Netlinker.
type FakeKernel struct {
	// FailOn may return an error to fail an operation on a named object
	// ("LinkAdd", "br-demo").
	FailOn func(op, name string) error

	mu         sync.Mutex
	links      map[string]map[string]*fakeLink
	namespaces map[string]bool
	sysctls    map[string]string
	offload    map[string]bool
	nextIndex  int
}

type fakeLink struct {
	link   netlink.Link
	up     bool
	master string
	addrs  []string
	routes []string
	peerNS string
	peer   string
}

// LinkState is a snapshot of a fake link.
type LinkState struct {
	Type   string
	Up     bool
	Master string
	Addrs  []string
	Routes []string
}

// NewFakeKernel returns a host with only a loopback.
func NewFakeKernel() *FakeKernel {
	k := &FakeKernel{
		links:      map[string]map[string]*fakeLink{"": {}},
		namespaces: make(map[string]bool),
		sysctls:    make(map[string]string),
		offload:    make(map[string]bool),
	}
	k.addLocked("", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo"}})
	k.links[""]["lo"].up = true
	return k
}

// Host returns a Netlinker for the host namespace.
func (k *FakeKernel) Host() Netlinker {
	return &fakeNetlinker{k: k}
}

func (k *FakeKernel) check(op, name string) error {
	if k.FailOn != nil {
		return k.FailOn(op, name)
	}
	return nil
}

func (k *FakeKernel) addLocked(ns string, link netlink.Link) {
	k.nextIndex++
	link.Attrs().Index = k.nextIndex
	k.links[ns][link.Attrs().Name] = &fakeLink{link: link}
}

func (k *FakeKernel) removeLocked(ns, name string) {
	l, ok := k.links[ns][name]
	if !ok {
		return
	}
	delete(k.links[ns], name)
	for _, other := range k.links[ns] {
		if other.master == name {
			other.master = ""
		}
	}
	if l.peer != "" {
		// Destroying either end of a veth destroys the pair.
		if p, ok := k.links[l.peerNS][l.peer]; ok && p.peer == name {
			k.removeLocked(l.peerNS, l.peer)
		}
	}
}

func (k *FakeKernel) get(ns, name string) (*fakeLink, error) {
	l, ok := k.links[ns][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, name)
	}
	return l, nil
}

// HasLink reports whether a link exists in ns.
func (k *FakeKernel) HasLink(ns, name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.links[ns][name]
	return ok
}

// Link returns a snapshot of a link.
func (k *FakeKernel) Link(ns, name string) (LinkState, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.links[ns][name]
	if !ok {
		return LinkState{}, false
	}
	return LinkState{
		Type:   l.link.Type(),
		Up:     l.up,
		Master: l.master,
		Addrs:  append([]string(nil), l.addrs...),
		Routes: append([]string(nil), l.routes...),
	}, true
}

// LinkNames lists the links of ns, sorted.
func (k *FakeKernel) LinkNames(ns string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for name := range k.links[ns] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sysctl returns a written sysctl value.
func (k *FakeKernel) Sysctl(path string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sysctls[sysctlPath(path)]
}

// OffloadDisabled reports whether TX checksum offload was disabled on iface in ns.
func (k *FakeKernel) OffloadDisabled(ns, iface string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.offload[ns+"/"+iface]
}

// NamespaceManager

func (k *FakeKernel) Exists(name string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.namespaces[name], nil
}

func (k *FakeKernel) Create(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.check("NamespaceCreate", name); err != nil {
		return err
	}
	if k.namespaces[name] {
		return fmt.Errorf("failed to create netns %s: %w", name, unix.EEXIST)
	}
	k.namespaces[name] = true
	k.links[name] = make(map[string]*fakeLink)
	k.addLocked(name, &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo"}})
	return nil
}

func (k *FakeKernel) Delete(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.check("NamespaceDelete", name); err != nil {
		return err
	}
	if !k.namespaces[name] {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
	}
	for linkName := range k.links[name] {
		k.removeLocked(name, linkName)
	}
	delete(k.links, name)
	delete(k.namespaces, name)
	return nil
}

// DeleteNamespace removes a namespace behind the controller's back, as an
// operator running "ip netns del" would.
func (k *FakeKernel) DeleteNamespace(name string) {
	_ = k.Delete(name)
}

func (k *FakeKernel) List() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for n := range k.namespaces {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (k *FakeKernel) MoveLink(link netlink.Link, ns string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	name := link.Attrs().Name
	if err := k.check("MoveLink", name); err != nil {
		return err
	}
	if !k.namespaces[ns] {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	l, err := k.get("", name)
	if err != nil {
		return err
	}
	if _, ok := k.links[ns][name]; ok {
		return fmt.Errorf("failed to move %s to ns %s: %w", name, ns, unix.EEXIST)
	}
	delete(k.links[""], name)
	// The kernel flushes addresses and downs a link on namespace change.
	l.up, l.master, l.addrs, l.routes = false, "", nil, nil
	k.links[ns][name] = l
	if l.peer != "" {
		if p, ok := k.links[l.peerNS][l.peer]; ok {
			p.peerNS = ns
		}
	}
	return nil
}

func (k *FakeKernel) Netlinker(ns string) (Netlinker, func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.namespaces[ns] {
		return nil, nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	return &fakeNetlinker{k: k, ns: ns}, func() {}, nil
}

// SystemController

func (k *FakeKernel) ReadSysctl(path string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.sysctls[sysctlPath(path)]
	if !ok {
		return "0", nil
	}
	return v, nil
}

func (k *FakeKernel) WriteSysctl(path, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.check("WriteSysctl", path); err != nil {
		return err
	}
	k.sysctls[sysctlPath(path)] = value
	return nil
}

func (k *FakeKernel) IsNotExist(err error) bool { return false }

// OffloadController

func (k *FakeKernel) DisableTxChecksum(ns, iface string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.get(ns, iface); err != nil {
		return err
	}
	k.offload[ns+"/"+iface] = true
	return nil
}

type fakeNetlinker struct {
	k  *FakeKernel
	ns string
}

func (n *fakeNetlinker) LinkByName(name string) (netlink.Link, error) {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	l, err := n.k.get(n.ns, name)
	if err != nil {
		return nil, err
	}
	return l.link, nil
}

func (n *fakeNetlinker) LinkList() ([]netlink.Link, error) {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	names := make([]string, 0, len(n.k.links[n.ns]))
	for name := range n.k.links[n.ns] {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]netlink.Link, 0, len(names))
	for _, name := range names {
		out = append(out, n.k.links[n.ns][name].link)
	}
	return out, nil
}

func (n *fakeNetlinker) setUp(link netlink.Link, up bool) error {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	l, err := n.k.get(n.ns, link.Attrs().Name)
	if err != nil {
		return err
	}
	l.up = up
	return nil
}

func (n *fakeNetlinker) LinkSetUp(link netlink.Link) error   { return n.setUp(link, true) }
func (n *fakeNetlinker) LinkSetDown(link netlink.Link) error { return n.setUp(link, false) }

func (n *fakeNetlinker) LinkSetMaster(slave, master netlink.Link) error {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	l, err := n.k.get(n.ns, slave.Attrs().Name)
	if err != nil {
		return err
	}
	if master == nil {
		l.master = ""
		return nil
	}
	m, err := n.k.get(n.ns, master.Attrs().Name)
	if err != nil {
		return err
	}
	if m.link.Type() != "bridge" {
		return fmt.Errorf("%s is not a bridge: %w", master.Attrs().Name, unix.EINVAL)
	}
	l.master = master.Attrs().Name
	return nil
}

func (n *fakeNetlinker) LinkAdd(link netlink.Link) error {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	name := link.Attrs().Name
	if err := n.k.check("LinkAdd", name); err != nil {
		return err
	}
	if _, ok := n.k.links[n.ns][name]; ok {
		return fmt.Errorf("link %s: %w", name, unix.EEXIST)
	}
	if veth, ok := link.(*netlink.Veth); ok {
		if _, exists := n.k.links[n.ns][veth.PeerName]; exists {
			return fmt.Errorf("link %s: %w", veth.PeerName, unix.EEXIST)
		}
		peer := &netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: veth.PeerName}, PeerName: name}
		n.k.addLocked(n.ns, link)
		n.k.addLocked(n.ns, peer)
		n.k.links[n.ns][name].peer, n.k.links[n.ns][name].peerNS = veth.PeerName, n.ns
		n.k.links[n.ns][veth.PeerName].peer, n.k.links[n.ns][veth.PeerName].peerNS = name, n.ns
		return nil
	}
	n.k.addLocked(n.ns, link)
	return nil
}

func (n *fakeNetlinker) LinkDel(link netlink.Link) error {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	name := link.Attrs().Name
	if err := n.k.check("LinkDel", name); err != nil {
		return err
	}
	if _, err := n.k.get(n.ns, name); err != nil {
		return err
	}
	n.k.removeLocked(n.ns, name)
	return nil
}

func (n *fakeNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	l, err := n.k.get(n.ns, link.Attrs().Name)
	if err != nil {
		return nil, err
	}
	var out []netlink.Addr
	for _, s := range l.addrs {
		a, err := netlink.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (n *fakeNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	l, err := n.k.get(n.ns, link.Attrs().Name)
	if err != nil {
		return err
	}
	s := addr.IPNet.String()
	for _, a := range l.addrs {
		if a == s {
			return fmt.Errorf("addr %s: %w", s, unix.EEXIST)
		}
	}
	l.addrs = append(l.addrs, s)
	return nil
}

func (n *fakeNetlinker) RouteAdd(route *netlink.Route) error {
	n.k.mu.Lock()
	defer n.k.mu.Unlock()
	var l *fakeLink
	for _, candidate := range n.k.links[n.ns] {
		if candidate.link.Attrs().Index == route.LinkIndex {
			l = candidate
		}
	}
	if l == nil {
		return fmt.Errorf("route dev index %d: %w", route.LinkIndex, unix.ENODEV)
	}
	dst := "default"
	if route.Dst != nil {
		dst = route.Dst.String()
	}
	s := fmt.Sprintf("%s via %s", dst, route.Gw)
	for _, r := range l.routes {
		if r == s {
			return fmt.Errorf("route %s: %w", s, unix.EEXIST)
		}
	}
	l.routes = append(l.routes, s)
	return nil
}
