package network

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/vishvananda/netlink"
)

// Recorder collects the ip(8) equivalents of previewed operations and
// echoes them as they happen.
type Recorder struct {
	Out io.Writer

	mu  sync.Mutex
	ops []string
}

// NewRecorder echoes to stdout.
func NewRecorder() *Recorder {
	return &Recorder{Out: os.Stdout}
}

func (r *Recorder) record(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.ops = append(r.ops, line)
	r.mu.Unlock()
	if r.Out != nil {
		fmt.Fprintf(r.Out, ">>> %s\n", line)
	}
}

// Ops returns the recorded command lines in order.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

// DryRunNetlinker records netlink mutations. Reads go to Reader, overlaid
// with the links this preview pretends to have added or removed.
type DryRunNetlinker struct {
	Reader    Netlinker
	Rec       *Recorder
	Namespace string

	mu      sync.Mutex
	added   map[string]netlink.Link
	removed map[string]bool
}

// NewDryRunNetlinker creates a host-scope dry-run netlinker.
func NewDryRunNetlinker(reader Netlinker, rec *Recorder) *DryRunNetlinker {
	return &DryRunNetlinker{Reader: reader, Rec: rec}
}

func (n *DryRunNetlinker) log(format string, args ...interface{}) {
	prefix := "ip "
	if n.Namespace != "" {
		prefix = "ip -n " + n.Namespace + " "
	}
	n.Rec.record(prefix+format, args...)
}

func (n *DryRunNetlinker) remember(link netlink.Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.added == nil {
		n.added = make(map[string]netlink.Link)
	}
	name := link.Attrs().Name
	n.added[name] = link
	delete(n.removed, name)
}

func (n *DryRunNetlinker) forget(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.removed == nil {
		n.removed = make(map[string]bool)
	}
	delete(n.added, name)
	n.removed[name] = true
}

func (n *DryRunNetlinker) LinkByName(name string) (netlink.Link, error) {
	n.mu.Lock()
	link, added := n.added[name]
	removed := n.removed[name]
	n.mu.Unlock()

	switch {
	case added:
		return link, nil
	case removed || n.Reader == nil:
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, name)
	}
	return n.Reader.LinkByName(name)
}

func (n *DryRunNetlinker) LinkList() ([]netlink.Link, error) {
	var links []netlink.Link
	if n.Reader != nil {
		live, err := n.Reader.LinkList()
		if err != nil {
			return nil, err
		}
		links = live
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	var out []netlink.Link
	for _, l := range links {
		name := l.Attrs().Name
		if !n.removed[name] && n.added[name] == nil {
			out = append(out, l)
		}
	}
	names := make([]string, 0, len(n.added))
	for name := range n.added {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, n.added[name])
	}
	return out, nil
}

func (n *DryRunNetlinker) LinkSetUp(link netlink.Link) error {
	n.log("link set %s up", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetDown(link netlink.Link) error {
	n.log("link set %s down", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetMaster(slave, master netlink.Link) error {
	n.log("link set %s master %s", slave.Attrs().Name, master.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkAdd(link netlink.Link) error {
	if veth, ok := link.(*netlink.Veth); ok {
		n.log("link add %s type veth peer name %s", veth.Name, veth.PeerName)
		n.remember(link)
		n.remember(&netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: veth.PeerName}, PeerName: veth.Name})
		return nil
	}
	n.log("link add %s type %s", link.Attrs().Name, link.Type())
	n.remember(link)
	return nil
}

func (n *DryRunNetlinker) LinkDel(link netlink.Link) error {
	n.log("link del %s", link.Attrs().Name)
	n.forget(link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	n.mu.Lock()
	_, added := n.added[link.Attrs().Name]
	n.mu.Unlock()
	if added || n.Reader == nil {
		return nil, nil
	}
	return n.Reader.AddrList(link, family)
}

func (n *DryRunNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	n.log("addr add %s dev %s", addr.IPNet.String(), link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) RouteAdd(route *netlink.Route) error {
	if route.Dst == nil {
		n.log("route add default via %s", route.Gw)
	} else {
		n.log("route add %s via %s", route.Dst, route.Gw)
	}
	return nil
}

// DryRunNamespaceManager records namespace mutations.
type DryRunNamespaceManager struct {
	Reader NamespaceManager
	Rec    *Recorder

	mu      sync.Mutex
	created map[string]bool
	deleted map[string]bool
	linkers map[string]*DryRunNetlinker
}

// NewDryRunNamespaceManager creates a dry-run namespace manager.
func NewDryRunNamespaceManager(reader NamespaceManager, rec *Recorder) *DryRunNamespaceManager {
	return &DryRunNamespaceManager{
		Reader:  reader,
		Rec:     rec,
		created: make(map[string]bool),
		deleted: make(map[string]bool),
		linkers: make(map[string]*DryRunNetlinker),
	}
}

func (m *DryRunNamespaceManager) Exists(name string) (bool, error) {
	m.mu.Lock()
	created, deleted := m.created[name], m.deleted[name]
	m.mu.Unlock()
	switch {
	case created:
		return true, nil
	case deleted || m.Reader == nil:
		return false, nil
	}
	return m.Reader.Exists(name)
}

func (m *DryRunNamespaceManager) Create(name string) error {
	m.Rec.record("ip netns add %s", name)
	m.mu.Lock()
	m.created[name] = true
	delete(m.deleted, name)
	m.mu.Unlock()
	return nil
}

func (m *DryRunNamespaceManager) Delete(name string) error {
	m.Rec.record("ip netns del %s", name)
	m.mu.Lock()
	m.deleted[name] = true
	delete(m.created, name)
	delete(m.linkers, name)
	m.mu.Unlock()
	return nil
}

func (m *DryRunNamespaceManager) List() ([]string, error) {
	var names []string
	if m.Reader != nil {
		live, err := m.Reader.List()
		if err != nil {
			return nil, err
		}
		names = live
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if !m.deleted[n] {
			out = append(out, n)
			seen[n] = true
		}
	}
	for n := range m.created {
		if !seen[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *DryRunNamespaceManager) MoveLink(link netlink.Link, ns string) error {
	m.Rec.record("ip link set %s netns %s", link.Attrs().Name, ns)
	nl, release, err := m.Netlinker(ns)
	if err != nil {
		return err
	}
	defer release()
	nl.(*DryRunNetlinker).remember(link)
	return nil
}

// Netlinker returns a recording netlinker for ns. Namespaces that exist on
// the host are read through Reader.
func (m *DryRunNamespaceManager) Netlinker(ns string) (Netlinker, func(), error) {
	m.mu.Lock()
	if nl, ok := m.linkers[ns]; ok {
		m.mu.Unlock()
		return nl, func() {}, nil
	}
	created := m.created[ns]
	m.mu.Unlock()

	nl := &DryRunNetlinker{Rec: m.Rec, Namespace: ns}
	if created {
		nl.remember(&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo"}})
	}
	if !created && m.Reader != nil {
		if ok, _ := m.Reader.Exists(ns); ok {
			// The reader handle stays open for the rest of the preview.
			if reader, _, err := m.Reader.Netlinker(ns); err == nil {
				nl.Reader = reader
			}
		}
	}

	m.mu.Lock()
	m.linkers[ns] = nl
	m.mu.Unlock()
	return nl, func() {}, nil
}

// DryRunSystemController records sysctl writes.
type DryRunSystemController struct {
	Reader SystemController
	Rec    *Recorder
}

func (s *DryRunSystemController) ReadSysctl(path string) (string, error) {
	if s.Reader == nil {
		return "0", nil
	}
	return s.Reader.ReadSysctl(path)
}

func (s *DryRunSystemController) WriteSysctl(path, value string) error {
	s.Rec.record("sysctl -w %s=%s", sysctlKey(path), value)
	return nil
}

func (s *DryRunSystemController) IsNotExist(err error) bool {
	return false
}

// DryRunOffload records offload changes.
type DryRunOffload struct {
	Rec *Recorder
}

func (o DryRunOffload) DisableTxChecksum(ns, iface string) error {
	if ns != "" {
		o.Rec.record("ip netns exec %s ethtool -K %s tx off", ns, iface)
	} else {
		o.Rec.record("ethtool -K %s tx off", iface)
	}
	return nil
}
