//go:build linux

package network

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NetnsDir is where ip-netns(8) bind-mounts named namespaces.
const NetnsDir = "/var/run/netns"

// RealNamespaceManager manages named namespaces on the host.
type RealNamespaceManager struct {
	dir string
}

// NewRealNamespaceManager creates a manager for NetnsDir.
func NewRealNamespaceManager() *RealNamespaceManager {
	return &RealNamespaceManager{dir: NetnsDir}
}

// Exists checks for the namespace bind mount.
func (m *RealNamespaceManager) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(m.dir, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Create creates a named namespace without leaving the calling thread in it.
func (m *RealNamespaceManager) Create(name string) error {
	// Lock OS thread to ensure we don't switch namespaces on other goroutines
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origns, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get original netns: %w", err)
	}
	defer origns.Close()

	newns, err := netns.NewNamed(name)
	if err != nil {
		return fmt.Errorf("failed to create netns %s: %w", name, err)
	}
	newns.Close()

	if err := netns.Set(origns); err != nil {
		return fmt.Errorf("failed to switch back to original ns: %w", err)
	}
	return nil
}

// Delete unmounts and removes a named namespace.
func (m *RealNamespaceManager) Delete(name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		return fmt.Errorf("failed to delete netns %s: %w", name, err)
	}
	return nil
}

// List returns the named namespaces, sorted.
func (m *RealNamespaceManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// MoveLink moves link into the named namespace.
func (m *RealNamespaceManager) MoveLink(link netlink.Link, ns string) error {
	h, err := netns.GetFromName(ns)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNamespaceNotFound, ns, err)
	}
	defer h.Close()

	if err := netlink.LinkSetNsFd(link, int(h)); err != nil {
		return fmt.Errorf("failed to move %s to ns %s: %w", link.Attrs().Name, ns, err)
	}
	return nil
}

// Netlinker opens a netlink handle inside ns.
func (m *RealNamespaceManager) Netlinker(ns string) (Netlinker, func(), error) {
	h, err := netns.GetFromName(ns)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrNamespaceNotFound, ns, err)
	}
	defer h.Close()

	nh, err := netlink.NewHandleAt(h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open netlink handle in %s: %w", ns, err)
	}
	return &RealNetlinker{Handle: nh}, nh.Close, nil
}

// InNamespace runs fn on a thread switched into ns. Sockets opened by fn
// belong to ns; goroutines it starts do not.
func InNamespace(ns string, fn func() error) error {
	if ns == "" {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origns, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get original netns: %w", err)
	}
	defer origns.Close()

	target, err := netns.GetFromName(ns)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNamespaceNotFound, ns, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("failed to enter netns %s: %w", ns, err)
	}
	fnErr := fn()
	if err := netns.Set(origns); err != nil {
		return fmt.Errorf("failed to return to original ns: %w", err)
	}
	return fnErr
}
