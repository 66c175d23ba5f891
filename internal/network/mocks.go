package network

import (
	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

// MockNetlinker records netlink calls for tests that need to assert the
// exact sequence issued against the kernel. Most tests use FakeKernel.
type MockNetlinker struct{ mock.Mock }

// MockSystemController stubs sysctl access.
type MockSystemController struct{ mock.Mock }

// value extracts the i-th return value, treating a nil entry as T's zero
// value so expectations can use a bare nil.
func value[T any](args mock.Arguments, i int) T {
	var zero T
	if v, ok := args.Get(i).(T); ok {
		return v
	}
	return zero
}

func (m *MockNetlinker) LinkByName(name string) (netlink.Link, error) {
	r := m.Called(name)
	return value[netlink.Link](r, 0), r.Error(1)
}

func (m *MockNetlinker) LinkList() ([]netlink.Link, error) {
	r := m.Called()
	return value[[]netlink.Link](r, 0), r.Error(1)
}

func (m *MockNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	r := m.Called(link, family)
	return value[[]netlink.Addr](r, 0), r.Error(1)
}

func (m *MockNetlinker) LinkSetUp(link netlink.Link) error   { return m.Called(link).Error(0) }
func (m *MockNetlinker) LinkSetDown(link netlink.Link) error { return m.Called(link).Error(0) }
func (m *MockNetlinker) LinkAdd(link netlink.Link) error     { return m.Called(link).Error(0) }
func (m *MockNetlinker) LinkDel(link netlink.Link) error     { return m.Called(link).Error(0) }
func (m *MockNetlinker) RouteAdd(route *netlink.Route) error { return m.Called(route).Error(0) }

func (m *MockNetlinker) LinkSetMaster(link, master netlink.Link) error {
	return m.Called(link, master).Error(0)
}

func (m *MockNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return m.Called(link, addr).Error(0)
}

func (m *MockSystemController) ReadSysctl(path string) (string, error) {
	r := m.Called(path)
	return r.String(0), r.Error(1)
}

func (m *MockSystemController) WriteSysctl(path, value string) error {
	return m.Called(path, value).Error(0)
}

func (m *MockSystemController) IsNotExist(err error) bool { return m.Called(err).Bool(0) }

var (
	_ Netlinker        = (*MockNetlinker)(nil)
	_ SystemController = (*MockSystemController)(nil)
)
