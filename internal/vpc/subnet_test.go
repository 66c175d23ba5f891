package vpc

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	tests := []struct {
		name     string
		cidr     string
		gateway  string
		wantGW   string
		wantHost string
		wantErr  bool
	}{
		{"default /24", "10.0.1.0/24", "", "10.0.1.1", "10.0.1.2", false},
		{"default /30", "192.168.0.4/30", "", "192.168.0.5", "192.168.0.6", false},
		{"explicit gateway", "10.0.1.0/24", "10.0.1.254", "10.0.1.254", "10.0.1.1", false},
		{"explicit first address", "10.0.1.0/24", "10.0.1.1", "10.0.1.1", "10.0.1.2", false},
		{"gateway outside", "10.0.1.0/24", "10.0.2.1", "", "", true},
		{"gateway invalid", "10.0.1.0/24", "gw", "", "", true},
		{"too small", "10.0.1.0/31", "", "", "", true},
		{"single host", "10.0.1.7/32", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, host, err := allocate(netip.MustParsePrefix(tt.cidr), tt.gateway)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGW, gw.String())
			assert.Equal(t, tt.wantHost, host.String())
		})
	}
}

func TestAddSubnet(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.0.0.0/16")

	res, err := h.ctl.AddSubnet("demo", "public", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)
	assert.Equal(t, SubnetCreated, res.Status)
	assert.Equal(t, "10.0.1.1", res.Subnet.Gateway)
	assert.Equal(t, "10.0.1.2", res.Subnet.HostIP)
	assert.Equal(t, "ns-demo-public", res.Subnet.Namespace)
	assert.Equal(t, "v-demo-public", res.Subnet.Veth)

	exists, _ := h.kernel.Exists("ns-demo-public")
	assert.True(t, exists)

	inside, ok := h.kernel.Link("ns-demo-public", "v-demo-public")
	require.True(t, ok)
	assert.True(t, inside.Up)
	assert.Equal(t, []string{"10.0.1.2/24"}, inside.Addrs)
	assert.Equal(t, []string{"default via 10.0.1.1"}, inside.Routes)

	lo, ok := h.kernel.Link("ns-demo-public", "lo")
	require.True(t, ok)
	assert.True(t, lo.Up)

	bridgeEnd, ok := h.kernel.Link("", "vbr-demo-public")
	require.True(t, ok)
	assert.Equal(t, "br-demo", bridgeEnd.Master)
	assert.True(t, bridgeEnd.Up)
	assert.False(t, h.kernel.HasLink("", "v-demo-public"))

	br, _ := h.kernel.Link("", "br-demo")
	assert.Equal(t, []string{"10.0.1.1/24"}, br.Addrs)

	v := h.record(t, "demo")
	require.Len(t, v.Subnets, 1)
	assert.Equal(t, res.Subnet, v.Subnets[0])
}

func TestAddSubnet_ExplicitGateway(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.0.0.0/16")

	res, err := h.ctl.AddSubnet("demo", "db", "10.0.9.0/24", SubnetOptions{Gateway: "10.0.9.1"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.9.1", res.Subnet.Gateway)
	assert.Equal(t, "10.0.9.2", res.Subnet.HostIP)

	_, err = h.ctl.AddSubnet("demo", "web", "10.0.8.0/24", SubnetOptions{Gateway: "10.1.8.1"})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestAddSubnet_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.0.0.0/16")
	h.mustSubnet(t, "demo", "public", "10.0.1.0/24")
	links := h.kernel.LinkNames("")

	res, err := h.ctl.AddSubnet("demo", "public", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)
	assert.Equal(t, SubnetExists, res.Status)
	assert.Len(t, h.record(t, "demo").Subnets, 1)
	assert.Equal(t, links, h.kernel.LinkNames(""))
}

func TestAddSubnet_RepairsMissingNamespace(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.0.0.0/16")
	h.mustSubnet(t, "demo", "public", "10.0.1.0/24")
	h.mustSubnet(t, "demo", "private", "10.0.2.0/24")

	h.kernel.DeleteNamespace("ns-demo-public")
	require.False(t, h.kernel.HasLink("", "vbr-demo-public"))

	res, err := h.ctl.AddSubnet("demo", "public", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)
	assert.Equal(t, SubnetRepaired, res.Status)

	exists, _ := h.kernel.Exists("ns-demo-public")
	assert.True(t, exists)
	inside, ok := h.kernel.Link("ns-demo-public", "v-demo-public")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.1.2/24"}, inside.Addrs)
	bridgeEnd, _ := h.kernel.Link("", "vbr-demo-public")
	assert.Equal(t, "br-demo", bridgeEnd.Master)

	v := h.record(t, "demo")
	require.Len(t, v.Subnets, 2)
	assert.Equal(t, "public", v.Subnets[0].Name)
	assert.Equal(t, "private", v.Subnets[1].Name)
}

func TestAddSubnet_Errors(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.0.0.0/16")

	_, err := h.ctl.AddSubnet("ghost", "public", "10.0.1.0/24", SubnetOptions{})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.ctl.AddSubnet("demo", "public", "10.0.1.0/40", SubnetOptions{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	h.kernel.FailOn = func(op, name string) error {
		if op == "NamespaceCreate" {
			return assert.AnError
		}
		return nil
	}
	_, err = h.ctl.AddSubnet("demo", "public", "10.0.1.0/24", SubnetOptions{})
	require.Error(t, err)
	assert.Equal(t, KindExternal, KindOf(err))
	assert.Empty(t, h.record(t, "demo").Subnets)
}
