package vpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/naming"
	"grimm.is/vpcctl/internal/network"
)

func TestCreate(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")

	br, ok := h.kernel.Link("", "br-demo")
	require.True(t, ok)
	assert.Equal(t, "bridge", br.Type)
	assert.True(t, br.Up)
	assert.Equal(t, "1", h.kernel.Sysctl(network.IPForwardPath))

	assert.True(t, h.fw.HasChain("", "filter", "vpc-demo"))
	assert.Equal(t, []string{
		"-A FORWARD -i br-demo -m comment --comment vpcctl:demo:jump -j vpc-demo",
	}, h.fw.Rules("", "filter", "FORWARD"))
	assert.Equal(t, []string{
		"-A vpc-demo -s 10.10.0.0/16 -d 10.10.0.0/16 -m comment --comment vpcctl:demo:intra -j ACCEPT",
	}, h.fw.Rules("", "filter", "vpc-demo"))

	v := h.record(t, "demo")
	assert.Equal(t, "br-demo", v.Bridge)
	assert.Equal(t, "vpc-demo", v.Chain)
	assert.Empty(t, v.Subnets)
	assert.Equal(t, [][]string{
		{"iptables", "-I", "FORWARD", "-i", "br-demo", "-m", "comment", "--comment", "vpcctl:demo:jump", "-j", "vpc-demo"},
		{"iptables", "-A", "vpc-demo", "-s", "10.10.0.0/16", "-d", "10.10.0.0/16", "-m", "comment", "--comment", "vpcctl:demo:intra", "-j", "ACCEPT"},
	}, v.HostRules)
}

func TestCreate_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")

	before := h.record(t, "demo")
	rules := h.fw.RuleCount("", "filter")
	links := h.kernel.LinkNames("")

	created, err := h.ctl.Create("demo", "10.10.0.0/16")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, before, h.record(t, "demo"))
	assert.Equal(t, rules, h.fw.RuleCount("", "filter"))
	assert.Equal(t, links, h.kernel.LinkNames(""))
	assert.Equal(t, []string{"vpc-demo"}, h.fw.UserChains("", "filter"))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		vpc  string
		cidr string
	}{
		{"empty cidr", "demo", ""},
		{"garbage", "demo", "not-a-cidr"},
		{"prefix too long", "demo", "10.0.0.0/33"},
		{"host bits", "demo", "10.0.0.1/24"},
		{"ipv6", "demo", "fd00::/64"},
		{"bad name", "de;mo", "10.0.0.0/16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.ctl.Create(tt.vpc, tt.cidr)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Equal(t, 1, ExitCode(err))

			names, _ := h.store.List()
			assert.Empty(t, names)
			assert.Empty(t, h.fw.Calls())
		})
	}
}

func TestCreate_BridgeFailure(t *testing.T) {
	h := newHarness(t)
	h.kernel.FailOn = func(op, name string) error {
		if op == "LinkAdd" && name == "br-demo" {
			return assert.AnError
		}
		return nil
	}

	_, err := h.ctl.Create("demo", "10.10.0.0/16")
	require.Error(t, err)
	assert.Equal(t, KindExternal, KindOf(err))

	exists, err := h.store.Exists("demo")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete_Absent(t *testing.T) {
	h := newHarness(t)

	deleted, err := h.ctl.Delete("ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, h.fw.Calls())
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "alpha", "10.10.0.0/16")
	h.mustCreate(t, "beta", "10.20.0.0/16")
	h.mustSubnet(t, "alpha", "public", "10.10.1.0/24")
	h.mustSubnet(t, "alpha", "private", "10.10.2.0/24")
	h.mustSubnet(t, "beta", "public", "10.20.1.0/24")

	app, err := h.ctl.DeployApp("alpha", "public", 8080)
	require.NoError(t, err)
	_, err = h.ctl.EnableNat("alpha", "eth0", NatSelection{})
	require.NoError(t, err)
	_, err = h.ctl.CreatePeer("alpha", "beta", nil)
	require.NoError(t, err)

	deleted, err := h.ctl.Delete("alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, []int{app.PID}, h.procs.terminated)

	ns, _ := h.kernel.List()
	assert.Equal(t, []string{"ns-beta-public"}, ns)
	assert.False(t, h.kernel.HasLink("", "br-alpha"))
	local, remote := naming.PeerVeths("alpha", "beta")
	assert.False(t, h.kernel.HasLink("", local))
	assert.False(t, h.kernel.HasLink("", remote))

	assert.False(t, h.fw.HasChain("", "filter", "vpc-alpha"))
	assert.Equal(t, []string{
		"-A FORWARD -i br-beta -m comment --comment vpcctl:beta:jump -j vpc-beta",
	}, h.fw.Rules("", "filter", "FORWARD"))
	assert.Empty(t, h.fw.Rules("", "nat", "POSTROUTING"))

	// The peer keeps only its own rules and forgets the peering.
	assert.Equal(t, []string{
		"-A vpc-beta -s 10.20.0.0/16 -d 10.20.0.0/16 -m comment --comment vpcctl:beta:intra -j ACCEPT",
	}, h.fw.Rules("", "filter", "vpc-beta"))
	beta := h.record(t, "beta")
	assert.Empty(t, beta.Peers)
	assert.Len(t, beta.HostRules, 2)

	exists, err := h.store.Exists("alpha")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is a no-op.
	deleted, err = h.ctl.Delete("alpha")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDelete_Drift(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	h.mustSubnet(t, "demo", "public", "10.10.1.0/24")

	// Someone removed the namespace and the chain's rules by hand.
	h.kernel.DeleteNamespace("ns-demo-public")
	require.NoError(t, h.fw.Run("iptables", "-F", "vpc-demo"))

	deleted, err := h.ctl.Delete("demo")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, h.fw.HasChain("", "filter", "vpc-demo"))
	assert.Empty(t, h.fw.Rules("", "filter", "FORWARD"))
	assert.False(t, h.kernel.HasLink("", "br-demo"))
}

func TestDelete_RecordRemovedWhenTeardownFails(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	h.fw.FailOn = func(cmd []string) error {
		if len(cmd) > 1 && (cmd[1] == "-D" || cmd[1] == "-X") {
			return &firewall.CommandError{Command: "iptables", ExitCode: 1, Err: assert.AnError}
		}
		return nil
	}

	deleted, err := h.ctl.Delete("demo")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := h.store.Exists("demo")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCleanupAll(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "alpha", "10.10.0.0/16")
	h.mustCreate(t, "beta", "10.20.0.0/16")
	h.mustSubnet(t, "beta", "public", "10.20.1.0/24")
	_, err := h.ctl.CreatePeer("alpha", "beta", nil)
	require.NoError(t, err)

	deleted, err := h.ctl.CleanupAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, deleted)

	names, err := h.store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Empty(t, h.fw.UserChains("", "filter"))
	assert.Zero(t, h.fw.RuleCount("", "filter"))
	assert.Equal(t, []string{"lo"}, h.kernel.LinkNames(""))

	deleted, err = h.ctl.CleanupAll()
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	h.mustSubnet(t, "demo", "public", "10.10.1.0/24")
	h.mustSubnet(t, "demo", "private", "10.10.2.0/24")

	v := h.record(t, "demo")
	assert.Equal(t, "br-demo", v.Bridge)
	require.Len(t, v.Subnets, 2)
	assert.Equal(t, "10.10.1.1", v.Subnets[0].Gateway)
	assert.Equal(t, "10.10.2.1", v.Subnets[1].Gateway)

	assert.Len(t, h.taggedRules("filter", "FORWARD", "vpcctl:demo:jump"), 1)
	assert.Len(t, h.taggedRules("filter", "vpc-demo", "vpcctl:demo:intra"), 1)

	br, _ := h.kernel.Link("", "br-demo")
	assert.ElementsMatch(t, []string{"10.10.1.1/24", "10.10.2.1/24"}, br.Addrs)
}
