package vpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpcctl/internal/naming"
	"grimm.is/vpcctl/internal/state"
)

func peeredHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.mustCreate(t, "alpha", "10.0.0.0/16")
	h.mustCreate(t, "beta", "10.1.0.0/16")
	h.mustSubnet(t, "alpha", "public", "10.0.1.0/24")
	h.mustSubnet(t, "beta", "public", "10.1.1.0/24")
	return h
}

func TestCreatePeer_FanOut(t *testing.T) {
	h := peeredHarness(t)

	res, err := h.ctl.CreatePeer("alpha", "beta", []string{"10.0.1.0/24", "10.1.1.0/24"})
	require.NoError(t, err)
	assert.True(t, res.LinksCreated)
	assert.Equal(t, 10, res.RulesAdded)

	accept := naming.Tag("alpha/beta", naming.PurposePeer)
	drop := naming.Tag("alpha/beta", naming.PurposePeerDrop)

	total := 0
	for _, side := range []struct{ chain, peerBridge string }{
		{"vpc-alpha", "br-beta"},
		{"vpc-beta", "br-alpha"},
	} {
		accepts := h.taggedRules("filter", side.chain, accept)
		drops := h.taggedRules("filter", side.chain, drop)
		assert.Len(t, accepts, 4, side.chain)
		assert.Len(t, drops, 1, side.chain)
		total += len(accepts) + len(drops)

		for _, r := range accepts {
			assert.Contains(t, r, "-o "+side.peerBridge+" ")
		}
		rules := h.fw.Rules("", "filter", side.chain)
		assert.Equal(t, "-A "+side.chain+" -o "+side.peerBridge+" -m comment --comment "+drop+" -j DROP", rules[len(rules)-1])
	}
	assert.Equal(t, 10, total)

	assert.Contains(t, h.fw.Rules("", "filter", "vpc-alpha"),
		"-A vpc-alpha -o br-beta -s 10.1.1.0/24 -d 10.0.1.0/24 -m comment --comment vpcctl:alpha/beta:peer -j ACCEPT")

	local, remote := naming.PeerVeths("alpha", "beta")
	a := h.record(t, "alpha")
	b := h.record(t, "beta")
	assert.Equal(t, []state.Peering{{PeerVPC: "beta", LocalVeth: local, RemoteVeth: remote, Allowed: []string{"10.0.1.0/24", "10.1.1.0/24"}}}, a.Peers)
	assert.Equal(t, []state.Peering{{PeerVPC: "alpha", LocalVeth: remote, RemoteVeth: local, Allowed: []string{"10.0.1.0/24", "10.1.1.0/24"}}}, b.Peers)

	la, ok := h.kernel.Link("", local)
	require.True(t, ok)
	assert.Equal(t, "br-alpha", la.Master)
	assert.True(t, la.Up)
	lb, ok := h.kernel.Link("", remote)
	require.True(t, ok)
	assert.Equal(t, "br-beta", lb.Master)
}

func TestCreatePeer_DefaultsToVPCCIDRs(t *testing.T) {
	h := peeredHarness(t)

	res, err := h.ctl.CreatePeer("beta", "alpha", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.0.0/16", "10.0.0.0/16"}, res.Allowed)

	// Scope and link names do not depend on argument order.
	local, _ := naming.PeerVeths("alpha", "beta")
	assert.Equal(t, local, res.RemoteVeth)
	assert.Len(t, h.taggedRules("filter", "vpc-alpha", "vpcctl:alpha/beta:peer"), 4)
}

func TestCreatePeer_Idempotent(t *testing.T) {
	h := peeredHarness(t)
	_, err := h.ctl.CreatePeer("alpha", "beta", nil)
	require.NoError(t, err)
	rules := h.fw.RuleCount("", "filter")

	res, err := h.ctl.CreatePeer("alpha", "beta", nil)
	require.NoError(t, err)
	assert.False(t, res.LinksCreated)
	assert.Zero(t, res.RulesAdded)
	assert.Equal(t, rules, h.fw.RuleCount("", "filter"))
	assert.Len(t, h.record(t, "alpha").Peers, 1)
	assert.Len(t, h.record(t, "beta").Peers, 1)
}

func TestCreatePeer_DropStaysLast(t *testing.T) {
	h := peeredHarness(t)
	_, err := h.ctl.CreatePeer("alpha", "beta", []string{"10.0.1.0/24"})
	require.NoError(t, err)

	_, err = h.ctl.CreatePeer("alpha", "beta", []string{"10.0.1.0/24", "10.1.1.0/24"})
	require.NoError(t, err)

	rules := h.fw.Rules("", "filter", "vpc-alpha")
	assert.True(t, strings.HasSuffix(rules[len(rules)-1], "-j DROP"))
	assert.Len(t, h.taggedRules("filter", "vpc-alpha", "vpcctl:alpha/beta:peer-drop"), 1)

	drops := 0
	for _, r := range h.record(t, "alpha").HostRules {
		if r[len(r)-1] == "DROP" {
			drops++
		}
	}
	assert.Equal(t, 1, drops)
}

func TestCreatePeer_Errors(t *testing.T) {
	h := peeredHarness(t)

	_, err := h.ctl.CreatePeer("alpha", "alpha", nil)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = h.ctl.CreatePeer("alpha", "gamma", nil)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.ctl.CreatePeer("alpha", "beta", []string{"10.0.1.0/24", "nope"})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Empty(t, h.record(t, "alpha").Peers)
}

func TestEnableNat(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	h.mustSubnet(t, "demo", "public", "10.10.1.0/24")
	h.mustSubnet(t, "demo", "private", "10.10.2.0/24")

	nat, err := h.ctl.EnableNat("demo", "eth0", NatSelection{})
	require.NoError(t, err)
	require.NotNil(t, nat)
	assert.Equal(t, "eth0", nat.Interface)
	assert.Equal(t, []string{"10.10.1.0/24"}, nat.CIDRs)

	assert.Equal(t, []string{
		"-A POSTROUTING -s 10.10.1.0/24 -o eth0 -m comment --comment vpcctl:demo:nat -j MASQUERADE",
	}, h.fw.Rules("", "nat", "POSTROUTING"))
	assert.Len(t, h.taggedRules("filter", "FORWARD", "vpcctl:demo:fwd-out"), 1)
	assert.Equal(t, []string{
		"-A FORWARD -i eth0 -o br-demo -m state --state ESTABLISHED,RELATED -m comment --comment vpcctl:demo:fwd-in -j ACCEPT",
	}, h.taggedRules("filter", "FORWARD", "vpcctl:demo:fwd-in"))

	v := h.record(t, "demo")
	assert.Equal(t, nat, v.NAT)
	assert.Len(t, v.HostRules, 5)
}

func TestEnableNat_Selection(t *testing.T) {
	tests := []struct {
		name string
		sel  NatSelection
		want []string
	}{
		{"all", NatSelection{All: true}, []string{"10.10.1.0/24", "10.10.2.0/24"}},
		{"named", NatSelection{Subnet: "private"}, []string{"10.10.2.0/24"}},
		{"unknown subnet", NatSelection{Subnet: "dmz"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mustCreate(t, "demo", "10.10.0.0/16")
			h.mustSubnet(t, "demo", "public", "10.10.1.0/24")
			h.mustSubnet(t, "demo", "private", "10.10.2.0/24")

			nat, err := h.ctl.EnableNat("demo", "eth0", tt.sel)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, nat)
				assert.Nil(t, h.record(t, "demo").NAT)
				assert.Empty(t, h.fw.Rules("", "nat", "POSTROUTING"))
				return
			}
			assert.Equal(t, tt.want, nat.CIDRs)
			assert.Len(t, h.fw.Rules("", "nat", "POSTROUTING"), len(tt.want))
		})
	}
}

func TestEnableNat_NoPublicSubnetKeepsConfig(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "demo", "10.10.0.0/16")
	h.mustSubnet(t, "demo", "private", "10.10.2.0/24")
	_, err := h.ctl.EnableNat("demo", "eth0", NatSelection{Subnet: "private"})
	require.NoError(t, err)

	nat, err := h.ctl.EnableNat("demo", "eth1", NatSelection{})
	require.NoError(t, err)
	assert.Nil(t, nat)
	assert.Equal(t, "eth0", h.record(t, "demo").NAT.Interface)
}

func TestEnableNat_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctl.EnableNat("ghost", "eth0", NatSelection{})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.ctl.EnableNat("ghost", "eth0; rm", NatSelection{})
	assert.Equal(t, KindValidation, KindOf(err))
}
