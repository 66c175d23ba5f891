package state

import (
	"encoding/json"
	"slices"
	"time"
)

// VPC is the persisted record of one virtual network. Its existence in a
// Store is the only thing that makes a VPC "exist"; kernel objects may lag.
type VPC struct {
	Name      string        `json:"name"`
	CIDR      string        `json:"cidr"`
	Bridge    string        `json:"bridge"`
	Chain     string        `json:"chain"`
	Subnets   []Subnet      `json:"subnets"`
	Peers     []Peering     `json:"peers"`
	Apps      []AppInstance `json:"apps"`
	NAT       *NatConfig    `json:"nat,omitempty"`
	HostRules [][]string    `json:"host_iptables"`
	CreatedAt time.Time     `json:"created_at"`
}

// Subnet is one namespace attached to the VPC bridge.
type Subnet struct {
	Name      string `json:"name"`
	CIDR      string `json:"cidr"`
	Namespace string `json:"namespace"`
	Gateway   string `json:"gateway"`
	HostIP    string `json:"host_ip"`
	Veth      string `json:"veth"`
}

// Peering links this VPC's bridge to PeerVPC's bridge. LocalVeth is attached
// to this VPC's bridge.
type Peering struct {
	PeerVPC    string   `json:"peer_vpc"`
	LocalVeth  string   `json:"veth_a"`
	RemoteVeth string   `json:"veth_b"`
	Allowed    []string `json:"allowed"`
}

// NatConfig is the single live masquerade configuration of a VPC.
type NatConfig struct {
	Interface string   `json:"interface"`
	CIDRs     []string `json:"cidrs"`
}

// AppInstance is a background process launched inside a subnet namespace.
type AppInstance struct {
	ID        string    `json:"id"`
	Namespace string    `json:"ns"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Cmd       []string  `json:"cmd"`
	LogFile   string    `json:"log_file,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// NewVPC returns an empty record with non-nil lists so the stored document
// always carries [] rather than null.
func NewVPC(name, cidr, bridge, chain string) *VPC {
	return &VPC{
		Name:      name,
		CIDR:      cidr,
		Bridge:    bridge,
		Chain:     chain,
		Subnets:   []Subnet{},
		Peers:     []Peering{},
		Apps:      []AppInstance{},
		HostRules: [][]string{},
	}
}

func (v *VPC) normalize() {
	if v.Subnets == nil {
		v.Subnets = []Subnet{}
	}
	if v.Peers == nil {
		v.Peers = []Peering{}
	}
	if v.Apps == nil {
		v.Apps = []AppInstance{}
	}
	if v.HostRules == nil {
		v.HostRules = [][]string{}
	}
}

// Clone returns a deep copy.
func (v *VPC) Clone() *VPC {
	data, err := json.Marshal(v)
	if err != nil {
		panic("state: VPC record is not serializable: " + err.Error())
	}
	var out VPC
	if err := json.Unmarshal(data, &out); err != nil {
		panic("state: VPC record round-trip failed: " + err.Error())
	}
	out.normalize()
	return &out
}

// Subnet returns the index of the named subnet, or -1.
func (v *VPC) Subnet(name string) int {
	return slices.IndexFunc(v.Subnets, func(s Subnet) bool { return s.Name == name })
}

// SubnetByCIDR returns the index of the subnet with the given CIDR, or -1.
func (v *VPC) SubnetByCIDR(cidr string) int {
	return slices.IndexFunc(v.Subnets, func(s Subnet) bool { return s.CIDR == cidr })
}

// Peer returns the index of the peering with peer, or -1.
func (v *VPC) Peer(peer string) int {
	return slices.IndexFunc(v.Peers, func(p Peering) bool { return p.PeerVPC == peer })
}

// HasRule reports whether rule is already in the ledger.
func (v *VPC) HasRule(rule []string) bool {
	return slices.ContainsFunc(v.HostRules, func(r []string) bool { return slices.Equal(r, rule) })
}

// RecordRule appends rule to the ledger unless an identical entry exists.
func (v *VPC) RecordRule(rule []string) {
	if rule == nil || v.HasRule(rule) {
		return
	}
	v.HostRules = append(v.HostRules, slices.Clone(rule))
}

// DropRules removes every ledger entry for which match returns true and
// returns the removed entries in ledger order.
func (v *VPC) DropRules(match func([]string) bool) [][]string {
	var removed [][]string
	kept := v.HostRules[:0]
	for _, r := range v.HostRules {
		if match(r) {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	v.HostRules = kept
	return removed
}
