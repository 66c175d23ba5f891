package vpc

import (
	"grimm.is/vpcctl/internal/naming"
	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/validation"
)

// PublicSubnet is the subnet EnableNat masquerades when no selection is
// given.
const PublicSubnet = "public"

// NatSelection picks the subnets EnableNat masquerades.
type NatSelection struct {
	Subnet string
	All    bool
}

func (s NatSelection) resolve(v *state.VPC) []string {
	var cidrs []string
	for _, sub := range v.Subnets {
		switch {
		case s.All:
		case s.Subnet != "" && sub.Name == s.Subnet:
		case s.Subnet == "" && sub.Name == PublicSubnet:
		default:
			continue
		}
		cidrs = append(cidrs, sub.CIDR)
	}
	return cidrs
}

// EnableNat masquerades the selected subnets out of iface and accepts
// forwarding between the VPC bridge and iface (return traffic only for
// established connections). It replaces the VPC's NAT configuration. When
// the selection matches no subnet nothing changes and the result is nil.
func (c *Controller) EnableNat(name, iface string, sel NatSelection) (nat *state.NatConfig, err error) {
	const op = "enable-nat"
	defer func() { c.metrics.RecordOperation(op, err) }()

	if err := validation.ValidateInterfaceName(iface); err != nil {
		return nil, newError(KindValidation, op, err)
	}
	v, err := c.load(op, name)
	if err != nil {
		return nil, err
	}
	log := c.logger.WithVPC(name)

	cidrs := sel.resolve(v)
	if len(cidrs) == 0 {
		log.Info("no subnets selected for NAT, leaving configuration unchanged", "subnet", sel.Subnet, "all", sel.All)
		return nil, nil
	}

	if err := c.net.EnableForwarding(); err != nil {
		return nil, externalError(op, err)
	}

	natTag := naming.Tag(name, naming.PurposeNAT)
	for _, cidr := range cidrs {
		rule := c.ipt("-t", "nat", "-A", "POSTROUTING", "-s", cidr, "-o", iface, "-j", "MASQUERADE")
		if _, err := c.addRule(v, rule, natTag); err != nil {
			return nil, externalError(op, err)
		}
	}
	out := c.ipt("-A", "FORWARD", "-i", v.Bridge, "-o", iface, "-j", "ACCEPT")
	if _, err := c.addRule(v, out, naming.Tag(name, naming.PurposeFwdOut)); err != nil {
		return nil, externalError(op, err)
	}
	in := c.ipt("-A", "FORWARD", "-i", iface, "-o", v.Bridge, "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT")
	if _, err := c.addRule(v, in, naming.Tag(name, naming.PurposeFwdIn)); err != nil {
		return nil, externalError(op, err)
	}

	v.NAT = &state.NatConfig{Interface: iface, CIDRs: cidrs}
	if err := c.save(op, v); err != nil {
		return nil, err
	}
	log.Info("NAT enabled", "interface", iface, "cidrs", cidrs)
	c.audit("vpc.nat", name, map[string]any{"interface": iface, "cidrs": cidrs})
	return v.NAT, nil
}
