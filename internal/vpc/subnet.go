package vpc

import (
	"fmt"
	"net/netip"

	"grimm.is/vpcctl/internal/naming"
	"grimm.is/vpcctl/internal/network"
	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/validation"
)

// SubnetStatus says what AddSubnet did.
type SubnetStatus string

const (
	SubnetCreated  SubnetStatus = "created"
	SubnetRepaired SubnetStatus = "repaired"
	SubnetExists   SubnetStatus = "exists"
)

// SubnetOptions are the optional AddSubnet inputs.
type SubnetOptions struct {
	// Gateway overrides the first usable address as the bridge address.
	Gateway string
	// PolicyFile is merged with the configured default policy and applied
	// to the new subnet.
	PolicyFile string
}

// SubnetResult is the outcome of AddSubnet.
type SubnetResult struct {
	Subnet state.Subnet
	Status SubnetStatus
}

// AddSubnet attaches a namespace to the VPC bridge. A recorded subnet whose
// namespace is live is left alone; one whose namespace is gone is rebuilt
// and its record updated in place.
func (c *Controller) AddSubnet(vpcName, name, cidr string, opts SubnetOptions) (res *SubnetResult, err error) {
	const op = "add-subnet"
	defer func() { c.metrics.RecordOperation(op, err) }()

	if err := validation.ValidateName("subnet", name); err != nil {
		return nil, newError(KindValidation, op, err)
	}
	prefix, err := validation.ParseIPv4Prefix(cidr)
	if err != nil {
		return nil, newError(KindValidation, op, err)
	}
	v, err := c.load(op, vpcName)
	if err != nil {
		return nil, err
	}
	gw, host, err := allocate(prefix, opts.Gateway)
	if err != nil {
		return nil, newError(KindValidation, op, err)
	}
	log := c.logger.WithVPC(vpcName)

	status := SubnetCreated
	idx := v.Subnet(name)
	if idx >= 0 {
		recorded := v.Subnets[idx]
		live, err := c.net.NamespaceExists(recorded.Namespace)
		if err != nil {
			return nil, externalError(op, err)
		}
		if live {
			log.Info("subnet already exists", "subnet", name)
			return &SubnetResult{Subnet: recorded, Status: SubnetExists}, nil
		}
		log.Warn("subnet namespace missing, repairing", "subnet", name, "ns", recorded.Namespace)
		status = SubnetRepaired
	}

	ns := naming.Namespace(vpcName, name)
	nsEnd, bridgeEnd := naming.SubnetVeths(vpcName, name)

	if status == SubnetRepaired {
		// A bridge-side end left behind would block the new pair.
		if _, err := c.net.DeleteLink(bridgeEnd); err != nil {
			log.Warn("failed to remove stale veth", "link", bridgeEnd, "error", err)
		}
	}

	if _, err := c.net.EnsureNamespace(ns); err != nil {
		return nil, externalError(op, err)
	}
	if _, err := c.net.EnsureVethPair(nsEnd, bridgeEnd); err != nil {
		return nil, externalError(op, err)
	}
	if err := c.net.AttachToBridge(bridgeEnd, v.Bridge); err != nil {
		return nil, externalError(op, err)
	}
	gwCIDR := netip.PrefixFrom(gw, prefix.Bits()).String()
	if err := c.net.AddAddress(v.Bridge, gwCIDR); err != nil {
		log.Warn("failed to assign gateway address", "bridge", v.Bridge, "addr", gwCIDR, "error", err)
	}
	hostCfg := network.HostConfig{
		Link:    nsEnd,
		Address: netip.PrefixFrom(host, prefix.Bits()),
		Gateway: gw,
	}
	if err := c.net.ConfigureNamespaceEnd(ns, hostCfg); err != nil {
		return nil, externalError(op, err)
	}

	sub := state.Subnet{
		Name:      name,
		CIDR:      prefix.String(),
		Namespace: ns,
		Gateway:   gw.String(),
		HostIP:    host.String(),
		Veth:      nsEnd,
	}
	if idx >= 0 {
		v.Subnets[idx] = sub
	} else {
		v.Subnets = append(v.Subnets, sub)
	}
	if err := c.save(op, v); err != nil {
		return nil, err
	}
	log.Info("subnet ready", "subnet", name, "cidr", sub.CIDR, "ns", ns, "gateway", sub.Gateway, "status", string(status))
	c.audit("subnet."+string(status), vpcName+"/"+name, map[string]any{"cidr": sub.CIDR, "ns": ns})

	if err := c.applySubnetPolicy(v, sub, opts.PolicyFile); err != nil {
		log.Warn("failed to apply policy to new subnet", "subnet", name, "error", err)
	}
	return &SubnetResult{Subnet: sub, Status: status}, nil
}

// allocate returns the gateway and host addresses of p: the first two
// usable addresses, or the explicit gateway and the first usable address
// that differs from it.
func allocate(p netip.Prefix, gateway string) (gw, host netip.Addr, err error) {
	if p.Bits() > 30 {
		return gw, host, fmt.Errorf("CIDR %s too small to allocate gateway and host addresses", p)
	}
	first := p.Masked().Addr().Next()
	if gateway == "" {
		return first, first.Next(), nil
	}

	gw, err = validation.ParseIPv4Addr(gateway)
	if err != nil {
		return gw, host, err
	}
	if !p.Contains(gw) {
		return gw, host, fmt.Errorf("gateway %s is outside %s", gw, p)
	}
	host = first
	if host == gw {
		host = host.Next()
	}
	return gw, host, nil
}
