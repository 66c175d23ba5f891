package cmd

import (
	"strings"

	"grimm.is/vpcctl/internal/policy"
	"grimm.is/vpcctl/internal/vpc"
)

// RunEnableNat masquerades the selected subnets of a VPC out of iface.
func RunEnableNat(s *Session, name, iface string, sel vpc.NatSelection) error {
	nat, err := s.Ctl.EnableNat(name, iface, sel)
	if err != nil {
		return err
	}
	if nat == nil {
		warn("No subnets selected for NAT in %s; nothing changed", name)
		return nil
	}
	ok("NAT enabled for %s via %s: %s", name, nat.Interface, strings.Join(nat.CIDRs, ", "))
	return nil
}

// RunPeer peers two VPCs. allowCIDRs is a comma-separated list; empty
// allows both VPC CIDRs.
func RunPeer(s *Session, a, b, allowCIDRs string) error {
	res, err := s.Ctl.CreatePeer(a, b, splitList(allowCIDRs))
	if err != nil {
		return err
	}
	if !res.LinksCreated {
		warn("Peering links %s/%s already exist", res.LocalVeth, res.RemoteVeth)
	}
	ok("Peered %s <-> %s via %s/%s, allowed %s (%d rules added)",
		a, b, res.LocalVeth, res.RemoteVeth, strings.Join(res.Allowed, ", "), res.RulesAdded)
	return nil
}

// RunApplyPolicy loads a JSON or HCL policy document and applies it to the
// matching subnets of a VPC.
func RunApplyPolicy(s *Session, name, file string) error {
	doc, err := policy.LoadFile(file)
	if err != nil {
		return &vpc.Error{Kind: vpc.KindValidation, Op: "apply-policy", Err: err}
	}
	applied, err := s.Ctl.ApplyPolicy(name, doc)
	for _, a := range applied {
		ok("Policy applied to %s (ns %s, %d commands)", a.Subnet, a.Namespace, a.Commands)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		warn("No subnet of %s matched the policy", name)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
