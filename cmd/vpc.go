package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"grimm.is/vpcctl/internal/vpc"
)

// RunCreate creates a VPC.
func RunCreate(s *Session, name, cidr string) error {
	created, err := s.Ctl.Create(name, cidr)
	if err != nil {
		return err
	}
	if created {
		ok("VPC %s created (%s)", name, cidr)
	} else {
		warn("VPC %s already exists", name)
	}
	return nil
}

// RunAddSubnet adds a subnet, repairing it when its namespace is missing.
func RunAddSubnet(s *Session, vpcName, name, cidr, gateway, policyFile string) error {
	res, err := s.Ctl.AddSubnet(vpcName, name, cidr, vpc.SubnetOptions{Gateway: gateway, PolicyFile: policyFile})
	if err != nil {
		return err
	}
	sub := res.Subnet
	switch res.Status {
	case vpc.SubnetExists:
		warn("Subnet %s already exists in %s (ns %s)", name, vpcName, sub.Namespace)
	case vpc.SubnetRepaired:
		ok("Subnet %s repaired: ns %s, gateway %s, host %s", name, sub.Namespace, sub.Gateway, sub.HostIP)
	default:
		ok("Subnet %s added: ns %s, gateway %s, host %s", name, sub.Namespace, sub.Gateway, sub.HostIP)
	}
	return nil
}

// RunList prints recorded VPCs.
func RunList(s *Session) error {
	names, err := s.Ctl.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		Printer.Fprintln(Stdout, StyleMuted.Render("No VPCs recorded."))
		return nil
	}

	header("VPCs")
	w := tabwriter.NewWriter(Stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "NAME\tCIDR\tBRIDGE\tSUBNETS\tPEERS\tNAT\tRULES")
	for _, name := range names {
		v, found, err := s.Ctl.Inspect(name)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		nat := "-"
		if v.NAT != nil {
			nat = v.NAT.Interface
		}
		peers := make([]string, 0, len(v.Peers))
		for _, p := range v.Peers {
			peers = append(peers, p.PeerVPC)
		}
		peerList := "-"
		if len(peers) > 0 {
			peerList = strings.Join(peers, ",")
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
			v.Name, v.CIDR, v.Bridge, len(v.Subnets), peerList, nat, len(v.HostRules))
	}
	return w.Flush()
}

// RunInspect prints the stored record of a VPC as JSON.
func RunInspect(s *Session, name string) error {
	v, found, err := s.Ctl.Inspect(name)
	if err != nil {
		return err
	}
	if !found {
		warn("VPC %s not found", name)
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	Printer.Fprintln(Stdout, string(data))
	return nil
}

// RunDelete tears a VPC down.
func RunDelete(s *Session, name string) error {
	deleted, err := s.Ctl.Delete(name)
	if err != nil {
		return err
	}
	if deleted {
		ok("VPC %s deleted", name)
	} else {
		warn("VPC %s not found", name)
	}
	return nil
}

// RunCleanupAll deletes every recorded VPC.
func RunCleanupAll(s *Session) error {
	deleted, err := s.Ctl.CleanupAll()
	for _, name := range deleted {
		ok("VPC %s deleted", name)
	}
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		Printer.Fprintln(Stdout, StyleMuted.Render("No VPCs recorded."))
	}
	return nil
}
