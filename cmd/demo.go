package cmd

import (
	"context"
	"fmt"

	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/vpc"
)

// Demo topology.
const (
	DemoVPCA     = "demo-a"
	DemoVPCB     = "demo-b"
	DemoAppPort  = 8080
	demoCIDRA    = "10.10.0.0/16"
	demoPublicA  = "10.10.1.0/24"
	demoPrivateA = "10.10.2.0/24"
	demoCIDRB    = "10.20.0.0/16"
	demoPublicB  = "10.20.1.0/24"
)

type demoStep struct {
	title string
	run   func() error
}

// RunDemo builds two VPCs, deploys an app, peers the public subnets and
// probes across them. iface enables NAT on demo-a and is required when the
// session is not a preview. Failed steps are reported and the demo goes on.
func RunDemo(ctx context.Context, s *Session, iface string) error {
	if !s.Preview && iface == "" {
		return &vpc.Error{Kind: vpc.KindValidation, Op: "run-demo", Err: fmt.Errorf("--internet-iface is required with --execute")}
	}

	steps := []demoStep{
		{"create " + DemoVPCA + " " + demoCIDRA, func() error { return RunCreate(s, DemoVPCA, demoCIDRA) }},
		{"add-subnet " + DemoVPCA + " public " + demoPublicA, func() error { return RunAddSubnet(s, DemoVPCA, "public", demoPublicA, "", "") }},
		{"add-subnet " + DemoVPCA + " private " + demoPrivateA, func() error { return RunAddSubnet(s, DemoVPCA, "private", demoPrivateA, "", "") }},
		{"create " + DemoVPCB + " " + demoCIDRB, func() error { return RunCreate(s, DemoVPCB, demoCIDRB) }},
		{"add-subnet " + DemoVPCB + " public " + demoPublicB, func() error { return RunAddSubnet(s, DemoVPCB, "public", demoPublicB, "", "") }},
		{fmt.Sprintf("deploy-app %s public %d", DemoVPCA, DemoAppPort), func() error { return RunDeployApp(s, DemoVPCA, "public", DemoAppPort) }},
		{fmt.Sprintf("deploy-app %s public %d", DemoVPCB, DemoAppPort), func() error { return RunDeployApp(s, DemoVPCB, "public", DemoAppPort) }},
	}
	if iface != "" {
		steps = append(steps, demoStep{"enable-nat " + DemoVPCA + " " + iface, func() error {
			return RunEnableNat(s, DemoVPCA, iface, vpc.NatSelection{})
		}})
	}
	allow := demoPublicA + "," + demoPublicB
	steps = append(steps, demoStep{"peer " + DemoVPCA + " " + DemoVPCB + " --allow-cidrs " + allow, func() error {
		return RunPeer(s, DemoVPCA, DemoVPCB, allow)
	}})

	failed := 0
	for _, step := range steps {
		Printer.Fprintln(Stdout)
		header("STEP: " + step.title)
		if err := step.run(); err != nil {
			fail("Step failed: %v", err)
			failed++
		}
	}

	Printer.Fprintln(Stdout)
	header("DEMO TESTS")
	if err := demoChecks(ctx, s); err != nil {
		fail("Demo checks skipped: %v", err)
	}
	if s.Preview {
		Printer.Fprintln(Stdout, StyleMuted.Render("Demo ran in preview mode. Use --execute to perform it for real."))
	}
	if failed > 0 {
		return fmt.Errorf("%d demo steps failed", failed)
	}
	return nil
}

// demoChecks probes demo-a public (same VPC) and demo-b public (across the
// peering) from demo-a's private subnet.
func demoChecks(ctx context.Context, s *Session) error {
	a, err := demoRecord(s, DemoVPCA)
	if err != nil {
		return err
	}
	b, err := demoRecord(s, DemoVPCB)
	if err != nil {
		return err
	}
	from, err := demoSubnet(a, "private")
	if err != nil {
		return err
	}
	for _, target := range []struct {
		v    *state.VPC
		desc string
	}{{a, "same VPC"}, {b, "across peering"}} {
		pub, err := demoSubnet(target.v, "public")
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "Test (%s): %s -> %s:%d\n", target.desc, from.Namespace, pub.HostIP, DemoAppPort)
		if err := RunTestConnectivity(ctx, s, pub.HostIP, DemoAppPort, from.Namespace); err != nil {
			return err
		}
	}
	return nil
}

func demoRecord(s *Session, name string) (*state.VPC, error) {
	v, found, err := s.Ctl.Inspect(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("VPC %s not recorded", name)
	}
	return v, nil
}

func demoSubnet(v *state.VPC, name string) (state.Subnet, error) {
	idx := v.Subnet(name)
	if idx < 0 {
		return state.Subnet{}, fmt.Errorf("subnet %s missing from %s", name, v.Name)
	}
	return v.Subnets[idx], nil
}
