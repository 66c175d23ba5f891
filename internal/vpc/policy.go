package vpc

import (
	"fmt"

	"grimm.is/vpcctl/internal/policy"
	"grimm.is/vpcctl/internal/state"
)

// AppliedPolicy reports one policy installed in a subnet namespace.
type AppliedPolicy struct {
	Subnet    string
	Namespace string
	Commands  int
}

// ApplyPolicy installs doc in the namespaces of the matching subnets, one
// policy at a time in document order. Each policy flushes the namespace
// chains, so when several policies name the same subnet the last one wins.
// Policies without a subnet or for CIDRs that match no subnet are skipped.
func (c *Controller) ApplyPolicy(name string, doc policy.Document) (applied []AppliedPolicy, err error) {
	const op = "apply-policy"
	defer func() { c.metrics.RecordOperation(op, err) }()

	v, err := c.load(op, name)
	if err != nil {
		return nil, err
	}
	log := c.logger.WithVPC(name)
	scoped := make(policy.Document, 0, len(doc))
	for _, p := range doc {
		if p.Subnet == "" || p.Subnet == policy.Wildcard {
			log.Warn("policy missing subnet, skipping")
			continue
		}
		scoped = append(scoped, p)
	}
	if err := scoped.Validate(false); err != nil {
		return nil, newError(KindValidation, op, err)
	}
	doc = scoped
	applied, err = c.applyDocument(v, doc)
	if err != nil {
		return applied, externalError(op, err)
	}
	return applied, nil
}

func (c *Controller) applyDocument(v *state.VPC, doc policy.Document) ([]AppliedPolicy, error) {
	log := c.logger.WithVPC(v.Name)
	var applied []AppliedPolicy
	for _, p := range doc {
		idx := v.SubnetByCIDR(p.Subnet)
		if idx < 0 {
			log.Warn("no subnet matches policy, skipping", "subnet", p.Subnet)
			continue
		}
		ns := v.Subnets[idx].Namespace
		cmds := policy.Render(c.iptables, ns, p)
		for _, cmd := range cmds {
			if err := c.exec(cmd); err != nil {
				return applied, fmt.Errorf("policy for %s: %w", p.Subnet, err)
			}
		}
		applied = append(applied, AppliedPolicy{Subnet: p.Subnet, Namespace: ns, Commands: len(cmds)})
		log.Info("policy applied", "subnet", p.Subnet, "ns", ns, "ingress", len(p.Ingress), "egress", len(p.Egress))
		c.audit("policy.apply", v.Name+"/"+v.Subnets[idx].Name, map[string]any{"subnet": p.Subnet})
	}
	return applied, nil
}

// applySubnetPolicy merges the configured default policy with the policy
// file given for a new subnet and applies the result. Nothing happens when
// neither is set.
func (c *Controller) applySubnetPolicy(v *state.VPC, sub state.Subnet, file string) error {
	var defaults, specific policy.Document
	if path := c.cfg.DefaultPolicy; path != "" {
		doc, err := policy.LoadFile(path)
		if err != nil {
			return fmt.Errorf("default policy: %w", err)
		}
		defaults = doc
	}
	if file != "" {
		doc, err := policy.LoadFile(file)
		if err != nil {
			return fmt.Errorf("subnet policy: %w", err)
		}
		specific = doc
	}
	if len(defaults) == 0 && len(specific) == 0 {
		return nil
	}
	if err := defaults.Validate(true); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	if err := specific.Validate(true); err != nil {
		return fmt.Errorf("subnet policy: %w", err)
	}

	merged := policy.Merge(defaults, specific, sub.CIDR)
	if len(merged) == 0 {
		return nil
	}
	_, err := c.applyDocument(v, merged.Coalesce())
	return err
}
