// Package policy models per-subnet security-group policies and renders them
// into iptables rules applied inside a subnet's namespace.
//
// A document is a list of policies, each scoped to a subnet CIDR:
//
//	{"subnet": "10.10.1.0/24",
//	 "ingress": [{"port": 80, "protocol": "tcp", "action": "allow"}],
//	 "egress":  [{"port": 53, "protocol": "udp", "action": "deny"}]}
//
// A single object or a list of objects is accepted, as JSON or HCL.
package policy

import (
	"fmt"
	"strings"

	"grimm.is/vpcctl/internal/validation"
)

// Wildcard scopes a default policy to every subnet.
const Wildcard = "*"

// Action is what happens to matching traffic.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule matches traffic by protocol and destination port.
type Rule struct {
	Port     int    `json:"port,omitempty" hcl:"port,optional"`
	Protocol string `json:"protocol,omitempty" hcl:"protocol,optional"`
	Action   Action `json:"action,omitempty" hcl:"action,optional"`
}

// Policy is an ordered rule list for one subnet.
type Policy struct {
	Subnet  string `json:"subnet" hcl:"subnet,label"`
	Ingress []Rule `json:"ingress,omitempty" hcl:"ingress,block"`
	Egress  []Rule `json:"egress,omitempty" hcl:"egress,block"`
}

// Document is a list of policies.
type Document []Policy

// Proto returns the rule's protocol, tcp when unset.
func (r Rule) Proto() string {
	if r.Protocol == "" {
		return "tcp"
	}
	return strings.ToLower(r.Protocol)
}

// Target returns the iptables target for the rule's action.
func (r Rule) Target() string {
	if r.verdict() == ActionAllow {
		return "ACCEPT"
	}
	return "DROP"
}

func (r Rule) verdict() Action {
	switch Action(strings.ToLower(string(r.Action))) {
	case "", ActionAllow:
		return ActionAllow
	}
	return ActionDeny
}

// Validate checks protocol, port and action. A rule without a port is valid
// here; it is skipped when rendered.
func (r Rule) Validate() error {
	if err := validation.ValidateProtocol(r.Proto()); err != nil {
		return err
	}
	if r.Port != 0 {
		if err := validation.ValidatePortNumber(r.Port); err != nil {
			return err
		}
	}
	switch Action(strings.ToLower(string(r.Action))) {
	case "", ActionAllow, ActionDeny:
		return nil
	}
	return fmt.Errorf("invalid action %q (must be allow or deny)", r.Action)
}

// Validate checks every rule. A policy with an empty subnet is invalid
// unless allowWildcard is set, in which case empty and "*" both mean every
// subnet.
func (p Policy) Validate(allowWildcard bool) error {
	switch {
	case p.Subnet == "" || p.Subnet == Wildcard:
		if !allowWildcard {
			return fmt.Errorf("policy missing subnet")
		}
	default:
		if _, err := validation.ParseIPv4Prefix(p.Subnet); err != nil {
			return fmt.Errorf("policy subnet: %w", err)
		}
	}
	for i, r := range p.Ingress {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("policy %s ingress[%d]: %w", p.Subnet, i, err)
		}
	}
	for i, r := range p.Egress {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("policy %s egress[%d]: %w", p.Subnet, i, err)
		}
	}
	return nil
}

// Validate checks every policy in the document.
func (d Document) Validate(allowWildcard bool) error {
	for _, p := range d {
		if err := p.Validate(allowWildcard); err != nil {
			return err
		}
	}
	return nil
}

// Coalesce folds policies that share a subnet into one, keeping document
// order, so applying the result flushes each namespace exactly once.
func (d Document) Coalesce() Document {
	var out Document
	index := make(map[string]int)
	for _, p := range d {
		i, ok := index[p.Subnet]
		if !ok {
			index[p.Subnet] = len(out)
			out = append(out, Policy{Subnet: p.Subnet})
			i = len(out) - 1
		}
		out[i].Ingress = append(out[i].Ingress, p.Ingress...)
		out[i].Egress = append(out[i].Egress, p.Egress...)
	}
	return out
}
