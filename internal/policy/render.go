package policy

import (
	"strconv"

	"grimm.is/vpcctl/internal/logging"
)

// Render returns the commands that apply p inside namespace ns, in order:
// flush the filter table, accept loopback and established traffic, then
// the ingress rules against INPUT and the egress rules against OUTPUT.
// Rules without a port are skipped.
func Render(iptables, ns string, p Policy) [][]string {
	prefix := []string{"ip", "netns", "exec", ns, iptables}
	cmd := func(args ...string) []string {
		return append(append([]string(nil), prefix...), args...)
	}

	cmds := [][]string{
		cmd("-F"),
		cmd("-A", "INPUT", "-i", "lo", "-j", "ACCEPT"),
		cmd("-A", "INPUT", "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"),
	}

	add := func(chain, direction string, rules []Rule) {
		for _, r := range rules {
			if r.Port == 0 {
				logging.WithComponent("policy").Warn("skipping rule without port",
					"ns", ns, "direction", direction, "protocol", r.Proto(), "action", string(r.Action))
				continue
			}
			cmds = append(cmds, cmd("-A", chain, "-p", r.Proto(), "--dport", strconv.Itoa(r.Port), "-j", r.Target()))
		}
	}
	add("INPUT", "ingress", p.Ingress)
	add("OUTPUT", "egress", p.Egress)
	return cmds
}
