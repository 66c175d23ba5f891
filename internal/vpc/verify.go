package vpc

import (
	"bufio"
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/naming"
)

// Report compares recorded VPCs with live kernel state.
type Report struct {
	Namespaces []string
	Bridges    []string
	Recorded   []string

	// OrphanNamespaces and OrphanBridges look like vpcctl objects but no
	// record references them.
	OrphanNamespaces []string
	OrphanBridges    []string
	// MissingNamespaces are recorded subnets whose namespace is gone.
	MissingNamespaces []string
	// MissingChains are recorded VPC chains absent from the filter table.
	MissingChains []string

	// RuleDiff is a unified diff of recorded host rules against live rules
	// carrying a vpcctl comment. Empty when they agree.
	RuleDiff string
}

// Clean reports whether nothing drifted.
func (r *Report) Clean() bool {
	return len(r.OrphanNamespaces) == 0 && len(r.OrphanBridges) == 0 &&
		len(r.MissingNamespaces) == 0 && len(r.MissingChains) == 0 && r.RuleDiff == ""
}

// Verify lists vpcctl-looking namespaces and bridges and reports drift
// against the recorded VPCs.
func (c *Controller) Verify() (rep *Report, err error) {
	const op = "verify"
	defer func() { c.metrics.RecordOperation(op, err) }()

	rep = &Report{}
	if rep.Namespaces, err = c.net.ListNamespaces("ns-"); err != nil {
		return nil, externalError(op, err)
	}
	if rep.Bridges, err = c.net.ListLinks("br-"); err != nil {
		return nil, externalError(op, err)
	}
	if rep.Recorded, err = c.List(); err != nil {
		return nil, err
	}

	knownNS := make(map[string]bool)
	knownBridges := make(map[string]bool)
	var recorded []string
	for _, name := range rep.Recorded {
		v, err := c.load(op, name)
		if err != nil {
			return nil, err
		}
		knownBridges[v.Bridge] = true
		for _, s := range v.Subnets {
			knownNS[s.Namespace] = true
			if !slices.Contains(rep.Namespaces, s.Namespace) {
				rep.MissingNamespaces = append(rep.MissingNamespaces, s.Namespace)
			}
		}
		if !c.chains.Exists(v.Chain) {
			rep.MissingChains = append(rep.MissingChains, v.Chain)
		}
		for _, rule := range v.HostRules {
			if line, ok := normalizeRecorded(rule); ok {
				recorded = append(recorded, line)
			}
		}
	}
	for _, ns := range rep.Namespaces {
		if !knownNS[ns] {
			rep.OrphanNamespaces = append(rep.OrphanNamespaces, ns)
		}
	}
	for _, br := range rep.Bridges {
		if !knownBridges[br] {
			rep.OrphanBridges = append(rep.OrphanBridges, br)
		}
	}

	live, err := c.liveTaggedRules()
	if err != nil {
		c.logger.Warn("failed to read live rules", "error", err)
		return rep, nil
	}
	rep.RuleDiff, err = ruleDiff(recorded, live)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	return rep, nil
}

// normalizeRecorded renders a recorded host rule the way iptables -S
// prints it, prefixed with its table.
func normalizeRecorded(rule []string) (string, bool) {
	prefix, args := firewall.SplitCommand(rule)
	if len(prefix) != 1 {
		// namespace-local
		return "", false
	}
	table := firewall.TableOf(rule)
	var out []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-t":
			i++
		case "-I", "-A":
			out = append(out, "-A")
		default:
			out = append(out, args[i])
		}
	}
	return table + ": " + strings.Join(out, " "), true
}

// liveTaggedRules dumps the filter and nat tables and keeps rules whose
// comment vpcctl wrote.
func (c *Controller) liveTaggedRules() ([]string, error) {
	var lines []string
	for _, table := range []string{"filter", "nat"} {
		out, err := c.runner.Output(c.iptables, "-t", table, "-S")
		if err != nil {
			return nil, fmt.Errorf("failed to dump %s table: %w", table, err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(out))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "-A ") {
				continue
			}
			parts, err := shellwords.Parse(line)
			if err != nil {
				continue
			}
			if _, _, ok := naming.ParseTag(firewall.CommentOf(parts)); !ok {
				continue
			}
			lines = append(lines, table+": "+strings.Join(parts, " "))
		}
	}
	return lines, nil
}

func ruleDiff(recorded, live []string) (string, error) {
	recorded = slices.Clone(recorded)
	live = slices.Clone(live)
	slices.Sort(recorded)
	slices.Sort(live)
	if slices.Equal(recorded, live) {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(recorded),
		B:        withNewlines(live),
		FromFile: "recorded",
		ToFile:   "live",
		Context:  1,
	})
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
