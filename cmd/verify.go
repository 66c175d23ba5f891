package cmd

import (
	"errors"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ErrDrift is returned by RunVerify in strict mode when live state and
// records disagree.
var ErrDrift = errors.New("live state differs from records")

// RunVerify reports vpcctl objects on the host and drift against records.
func RunVerify(s *Session, strict bool) error {
	rep, err := s.Ctl.Verify()
	if err != nil {
		return err
	}

	header("Host objects")
	Printer.Fprintf(Stdout, "Namespaces: %s\n", listOrDash(rep.Namespaces))
	Printer.Fprintf(Stdout, "Bridges:    %s\n", listOrDash(rep.Bridges))
	Printer.Fprintf(Stdout, "Recorded:   %s\n", listOrDash(rep.Recorded))
	Printer.Fprintln(Stdout)

	header("Drift")
	if rep.Clean() {
		ok("No drift detected")
		return nil
	}
	for _, ns := range rep.OrphanNamespaces {
		warn("Orphan namespace %s (no record references it)", ns)
	}
	for _, br := range rep.OrphanBridges {
		warn("Orphan bridge %s (no record references it)", br)
	}
	for _, ns := range rep.MissingNamespaces {
		fail("Recorded namespace %s is missing", ns)
	}
	for _, chain := range rep.MissingChains {
		fail("Recorded chain %s is missing", chain)
	}
	if rep.RuleDiff != "" {
		Printer.Fprintln(Stdout)
		Printer.Fprintln(Stdout, StyleTitle.Render("Recorded vs live rules:"))
		printDiff(rep.RuleDiff)
	}

	if strict {
		return ErrDrift
	}
	return nil
}

func printDiff(diff string) {
	for _, line := range difflib.SplitLines(diff) {
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			Printer.Fprintln(Stdout, StyleTitle.Render(line))
		case strings.HasPrefix(line, "@@"):
			Printer.Fprintln(Stdout, StyleDiffHunk.Render(line))
		case strings.HasPrefix(line, "+"):
			Printer.Fprintln(Stdout, StyleDiffAdd.Render(line))
		case strings.HasPrefix(line, "-"):
			Printer.Fprintln(Stdout, StyleDiffRemove.Render(line))
		default:
			Printer.Fprintln(Stdout, line)
		}
	}
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
