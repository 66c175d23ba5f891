package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"grimm.is/vpcctl/internal/config"
	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/policy"
)

// RunCheck validates the tool configuration and any policy documents given
// without touching the host. Verbose mode prints the commands each policy
// renders to.
func RunCheck(configFile string, policyFiles []string, verbose bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		return fmt.Errorf("configuration invalid: %w", errs)
	}

	ok("Configuration valid")
	if verbose {
		printConfigSummary(cfg)
	}

	var bad []string
	for _, file := range policyFiles {
		doc, err := policy.LoadFile(file)
		if err == nil {
			err = doc.Validate(true)
		}
		if err != nil {
			fail("%s: %v", file, err)
			bad = append(bad, file)
			continue
		}
		ok("%s: %d policies", file, len(doc))
		if verbose {
			printRendered(cfg, doc)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid policy files: %s", strings.Join(bad, ", "))
	}
	return nil
}

func printConfigSummary(cfg *config.Config) {
	w := tabwriter.NewWriter(Stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintf(w, "state_dir\t%s\n", cfg.StateDir)
	Printer.Fprintf(w, "state_backend\t%s\n", cfg.StateBackend)
	Printer.Fprintf(w, "iptables_path\t%s\n", cfg.IptablesPath)
	Printer.Fprintf(w, "log_level\t%s\n", cfg.LogLevel)
	Printer.Fprintf(w, "default_policy\t%s\n", orDash(cfg.DefaultPolicy))
	Printer.Fprintf(w, "app_command\t%s\n", strings.Join(cfg.AppCommand, " "))
	Printer.Fprintf(w, "probe_timeout\t%s\n", cfg.ProbeTimeoutDuration())
	Printer.Fprintf(w, "metrics_file\t%s\n", orDash(cfg.MetricsFile))
	w.Flush()
}

func printRendered(cfg *config.Config, doc policy.Document) {
	for _, p := range doc {
		scope := p.Subnet
		if scope == "" {
			scope = policy.Wildcard
		}
		Printer.Fprintln(Stdout, StyleMuted.Render("  # "+scope))
		for _, cmd := range policy.Render(cfg.IptablesPath, "<ns>", p) {
			Printer.Fprintf(Stdout, "  %s\n", firewall.FormatCommand(cmd[0], cmd[1:]...))
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
