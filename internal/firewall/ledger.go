package firewall

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"

	"grimm.is/vpcctl/internal/logging"
	"grimm.is/vpcctl/internal/metrics"
)

// Ledger makes iptables mutations idempotent and reversible. Rules are
// token slices beginning with the iptables binary (or an "ip netns exec"
// prefix), e.g.
//
//	[]string{"iptables", "-A", "vpc-demo", "-s", "10.10.0.0/16", "-d", "10.10.0.0/16", "-j", "ACCEPT"}
type Ledger struct {
	runner  CommandRunner
	preview bool
	retry   Backoff
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewLedger creates a ledger. In preview mode deletions are reported in
// their exact form without probing the live rule set.
func NewLedger(runner CommandRunner, preview bool) *Ledger {
	return &Ledger{
		runner:  runner,
		preview: preview,
		retry:   LockBackoff(),
		logger:  logging.WithComponent("ledger"),
		metrics: metrics.Get(),
	}
}

// Runner returns the runner the ledger executes through.
func (l *Ledger) Runner() CommandRunner {
	return l.runner
}

// Exists reports whether iptables -C accepts rule. Exit status 1 (no such
// rule or chain) and 2 (unknown target or match) mean the rule is absent.
// Lock contention is retried; any other failure is returned, since a rule
// whose presence is unknown must not be inserted or reported as gone.
// Preview runs may lack a live reader and treat every failure as absent.
func (l *Ledger) Exists(rule []string) (bool, error) {
	check := ReplaceVerb(rule, "-C")
	err := l.retry.Do(context.Background(), func() error {
		_, err := l.runner.Output(check[0], check[1:]...)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case IsCommandExit(err, 1), IsCommandExit(err, 2), l.preview:
		return false, nil
	}
	return false, fmt.Errorf("check %s: %w", FormatCommand(check[0], check[1:]...), err)
}

func (l *Ledger) run(rule []string) error {
	return l.retry.Do(context.Background(), func() error {
		return l.runner.Run(rule[0], rule[1:]...)
	})
}

// Add inserts rule unless an identical rule is present. With a non-empty
// comment the rule carries "-m comment --comment <comment>" before its
// target. It returns the rule as inserted, which is what callers record.
func (l *Ledger) Add(rule []string, comment string) (recorded []string, added bool, err error) {
	recorded = WithComment(rule, comment)
	line := FormatCommand(recorded[0], recorded[1:]...)

	present, err := l.Exists(recorded)
	if err != nil {
		l.metrics.LedgerAdds.WithLabelValues("error").Inc()
		return recorded, false, err
	}
	if present {
		l.logger.Info("rule exists, skipping", "rule", line)
		l.metrics.LedgerAdds.WithLabelValues("present").Inc()
		return recorded, false, nil
	}

	if err := l.run(recorded); err != nil {
		l.metrics.LedgerAdds.WithLabelValues("error").Inc()
		return recorded, false, err
	}
	l.logger.Debug("rule added", "rule", line)
	l.metrics.LedgerAdds.WithLabelValues("added").Inc()
	return recorded, true, nil
}

type deleteStrategy struct {
	name string
	try  func(rule []string) bool
}

func (l *Ledger) strategies() []deleteStrategy {
	return []deleteStrategy{
		{"exact", l.deleteExact},
		{"live-match", l.deleteLiveMatch},
		{"uncommented", l.deleteUncommented},
	}
}

// Delete removes rule, trying each strategy in turn. It never fails on
// absence: a rule that no longer exists in either its recorded or its
// uncommented form is reported as deleted. The result is false only when
// the rule is still present after every strategy.
func (l *Ledger) Delete(rule []string) bool {
	if len(rule) == 0 {
		return true
	}
	line := FormatCommand(rule[0], rule[1:]...)

	if l.preview {
		del := ReplaceVerb(rule, "-D")
		_ = l.runner.Run(del[0], del[1:]...)
		l.metrics.LedgerDeletes.WithLabelValues("preview").Inc()
		return true
	}

	for _, s := range l.strategies() {
		if s.try(rule) {
			l.logger.Debug("rule deleted", "rule", line, "strategy", s.name)
			l.metrics.LedgerDeletes.WithLabelValues(s.name).Inc()
			return true
		}
	}

	gone, err := l.absent(rule)
	if gone {
		l.logger.Debug("rule already gone", "rule", line)
		l.metrics.LedgerDeletes.WithLabelValues("absent").Inc()
		return true
	}

	l.logger.Warn("failed to delete rule", "rule", line, "error", err)
	l.metrics.LedgerDeletes.WithLabelValues("failed").Inc()
	return false
}

// absent reports whether neither the recorded nor the uncommented form of
// rule is live. An unconfirmed check counts as present.
func (l *Ledger) absent(rule []string) (bool, error) {
	for _, r := range [][]string{rule, StripComment(rule)} {
		present, err := l.Exists(r)
		if err != nil || present {
			return false, err
		}
	}
	return true, nil
}

func (l *Ledger) deleteExact(rule []string) bool {
	if present, err := l.Exists(rule); err != nil || !present {
		return false
	}
	return l.run(ReplaceVerb(rule, "-D")) == nil
}

func (l *Ledger) deleteLiveMatch(rule []string) bool {
	prefix, _ := SplitCommand(rule)
	table := TableOf(rule)

	dump := append(slices.Clone(prefix), "-t", table, "-S")
	out, err := l.runner.Output(dump[0], dump[1:]...)
	if err != nil {
		l.logger.Debug("live dump failed", "table", table, "error", err)
		return false
	}

	keys := KeyTokens(rule)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "-A ") || !MatchesKeys(line, keys) {
			continue
		}
		parts, err := shellwords.Parse(line)
		if err != nil || len(parts) == 0 {
			continue
		}
		parts[0] = "-D"

		withTable := append(append(slices.Clone(prefix), "-t", table), parts...)
		if l.run(withTable) == nil {
			return true
		}
		bare := append(slices.Clone(prefix), parts...)
		if l.run(bare) == nil {
			return true
		}
	}
	return false
}

func (l *Ledger) deleteUncommented(rule []string) bool {
	return l.run(ReplaceVerb(StripComment(rule), "-D")) == nil
}
