package firewall

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, r CommandRunner) *Ledger {
	t.Helper()
	l := NewLedger(r, false)
	l.retry = fastBackoff()
	return l
}

func exists(t *testing.T, l *Ledger, rule []string) bool {
	t.Helper()
	ok, err := l.Exists(rule)
	require.NoError(t, err)
	return ok
}

func fakeWithChain(t *testing.T, chain string) *FakeRunner {
	t.Helper()
	f := NewFakeRunner()
	require.NoError(t, f.Run("iptables", "-N", chain))
	return f
}

func TestLedger_RoundTrip(t *testing.T) {
	rules := []struct {
		name    string
		rule    []string
		comment string
	}{
		{"jump", []string{"iptables", "-I", "FORWARD", "-i", "br-demo", "-j", "vpc-demo"}, "vpcctl:demo:jump"},
		{"intra", []string{"iptables", "-A", "vpc-demo", "-s", "10.10.0.0/16", "-d", "10.10.0.0/16", "-j", "ACCEPT"}, "vpcctl:demo:intra"},
		{"nat", []string{"iptables", "-t", "nat", "-A", "POSTROUTING", "-s", "10.10.1.0/24", "-o", "eth0", "-j", "MASQUERADE"}, "vpcctl:demo:nat"},
		{"fwd-in", []string{"iptables", "-A", "FORWARD", "-i", "eth0", "-o", "br-demo", "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"}, "vpcctl:demo:fwd-in"},
		{"uncommented", []string{"iptables", "-A", "vpc-demo", "-o", "br-other", "-j", "DROP"}, ""},
	}

	for _, tt := range rules {
		t.Run(tt.name, func(t *testing.T) {
			f := fakeWithChain(t, "vpc-demo")
			l := newTestLedger(t, f)

			recorded, added, err := l.Add(tt.rule, tt.comment)
			require.NoError(t, err)
			assert.True(t, added)
			assert.True(t, exists(t, l, recorded), "rule should exist after add")
			if tt.comment != "" {
				assert.Equal(t, tt.comment, CommentOf(recorded))
			}

			assert.True(t, l.Delete(recorded))
			assert.False(t, exists(t, l, recorded), "rule should be gone after delete")
			assert.Zero(t, f.RuleCount("", TableOf(recorded)))
		})
	}
}

func TestLedger_AddIdempotent(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	l := newTestLedger(t, f)
	rule := []string{"iptables", "-A", "vpc-demo", "-s", "10.0.0.0/16", "-d", "10.0.0.0/16", "-j", "ACCEPT"}

	first, added, err := l.Add(rule, "vpcctl:demo:intra")
	require.NoError(t, err)
	assert.True(t, added)

	for i := 0; i < 3; i++ {
		again, added, err := l.Add(rule, "vpcctl:demo:intra")
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, first, again)
	}
	assert.Len(t, f.Rules("", "filter", "vpc-demo"), 1)
}

func TestLedger_AddFailure(t *testing.T) {
	f := NewFakeRunner()
	l := newTestLedger(t, f)

	// The chain does not exist.
	_, added, err := l.Add([]string{"iptables", "-A", "vpc-missing", "-j", "ACCEPT"}, "")
	assert.Error(t, err)
	assert.False(t, added)
	assert.True(t, IsCommandExit(err, 1))
}

func TestLedger_AddRetriesLockContention(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	locked := 2
	f.FailOn = func(cmd []string) error {
		if slices.Contains(cmd, "-A") && locked > 0 {
			locked--
			return Temporary(errors.New("Another app is currently holding the xtables lock"))
		}
		return nil
	}
	l := newTestLedger(t, f)

	_, added, err := l.Add([]string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}, "")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 0, locked)
}

func lockErr(cmd string) error {
	return Temporary(&CommandError{Command: cmd, ExitCode: xtablesLockExit, Err: errors.New("exit status 4")})
}

// A -C that keeps hitting the xtables lock says nothing about the rule, so
// nothing is inserted.
func TestLedger_AddCheckUnderContention(t *testing.T) {
	m := new(MockCommandRunner)
	l := newTestLedger(t, m)

	check := []any{"iptables", "-C", "vpc-demo", "-j", "ACCEPT"}
	m.On("Output", check...).Return(nil, lockErr("iptables -C vpc-demo -j ACCEPT")).Times(fastBackoff().Attempts)

	_, added, err := l.Add([]string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemporary)
	assert.False(t, added)
	m.AssertExpectations(t)
	m.AssertNotCalled(t, "Run", "iptables", "-A", "vpc-demo", "-j", "ACCEPT")
}

func TestLedger_AddCheckRetried(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	require.NoError(t, f.Run("iptables", "-A", "vpc-demo", "-j", "ACCEPT"))
	locked := 2
	f.FailOn = func(cmd []string) error {
		if slices.Contains(cmd, "-C") && locked > 0 {
			locked--
			return lockErr(strings.Join(cmd, " "))
		}
		return nil
	}
	l := newTestLedger(t, f)

	_, added, err := l.Add([]string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}, "")
	require.NoError(t, err)
	assert.False(t, added, "rule was present once the lock cleared")
	assert.Len(t, f.Rules("", "filter", "vpc-demo"), 1)
}

// Delete must not report a rule as gone when its presence could not be checked.
func TestLedger_DeleteUnderContention(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	l := newTestLedger(t, f)
	recorded, _, err := l.Add([]string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}, "vpcctl:demo:intra")
	require.NoError(t, err)

	f.FailOn = func(cmd []string) error { return lockErr(strings.Join(cmd, " ")) }
	assert.False(t, l.Delete(recorded))

	f.FailOn = nil
	assert.Len(t, f.Rules("", "filter", "vpc-demo"), 1)
	assert.True(t, l.Delete(recorded))
}

func TestLedger_ExistsUnknownTarget(t *testing.T) {
	m := new(MockCommandRunner)
	l := newTestLedger(t, m)
	m.On("Output", "iptables", "-C", "FORWARD", "-j", "vpc-gone").
		Return(nil, &CommandError{ExitCode: 2, Err: errors.New("exit status 2")}).Once()

	ok, err := l.Exists([]string{"iptables", "-A", "FORWARD", "-j", "vpc-gone"})
	require.NoError(t, err)
	assert.False(t, ok)
}

// A backend that stores rules in a different textual form defeats -C with the
// recorded tokens; the live dump still finds the rule.
func TestLedger_DeleteLiveMatch(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	f.QuoteComments = true
	f.Rewrite = func(spec []string) []string {
		if i := slices.Index(spec, "tcp"); i > 0 && spec[i-1] == "-p" {
			return slices.Insert(slices.Clone(spec), i+1, "-m", "tcp")
		}
		return spec
	}
	l := newTestLedger(t, f)

	recorded, added, err := l.Add([]string{"iptables", "-A", "vpc-demo", "-p", "tcp", "--dport", "80", "-j", "ACCEPT"}, "vpcctl:demo:web")
	require.NoError(t, err)
	require.True(t, added)
	require.False(t, exists(t, l, recorded), "rewritten rule should not match exactly")
	require.Len(t, f.Rules("", "filter", "vpc-demo"), 1)
	assert.Contains(t, f.Rules("", "filter", "vpc-demo")[0], `--comment "vpcctl:demo:web"`)

	assert.True(t, l.Delete(recorded))
	assert.Empty(t, f.Rules("", "filter", "vpc-demo"))

	var dumped bool
	for _, c := range f.Calls() {
		if strings.Join(c, " ") == "iptables -t filter -S" {
			dumped = true
		}
	}
	assert.True(t, dumped, "live-match strategy should dump the table")
}

func TestLedger_DeleteLiveMatchRetriesWithoutTable(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	f.FailOn = func(cmd []string) error {
		if slices.Contains(cmd, "-D") && slices.Contains(cmd, "-t") {
			return errors.New("table qualifier rejected")
		}
		return nil
	}
	l := newTestLedger(t, f)

	// Insert directly so the stored spec differs from the recorded one.
	require.NoError(t, f.Run("iptables", "-A", "vpc-demo", "-s", "10.1.0.0/16", "-j", "ACCEPT"))
	recorded := []string{"iptables", "-A", "vpc-demo", "-s", "10.1.0.0/16", "-m", "comment", "--comment", "x", "-j", "ACCEPT"}

	assert.True(t, l.Delete(recorded))
	assert.Empty(t, f.Rules("", "filter", "vpc-demo"))
}

func TestLedger_DeleteUncommentedFallback(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	f.FailOn = func(cmd []string) error {
		if slices.Contains(cmd, "-S") {
			return errors.New("dump unavailable")
		}
		return nil
	}
	l := newTestLedger(t, f)

	// Present without the comment the ledger recorded.
	require.NoError(t, f.Run("iptables", "-A", "vpc-demo", "-o", "br-b", "-j", "DROP"))
	recorded := WithComment([]string{"iptables", "-A", "vpc-demo", "-o", "br-b", "-j", "DROP"}, "vpcctl:a/b:peer-drop")

	assert.True(t, l.Delete(recorded))
	assert.Empty(t, f.Rules("", "filter", "vpc-demo"))
}

func TestLedger_DeleteAlreadyGone(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	l := newTestLedger(t, f)

	gone := WithComment([]string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}, "vpcctl:demo:intra")
	assert.True(t, l.Delete(gone))

	// Even when the chain itself is gone.
	missingChain := []string{"iptables", "-A", "vpc-nowhere", "-j", "ACCEPT"}
	assert.True(t, l.Delete(missingChain))
}

func TestLedger_DeleteStillPresent(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	l := newTestLedger(t, f)
	recorded, _, err := l.Add([]string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}, "")
	require.NoError(t, err)

	f.FailOn = func(cmd []string) error {
		if slices.Contains(cmd, "-D") {
			return errors.New("operation not permitted")
		}
		return nil
	}
	assert.False(t, l.Delete(recorded))
	assert.Len(t, f.Rules("", "filter", "vpc-demo"), 1)
}

func TestLedger_ExactCommands(t *testing.T) {
	m := new(MockCommandRunner)
	l := newTestLedger(t, m)

	check := []interface{}{"iptables", "-C", "FORWARD", "-i", "br-demo", "-m", "comment", "--comment", "vpcctl:demo:jump", "-j", "vpc-demo"}
	insert := []interface{}{"iptables", "-I", "FORWARD", "-i", "br-demo", "-m", "comment", "--comment", "vpcctl:demo:jump", "-j", "vpc-demo"}
	del := []interface{}{"iptables", "-D", "FORWARD", "-i", "br-demo", "-m", "comment", "--comment", "vpcctl:demo:jump", "-j", "vpc-demo"}

	m.On("Output", check...).Return(nil, &CommandError{ExitCode: 1, Err: errors.New("exit status 1")}).Once()
	m.On("Run", insert...).Return(nil).Once()

	recorded, added, err := l.Add([]string{"iptables", "-I", "FORWARD", "-i", "br-demo", "-j", "vpc-demo"}, "vpcctl:demo:jump")
	require.NoError(t, err)
	assert.True(t, added)

	m.On("Output", check...).Return([]byte{}, nil).Once()
	m.On("Run", del...).Return(nil).Once()
	assert.True(t, l.Delete(recorded))

	m.AssertExpectations(t)
}

func TestLedger_Preview(t *testing.T) {
	f := fakeWithChain(t, "vpc-demo")
	var out bytes.Buffer
	dry := &DryRunRunner{Reader: f, Out: &out}
	l := NewLedger(dry, true)

	rule := []string{"iptables", "-A", "vpc-demo", "-j", "ACCEPT"}
	recorded, added, err := l.Add(rule, "vpcctl:demo:intra")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Empty(t, f.Rules("", "filter", "vpc-demo"), "preview must not mutate")

	assert.True(t, l.Delete(recorded))
	assert.Equal(t, []string{
		"iptables -A vpc-demo -m comment --comment vpcctl:demo:intra -j ACCEPT",
		"iptables -D vpc-demo -m comment --comment vpcctl:demo:intra -j ACCEPT",
	}, dry.Commands())
	assert.Contains(t, out.String(), ">>> iptables -A vpc-demo")
}
