package firewall

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// FakeRunner is an in-memory iptables. It understands the subset of
// iptables vpcctl uses (-N -X -F -A -I -C -D -S and --version), tracks
// tables per network namespace for "ip netns exec <ns> iptables ...", and
// reports failures the way iptables does: a *CommandError with exit status 1.
//
// Rules compare by exact token sequence. Rewrite simulates a backend that
// stores a rule in a different textual form than it was given.
type FakeRunner struct {
	// Rewrite transforms a rule spec (tokens after the chain name) before it
	// is stored.
	Rewrite func(spec []string) []string
	// QuoteComments makes -S print comment values in double quotes.
	QuoteComments bool
	// Backend is reported by --version; "legacy" when empty.
	Backend string
	// NamespaceExists, when set, makes "ip netns exec" fail for unknown namespaces.
	NamespaceExists func(ns string) bool
	// FailOn may return an error to fail a specific command before it runs.
	FailOn func(cmd []string) error

	mu    sync.Mutex
	netns map[string]map[string]*fakeTable
	calls [][]string
}

type fakeTable struct {
	order  []string
	chains map[string][][]string
	user   map[string]bool
}

var builtinChains = map[string][]string{
	"filter": {"INPUT", "FORWARD", "OUTPUT"},
	"nat":    {"PREROUTING", "INPUT", "OUTPUT", "POSTROUTING"},
	"mangle": {"PREROUTING", "INPUT", "FORWARD", "OUTPUT", "POSTROUTING"},
	"raw":    {"PREROUTING", "OUTPUT"},
}

var builtinTargets = map[string]bool{
	"ACCEPT": true, "DROP": true, "RETURN": true, "REJECT": true, "LOG": true,
	"MASQUERADE": true, "SNAT": true, "DNAT": true, "MARK": true,
}

// NewFakeRunner returns an empty fake with only builtin chains.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{netns: make(map[string]map[string]*fakeTable)}
}

// Run executes cmd against the in-memory state.
func (f *FakeRunner) Run(name string, args ...string) error {
	_, err := f.exec(name, args)
	return err
}

// Output executes cmd and returns what iptables would print.
func (f *FakeRunner) Output(name string, args ...string) ([]byte, error) {
	out, err := f.exec(name, args)
	return []byte(out), err
}

// Calls returns every command seen, including failed ones.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = slices.Clone(c)
	}
	return out
}

// Rules returns the -S lines of chain ("-A <chain> ...") in namespace ns
// ("" for the host).
func (f *FakeRunner) Rules(ns, table, chain string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(ns, table)
	var out []string
	for _, spec := range t.chains[chain] {
		out = append(out, f.line(chain, spec))
	}
	return out
}

// RuleCount returns the number of rules across all chains of a table.
func (f *FakeRunner) RuleCount(ns, table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rules := range f.table(ns, table).chains {
		n += len(rules)
	}
	return n
}

// HasChain reports whether chain exists.
func (f *FakeRunner) HasChain(ns, table, chain string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.table(ns, table).chains[chain]
	return ok
}

// UserChains lists the user-defined chains of a table in creation order.
func (f *FakeRunner) UserChains(ns, table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(ns, table)
	var out []string
	for _, c := range t.order {
		if t.user[c] {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRunner) table(ns, name string) *fakeTable {
	if f.netns == nil {
		f.netns = make(map[string]map[string]*fakeTable)
	}
	tables, ok := f.netns[ns]
	if !ok {
		tables = make(map[string]*fakeTable)
		f.netns[ns] = tables
	}
	t, ok := tables[name]
	if !ok {
		t = &fakeTable{chains: make(map[string][][]string), user: make(map[string]bool)}
		for _, c := range builtinChains[name] {
			t.order = append(t.order, c)
			t.chains[c] = nil
		}
		tables[name] = t
	}
	return t
}

func (f *FakeRunner) exec(name string, args []string) (string, error) {
	cmd := append([]string{name}, args...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(cmd))

	if f.FailOn != nil {
		if err := f.FailOn(cmd); err != nil {
			return "", err
		}
	}

	ns := ""
	for filepath.Base(cmd[0]) == "ip" && len(cmd) >= 5 && cmd[1] == "netns" && cmd[2] == "exec" {
		ns = cmd[3]
		if f.NamespaceExists != nil && !f.NamespaceExists(ns) {
			return "", f.fail(cmd, 1, fmt.Sprintf("Cannot open network namespace %q: No such file or directory", ns))
		}
		cmd = cmd[4:]
	}
	if !strings.HasPrefix(filepath.Base(cmd[0]), "iptables") {
		// Anything else (sysctl, kill, ...) succeeds silently.
		return "", nil
	}
	return f.iptables(ns, cmd)
}

func (f *FakeRunner) fail(cmd []string, code int, msg string) error {
	return &CommandError{
		Command:  FormatCommand(cmd[0], cmd[1:]...),
		ExitCode: code,
		Output:   msg,
		Err:      fmt.Errorf("exit status %d", code),
	}
}

func (f *FakeRunner) iptables(ns string, cmd []string) (string, error) {
	table := "filter"
	var rest []string
	for i := 1; i < len(cmd); i++ {
		switch cmd[i] {
		case "-t":
			if i+1 >= len(cmd) {
				return "", f.fail(cmd, 2, "option \"-t\" requires an argument")
			}
			table = cmd[i+1]
			i++
		case "-w":
		default:
			rest = append(rest, cmd[i])
		}
	}
	if len(rest) == 0 {
		return "", f.fail(cmd, 2, "no command specified")
	}
	if _, ok := builtinChains[table]; !ok {
		return "", f.fail(cmd, 3, fmt.Sprintf("can't initialize iptables table `%s': Table does not exist", table))
	}
	t := f.table(ns, table)

	verb, rest := rest[0], rest[1:]
	chain := ""
	if len(rest) > 0 {
		chain = rest[0]
		rest = rest[1:]
	}

	switch verb {
	case "--version", "-V":
		backend := f.Backend
		if backend == "" {
			backend = "legacy"
		}
		return fmt.Sprintf("iptables v1.8.10 (%s)\n", backend), nil

	case "-N":
		if _, ok := t.chains[chain]; ok {
			return "", f.fail(cmd, 1, "iptables: Chain already exists.")
		}
		t.order = append(t.order, chain)
		t.chains[chain] = nil
		t.user[chain] = true
		return "", nil

	case "-X":
		targets := []string{chain}
		if chain == "" {
			targets = nil
			for _, c := range t.order {
				if t.user[c] {
					targets = append(targets, c)
				}
			}
		}
		for _, c := range targets {
			if !t.user[c] {
				return "", f.fail(cmd, 1, "iptables: No chain/target/match by that name.")
			}
			if len(t.chains[c]) > 0 {
				return "", f.fail(cmd, 1, "iptables: Directory not empty.")
			}
			if t.referenced(c) {
				return "", f.fail(cmd, 1, "iptables: Too many links.")
			}
			delete(t.chains, c)
			delete(t.user, c)
			t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == c })
		}
		return "", nil

	case "-F":
		if chain == "" {
			for c := range t.chains {
				t.chains[c] = nil
			}
			return "", nil
		}
		if _, ok := t.chains[chain]; !ok {
			return "", f.fail(cmd, 1, "iptables: No chain/target/match by that name.")
		}
		t.chains[chain] = nil
		return "", nil

	case "-A", "-I":
		if _, ok := t.chains[chain]; !ok {
			return "", f.fail(cmd, 1, "iptables: No chain/target/match by that name.")
		}
		pos := 0
		if verb == "-I" && len(rest) > 0 {
			if n, err := strconv.Atoi(rest[0]); err == nil {
				pos = n - 1
				rest = rest[1:]
			}
		}
		if target := jumpTarget(rest); target != "" && !builtinTargets[target] {
			if _, ok := t.chains[target]; !ok {
				return "", f.fail(cmd, 2, fmt.Sprintf("iptables v1.8.10 (legacy): Couldn't load target `%s':No such file or directory", target))
			}
		}
		spec := slices.Clone(rest)
		if f.Rewrite != nil {
			spec = f.Rewrite(spec)
		}
		if verb == "-A" {
			t.chains[chain] = append(t.chains[chain], spec)
		} else {
			if pos < 0 || pos > len(t.chains[chain]) {
				return "", f.fail(cmd, 1, "iptables: Index of insertion too big.")
			}
			t.chains[chain] = slices.Insert(t.chains[chain], pos, spec)
		}
		return "", nil

	case "-C":
		if _, ok := t.chains[chain]; !ok {
			return "", f.fail(cmd, 1, "iptables: No chain/target/match by that name.")
		}
		if t.find(chain, rest) < 0 {
			return "", f.fail(cmd, 1, "iptables: Bad rule (does a matching rule exist in that chain?).")
		}
		return "", nil

	case "-D":
		if _, ok := t.chains[chain]; !ok {
			return "", f.fail(cmd, 1, "iptables: No chain/target/match by that name.")
		}
		idx := -1
		if len(rest) == 1 {
			if n, err := strconv.Atoi(rest[0]); err == nil {
				idx = n - 1
				if idx >= len(t.chains[chain]) {
					idx = -1
				}
			}
		}
		if idx < 0 {
			idx = t.find(chain, rest)
		}
		if idx < 0 {
			return "", f.fail(cmd, 1, "iptables: Bad rule (does a matching rule exist in that chain?).")
		}
		t.chains[chain] = slices.Delete(t.chains[chain], idx, idx+1)
		return "", nil

	case "-S":
		var b strings.Builder
		chains := t.order
		if chain != "" {
			if _, ok := t.chains[chain]; !ok {
				return "", f.fail(cmd, 1, "iptables: No chain/target/match by that name.")
			}
			chains = []string{chain}
		}
		for _, c := range chains {
			if t.user[c] {
				fmt.Fprintf(&b, "-N %s\n", c)
			} else {
				fmt.Fprintf(&b, "-P %s ACCEPT\n", c)
			}
		}
		for _, c := range chains {
			for _, spec := range t.chains[c] {
				b.WriteString(f.line(c, spec))
				b.WriteByte('\n')
			}
		}
		return b.String(), nil
	}

	return "", f.fail(cmd, 2, fmt.Sprintf("unknown option %q", verb))
}

func (f *FakeRunner) line(chain string, spec []string) string {
	parts := []string{"-A", chain}
	for i, tok := range spec {
		if i > 0 && spec[i-1] == "--comment" && (f.QuoteComments || strings.ContainsAny(tok, " \t")) {
			tok = strconv.Quote(tok)
		}
		parts = append(parts, tok)
	}
	return strings.Join(parts, " ")
}

func (t *fakeTable) find(chain string, spec []string) int {
	return slices.IndexFunc(t.chains[chain], func(r []string) bool { return slices.Equal(r, spec) })
}

func (t *fakeTable) referenced(chain string) bool {
	for _, rules := range t.chains {
		for _, r := range rules {
			if jumpTarget(r) == chain {
				return true
			}
		}
	}
	return false
}

func jumpTarget(spec []string) string {
	if i := slices.Index(spec, "-j"); i >= 0 && i+1 < len(spec) {
		return spec[i+1]
	}
	return ""
}
