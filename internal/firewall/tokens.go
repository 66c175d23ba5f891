package firewall

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Rule tokens are kept exactly as they were passed to iptables, e.g.
//
//	iptables -t nat -A POSTROUTING -s 10.10.1.0/24 -o eth0 -m comment --comment vpcctl:demo:nat -j MASQUERADE
//
// The helpers below are pure and never touch the kernel.

// SplitCommand separates the command prefix (everything up to and including
// the iptables binary, e.g. "ip netns exec ns-a iptables") from the iptables
// arguments.
func SplitCommand(rule []string) (prefix, args []string) {
	for i, tok := range rule {
		if strings.HasPrefix(filepath.Base(tok), "iptables") {
			return rule[:i+1], rule[i+1:]
		}
	}
	if len(rule) == 0 {
		return nil, nil
	}
	return rule[:1], rule[1:]
}

func isInsertVerb(tok string) bool {
	return tok == "-A" || tok == "-I"
}

// WithComment returns a copy of rule with "-m comment --comment <comment>"
// inserted before the first -j, or appended when there is no -j.
func WithComment(rule []string, comment string) []string {
	out := slices.Clone(rule)
	if comment == "" {
		return out
	}
	j := slices.Index(out, "-j")
	if j < 0 {
		j = len(out)
	}
	return slices.Insert(out, j, "-m", "comment", "--comment", comment)
}

// ReplaceVerb returns a copy of rule with its first -A/-I replaced by verb.
// An -I position number is dropped since -C and -D do not take one.
func ReplaceVerb(rule []string, verb string) []string {
	out := slices.Clone(rule)
	for i, tok := range out {
		if !isInsertVerb(tok) {
			continue
		}
		out[i] = verb
		if tok == "-I" && verb != "-I" && i+2 < len(out) {
			if _, err := strconv.Atoi(out[i+2]); err == nil {
				out = slices.Delete(out, i+2, i+3)
			}
		}
		return out
	}
	return out
}

// StripComment returns a copy of rule without its comment match.
func StripComment(rule []string) []string {
	out := make([]string, 0, len(rule))
	for i := 0; i < len(rule); i++ {
		tok := rule[i]
		if tok == "-m" && i+1 < len(rule) && rule[i+1] == "comment" {
			i++
			continue
		}
		if tok == "--comment" {
			i++
			continue
		}
		out = append(out, tok)
	}
	return out
}

// KeyTokens reduces a rule to the tokens used to find it in a live dump:
// the command prefix, table selection, insert/delete verb and comment match
// are dropped; everything else (chain, matches, target) stays.
func KeyTokens(rule []string) []string {
	_, args := SplitCommand(rule)
	keys := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case tok == "-t" || tok == "--comment":
			i++
		case tok == "-A" || tok == "-I" || tok == "-D":
		case tok == "-m" && i+1 < len(args) && args[i+1] == "comment":
			i++
		default:
			keys = append(keys, tok)
		}
	}
	return keys
}

// MatchesKeys reports whether line contains every key token as a substring.
func MatchesKeys(line string, keys []string) bool {
	for _, k := range keys {
		if !strings.Contains(line, k) {
			return false
		}
	}
	return true
}

// TableOf returns the table a rule targets.
func TableOf(rule []string) string {
	if i := slices.Index(rule, "-t"); i >= 0 && i+1 < len(rule) {
		return rule[i+1]
	}
	return "filter"
}

// ChainOf returns the chain named after the rule's verb.
func ChainOf(rule []string) string {
	for i, tok := range rule {
		switch tok {
		case "-A", "-I", "-D", "-C":
			if i+1 < len(rule) {
				return rule[i+1]
			}
		}
	}
	return ""
}

// CommentOf returns the rule's comment tag, or "".
func CommentOf(rule []string) string {
	if i := slices.Index(rule, "--comment"); i >= 0 && i+1 < len(rule) {
		return rule[i+1]
	}
	return ""
}
