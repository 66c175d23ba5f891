// Package naming derives kernel-legal device, chain and namespace names from
// VPC and subnet names.
//
// Every name is a pure function of its inputs. No registry is kept, so the
// same VPC always maps to the same bridge, chain and veth names, and teardown
// can recompute them. Distinct long names may truncate to the same device
// name; callers do not detect that.
package naming

import (
	"regexp"
	"sort"
	"strings"

	"grimm.is/vpcctl/internal/brand"
)

// MaxIfNameLen is the usable length of a Linux interface name (IFNAMSIZ - 1).
const MaxIfNameLen = 15

// chainCoreLen bounds the sanitized part of a per-VPC chain name ("vpc-" + core).
const chainCoreLen = 10

var (
	invalidChars = regexp.MustCompile(`[^A-Za-z0-9-]`)
	dashRuns     = regexp.MustCompile(`-{2,}`)
)

// SafeIfName joins parts with "-", replaces every character outside
// [A-Za-z0-9-] with "-", collapses dash runs and truncates the result so that
// prefix+core+suffix fits in maxLen. When prefix and suffix alone do not leave
// room for a core, the truncated prefix+suffix is returned.
func SafeIfName(parts []string, prefix, suffix string, maxLen int) string {
	core := strings.Join(parts, "-")
	core = invalidChars.ReplaceAllString(core, "-")
	core = dashRuns.ReplaceAllString(core, "-")

	avail := maxLen - len(prefix) - len(suffix)
	if avail <= 0 {
		ps := prefix + suffix
		if maxLen < 0 {
			maxLen = 0
		}
		if len(ps) > maxLen {
			ps = ps[:maxLen]
		}
		return ps
	}
	if len(core) > avail {
		core = core[:avail]
	}
	return prefix + core + suffix
}

// Bridge returns the bridge device name for a VPC.
func Bridge(vpc string) string {
	return SafeIfName([]string{vpc}, "br-", "", MaxIfNameLen)
}

// Chain returns the dedicated filter chain name for a VPC.
func Chain(vpc string) string {
	return "vpc-" + SafeIfName([]string{vpc}, "", "", chainCoreLen)
}

// Namespace returns the network namespace name for a subnet. Namespace names
// are files under /run/netns and are not bound by IFNAMSIZ.
func Namespace(vpc, subnet string) string {
	return "ns-" + vpc + "-" + subnet
}

// SubnetVeths returns the veth pair for a subnet: the end that moves into the
// namespace and the end that stays attached to the VPC bridge.
func SubnetVeths(vpc, subnet string) (nsEnd, bridgeEnd string) {
	parts := []string{vpc, subnet}
	return SafeIfName(parts, "v-", "", MaxIfNameLen),
		SafeIfName(parts, "vbr-", "", MaxIfNameLen)
}

// PeerVeths returns the veth ends joining the bridges of a and b. The names
// derive from the unordered pair, so PeerVeths(a, b) and PeerVeths(b, a)
// yield the same two devices with the ends swapped. The first result
// attaches to a's bridge.
func PeerVeths(a, b string) (local, remote string) {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	parts := []string{lo, hi}
	loEnd := SafeIfName(parts, "pv-", "a", MaxIfNameLen)
	hiEnd := SafeIfName(parts, "pv-", "b", MaxIfNameLen)
	if a == lo {
		return loEnd, hiEnd
	}
	return hiEnd, loEnd
}

// Rule purposes embedded in ledger comment tags.
const (
	PurposeJump     = "jump"
	PurposeIntra    = "intra"
	PurposePeer     = "peer"
	PurposePeerDrop = "peer-drop"
	PurposeNAT      = "nat"
	PurposeFwdOut   = "fwd-out"
	PurposeFwdIn    = "fwd-in"
)

// TagPrefix starts every comment tag vpcctl writes.
func TagPrefix() string {
	return brand.CommentPrefix + ":"
}

// Tag builds a rule comment of the form "<prefix>:<scope>:<purpose>".
func Tag(scope, purpose string) string {
	return TagPrefix() + scope + ":" + purpose
}

// PairScope is the tag scope shared by both sides of a peering.
func PairScope(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "/" + pair[1]
}

// ParseTag splits a comment tag into scope and purpose. ok is false for
// comments vpcctl did not write.
func ParseTag(tag string) (scope, purpose string, ok bool) {
	rest, found := strings.CutPrefix(tag, TagPrefix())
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
