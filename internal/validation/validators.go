// Package validation checks operator input before it reaches the kernel,
// an iptables argv or a state file name.
package validation

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"slices"
	"strings"
)

// ErrInvalid is wrapped by every error this package returns.
var ErrInvalid = errors.New("invalid input")

// MaxNameLength bounds VPC and subnet names.
const MaxNameLength = 64

// IFNAMSIZ minus the terminating NUL.
const maxIfaceLen = 15

var (
	ifaceRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	nameRe  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

	// Shell metacharacters, quotes and line breaks.
	shellMeta = ";|&$`()<>\\\"'\n\r"

	portProtocols = []string{"tcp", "udp", "sctp", "udplite"}
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// ValidateInterfaceName checks a host interface name such as eth0 or br-demo.
func ValidateInterfaceName(name string) error {
	switch {
	case name == "":
		return invalid("interface name cannot be empty")
	case len(name) > maxIfaceLen:
		return invalid("interface name %s too long (max %d characters)", name, maxIfaceLen)
	case !ifaceRe.MatchString(name):
		return invalid("interface name %s may only contain letters, digits and -_.", name)
	}
	return nil
}

// ValidateName checks a VPC or subnet name; kind labels the error.
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return invalid("%s name cannot be empty", kind)
	case len(name) > MaxNameLength:
		return invalid("%s name too long (max %d characters)", kind, MaxNameLength)
	case strings.ContainsAny(name, shellMeta):
		i := strings.IndexAny(name, shellMeta)
		return invalid("%s name contains shell metacharacter %q", kind, name[i])
	case !nameRe.MatchString(name):
		return invalid("%s name %s must start with a letter or digit followed by letters, digits, - or _", kind, name)
	}
	return nil
}

// ParseIPv4Prefix parses a network CIDR. Host bits must be zero.
func ParseIPv4Prefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, invalid("CIDR cannot be empty")
	}
	p, err := netip.ParsePrefix(s)
	switch {
	case err != nil:
		return netip.Prefix{}, invalid("CIDR %q: %v", s, err)
	case !p.Addr().Is4():
		return netip.Prefix{}, invalid("CIDR %q: only IPv4 is supported", s)
	case p != p.Masked():
		return netip.Prefix{}, invalid("CIDR %q has host bits set, use %s", s, p.Masked())
	}
	return p, nil
}

// ParseIPv4Addr parses a single IPv4 address.
func ParseIPv4Addr(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, invalid("IP address %q: %v", s, err)
	}
	if !a.Is4() {
		return netip.Addr{}, invalid("IP address %q: only IPv4 is supported", s)
	}
	return a, nil
}

// ValidatePortNumber accepts 1-65535.
func ValidatePortNumber(port int) error {
	if port >= 1 && port <= 65535 {
		return nil
	}
	return fmt.Errorf("%w: invalid port %d, want 1-65535", ErrInvalid, port)
}

// ValidateProtocol accepts the protocols iptables allows with --dport.
func ValidateProtocol(proto string) error {
	if slices.Contains(portProtocols, strings.ToLower(proto)) {
		return nil
	}
	return fmt.Errorf("%w: invalid protocol %s, want one of %s", ErrInvalid, proto, strings.Join(portProtocols, ", "))
}
