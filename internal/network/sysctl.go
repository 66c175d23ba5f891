package network

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

// IPForwardPath is the IPv4 forwarding switch.
const IPForwardPath = "/proc/sys/net/ipv4/ip_forward"

// RealSystemController reads and writes /proc/sys.
type RealSystemController struct{}

// sysctlPath accepts either a /proc/sys path or dotted notation such as
// net.ipv4.ip_forward.
func sysctlPath(key string) string {
	if strings.HasPrefix(key, "/") {
		return key
	}
	return "/proc/sys/" + strings.ReplaceAll(key, ".", "/")
}

// sysctlKey is the inverse of sysctlPath for /proc/sys paths. Other paths
// are returned unchanged.
func sysctlKey(path string) string {
	rest, ok := strings.CutPrefix(path, "/proc/sys/")
	if !ok {
		return path
	}
	return strings.ReplaceAll(rest, "/", ".")
}

func (RealSystemController) ReadSysctl(key string) (string, error) {
	b, err := os.ReadFile(sysctlPath(key))
	return strings.TrimSpace(string(b)), err
}

func (RealSystemController) WriteSysctl(key, value string) error {
	return os.WriteFile(sysctlPath(key), []byte(value+"\n"), 0o644)
}

func (RealSystemController) IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
