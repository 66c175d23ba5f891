package vpc

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

var (
	geteuid  = unix.Geteuid
	lookPath = exec.LookPath
)

// CheckPrivilege fails unless the process runs as root. Preview runs never
// touch the kernel and skip the check.
func CheckPrivilege(op string, preview bool) error {
	if preview || geteuid() == 0 {
		return nil
	}
	return PrivilegeError(op)
}

// CheckCommands fails when a binary vpcctl shells out to cannot be found.
// Missing tools are a host setup problem and share the privilege exit code.
func CheckCommands(op string, preview bool, binaries ...string) error {
	if preview {
		return nil
	}
	for _, b := range binaries {
		if _, err := lookPath(b); err != nil {
			return newError(KindPrivilege, op, fmt.Errorf("required command %q not found in PATH", b))
		}
	}
	return nil
}
