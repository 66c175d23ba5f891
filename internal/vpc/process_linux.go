//go:build linux

package vpc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExecProcessManager runs apps with ip-netns-exec as detached children.
type ExecProcessManager struct{}

// NewProcessManager returns the platform process manager.
func NewProcessManager() ProcessManager {
	return &ExecProcessManager{}
}

func (m *ExecProcessManager) Start(ns string, argv []string, logFile string) (int, error) {
	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open app log: %w", err)
	}
	defer out.Close()

	args := NamespaceCommand(ns, argv)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	// Own session so the app outlives this process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

func (m *ExecProcessManager) Terminate(pid int) error {
	err := unix.Kill(pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
