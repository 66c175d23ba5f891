package firewall

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"grimm.is/vpcctl/internal/logging"
	"grimm.is/vpcctl/internal/metrics"
)

// CommandRunner abstracts external command execution.
// Run is used for mutations; Output for read-only queries (checks, listings).
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// CommandError is returned when a command exits non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Output)
	if msg == "" {
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.Err, msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// xtablesLockExit is the iptables exit status for "another app is holding the xtables lock".
const xtablesLockExit = 4

// RealCommandRunner executes actual commands.
type RealCommandRunner struct {
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewRealCommandRunner creates a runner that logs every command it runs.
func NewRealCommandRunner() *RealCommandRunner {
	return &RealCommandRunner{
		logger:  logging.WithComponent("exec"),
		metrics: metrics.Get(),
	}
}

// Run executes a command, returning a *CommandError on failure. Lock
// contention on the xtables lock is marked temporary so callers may retry.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	line := FormatCommand(name, args...)
	r.logger.Info("run", "cmd", line)

	out, err := exec.Command(name, args...).CombinedOutput()
	r.metrics.RecordCommand(filepath.Base(name), err)
	if err != nil {
		cerr := newCommandError(line, err, out)
		if cerr.ExitCode == xtablesLockExit || bytes.Contains(out, []byte("xtables lock")) {
			return Temporary(cerr)
		}
		return cerr
	}
	return nil
}

// Output executes a command and returns its stdout.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	line := FormatCommand(name, args...)
	r.logger.Debug("query", "cmd", line)

	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, newCommandError(line, err, stderr.Bytes())
	}
	return out, nil
}

func newCommandError(line string, err error, out []byte) *CommandError {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{Command: line, ExitCode: code, Output: string(out), Err: err}
}

// IsCommandExit reports whether err is a *CommandError with the given exit status.
func IsCommandExit(err error, code int) bool {
	var cerr *CommandError
	return errors.As(err, &cerr) && cerr.ExitCode == code
}

// FormatCommand renders a command line for logs and previews. Arguments
// containing whitespace or quotes are double-quoted.
func FormatCommand(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{name}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
