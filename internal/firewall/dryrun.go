package firewall

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrNoReader is returned by DryRunRunner.Output when no reader is configured.
var ErrNoReader = errors.New("preview: no live state reader")

// DryRunRunner records mutations instead of executing them. Read-only
// queries go to Reader, so a preview still sees which rules already exist.
type DryRunRunner struct {
	Reader CommandRunner
	Out    io.Writer

	mu       sync.Mutex
	commands []string
}

// NewDryRunRunner creates a preview runner echoing to stdout.
func NewDryRunRunner(reader CommandRunner) *DryRunRunner {
	return &DryRunRunner{Reader: reader, Out: os.Stdout}
}

// Run records and echoes the command.
func (d *DryRunRunner) Run(name string, args ...string) error {
	line := FormatCommand(name, args...)
	d.mu.Lock()
	d.commands = append(d.commands, line)
	d.mu.Unlock()
	if d.Out != nil {
		fmt.Fprintf(d.Out, ">>> %s\n", line)
	}
	return nil
}

// Output delegates to Reader.
func (d *DryRunRunner) Output(name string, args ...string) ([]byte, error) {
	if d.Reader == nil {
		return nil, ErrNoReader
	}
	return d.Reader.Output(name, args...)
}

// Commands returns the recorded command lines.
func (d *DryRunRunner) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}
