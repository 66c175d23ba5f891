// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// RequireKernel skips the test unless VPCCTL_KERNEL_TEST is set and the test
// runs as root. Tests that create real namespaces, bridges or iptables rules
// call this first.
func RequireKernel(t *testing.T) {
	t.Helper()
	if os.Getenv("VPCCTL_KERNEL_TEST") == "" {
		t.Skip("Skipping test: requires VPCCTL_KERNEL_TEST environment")
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
