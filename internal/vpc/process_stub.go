//go:build !linux

package vpc

import "errors"

var errUnsupported = errors.New("app processes are only supported on linux")

type unsupportedProcessManager struct{}

// NewProcessManager returns the platform process manager.
func NewProcessManager() ProcessManager {
	return unsupportedProcessManager{}
}

func (unsupportedProcessManager) Start(string, []string, string) (int, error) {
	return 0, errUnsupported
}

func (unsupportedProcessManager) Terminate(int) error {
	return errUnsupported
}
