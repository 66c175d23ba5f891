package firewall

import (
	"github.com/stretchr/testify/mock"
)

// MockCommandRunner expects each invocation as the binary followed by its
// arguments:
//
//	m.On("Output", "iptables", "-C", "FORWARD", "-j", "ACCEPT").Return([]byte(nil), nil)
type MockCommandRunner struct{ mock.Mock }

func (m *MockCommandRunner) Run(name string, args ...string) error {
	return m.Called(argv(name, args)...).Error(0)
}

func (m *MockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	r := m.Called(argv(name, args)...)
	out, _ := r.Get(0).([]byte)
	return out, r.Error(1)
}

func argv(name string, args []string) []any {
	v := []any{name}
	for _, a := range args {
		v = append(v, a)
	}
	return v
}
