package vpc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpcctl/internal/clock"
	"grimm.is/vpcctl/internal/config"
	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/metrics"
	"grimm.is/vpcctl/internal/network"
	"grimm.is/vpcctl/internal/state"
)

type startCall struct {
	ns      string
	argv    []string
	logFile string
}

type fakeProcs struct {
	mu         sync.Mutex
	nextPID    int
	started    []startCall
	terminated []int
}

func (p *fakeProcs) Start(ns string, argv []string, logFile string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextPID++
	p.started = append(p.started, startCall{ns: ns, argv: argv, logFile: logFile})
	return 4000 + p.nextPID, nil
}

func (p *fakeProcs) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, pid)
	return nil
}

type harness struct {
	fw     *firewall.FakeRunner
	kernel *network.FakeKernel
	store  state.Store
	procs  *fakeProcs
	cfg    *config.Config
	ctl    *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		fw:     firewall.NewFakeRunner(),
		kernel: network.NewFakeKernel(),
		procs:  &fakeProcs{},
		cfg:    config.Default(),
	}
	h.fw.NamespaceExists = func(ns string) bool {
		ok, _ := h.kernel.Exists(ns)
		return ok
	}
	h.cfg.StateDir = t.TempDir()
	h.cfg.AppLogDir = t.TempDir()

	store, err := state.NewFileStore(h.cfg.StateDir)
	require.NoError(t, err)
	h.store = store

	h.ctl = New(Options{
		Store:   store,
		Runner:  h.fw,
		Network: network.NewManagerWithDeps(h.kernel.Host(), h.kernel, h.kernel, h.kernel),
		Procs:   h.procs,
		Config:  h.cfg,
		Clock:   clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Metrics: metrics.New(),
	})
	return h
}

func (h *harness) mustCreate(t *testing.T, name, cidr string) {
	t.Helper()
	created, err := h.ctl.Create(name, cidr)
	require.NoError(t, err)
	require.True(t, created)
}

func (h *harness) mustSubnet(t *testing.T, vpc, name, cidr string) state.Subnet {
	t.Helper()
	res, err := h.ctl.AddSubnet(vpc, name, cidr, SubnetOptions{})
	require.NoError(t, err)
	return res.Subnet
}

func (h *harness) record(t *testing.T, name string) *state.VPC {
	t.Helper()
	v, err := h.store.Load(name)
	require.NoError(t, err)
	return v
}

// taggedRules returns the rules of chain whose comment contains tag.
func (h *harness) taggedRules(table, chain, tag string) []string {
	var out []string
	for _, r := range h.fw.Rules("", table, chain) {
		if strings.Contains(r, "--comment "+tag+" ") {
			out = append(out, r)
		}
	}
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind Kind
	}{
		{"nil", nil, 0, KindInternal},
		{"validation", validationError("create", "bad cidr"), 1, KindValidation},
		{"not found", notFoundError("peer", "VPC '%s' not found", "x"), 1, KindNotFound},
		{"privilege", PrivilegeError("create"), 2, KindPrivilege},
		{"external", externalError("create", errors.New("exit status 1")), 3, KindExternal},
		{"wrapped", fmt.Errorf("step: %w", externalError("peer", errors.New("boom"))), 3, KindExternal},
		{"plain", errors.New("boom"), 1, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
			if tt.err != nil {
				assert.Equal(t, tt.kind, KindOf(tt.err))
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := notFoundError("add-subnet", "VPC '%s' not found", "demo")
	assert.Equal(t, "add-subnet: VPC 'demo' not found", err.Error())
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, PrivilegeError("delete"), ErrPrivilege)
}

func TestCheckPrivilege(t *testing.T) {
	orig := geteuid
	t.Cleanup(func() { geteuid = orig })

	geteuid = func() int { return 1000 }
	err := CheckPrivilege("create", false)
	require.Error(t, err)
	assert.Equal(t, KindPrivilege, KindOf(err))
	assert.NoError(t, CheckPrivilege("create", true))

	geteuid = func() int { return 0 }
	assert.NoError(t, CheckPrivilege("create", false))
}

func TestCheckCommands(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })

	lookPath = func(name string) (string, error) {
		if name == "iptables" {
			return "/usr/sbin/iptables", nil
		}
		return "", exec.ErrNotFound
	}
	assert.NoError(t, CheckCommands("create", false, "iptables"))

	err := CheckCommands("create", false, "iptables", "iptables-legacy")
	require.Error(t, err)
	assert.Equal(t, KindPrivilege, KindOf(err))
	assert.Contains(t, err.Error(), `"iptables-legacy"`)
	assert.Equal(t, 2, ExitCode(err))

	assert.NoError(t, CheckCommands("create", true, "iptables-legacy"))
}

func TestListAndInspect(t *testing.T) {
	h := newHarness(t)
	h.mustCreate(t, "zeta", "10.30.0.0/16")
	h.mustCreate(t, "alpha", "10.10.0.0/16")

	names, err := h.ctl.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	v, found, err := h.ctl.Inspect("alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "10.10.0.0/16", v.CIDR)

	v, found, err = h.ctl.Inspect("missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}
