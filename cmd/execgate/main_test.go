package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/execgate/pkg/approval"
	"github.com/odvcencio/execgate/pkg/config"
	"github.com/odvcencio/execgate/pkg/gateway"
)

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, 1, exitCodeForError(errors.New("boom")))
	assert.Equal(t, 3, exitCodeForError(withExitCode(errors.New("boom"), 3)))
	assert.Equal(t, 1, exitCodeForError(withExitCode(errors.New("boom"), 0)))
}

func TestWithExitCodeNil(t *testing.T) {
	assert.NoError(t, withExitCode(nil, 3))
}

func TestBuildGatewayAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Approval.Host = "ci-host"
	cfg.Wrapper.MaxDepth = 3
	cfg.Runner.KillGraceMS = 750
	cfg.Runner.AllowBackground = false
	cfg.Sandbox.Root = t.TempDir()
	cfg.Sandbox.WorkspaceOnly = true

	g, err := buildGateway(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ci-host", g.Policy.Host)
	assert.Equal(t, 3, g.WrapperDepth)
	assert.Equal(t, int64(750), g.Runner.KillGrace.Milliseconds())
	assert.False(t, g.Runner.AllowBackground)
	require.NotNil(t, g.Sandbox)
	assert.Equal(t, cfg.Sandbox.Root, g.Sandbox.Root)
}

func TestBuildGatewayWithoutSandboxRoot(t *testing.T) {
	g, err := buildGateway(config.Default())
	require.NoError(t, err)
	assert.Nil(t, g.Sandbox, "no confinement without a configured root")
	assert.NotEmpty(t, g.Policy.Host, "hostname fallback fills the policy host")
}

func TestConfirmPendingPreApproved(t *testing.T) {
	ok, err := confirmPending(&approval.Record{ID: "x", Slug: "make-abc123"}, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirmPendingWithoutTerminal(t *testing.T) {
	orig := stdinIsTerminalFn
	stdinIsTerminalFn = func() bool { return false }
	defer func() { stdinIsTerminalFn = orig }()

	ok, err := confirmPending(&approval.Record{ID: "x", Slug: "make-abc123"}, false)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, 1, exitCodeForError(err))
}

func TestReportResultDenied(t *testing.T) {
	err := reportResult(&gateway.Result{
		Status: gateway.StatusDenied,
		Reason: "not-in-allowlist",
	}, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-in-allowlist")
	assert.Equal(t, 1, exitCodeForError(err))
}

func TestReportResultFailedPropagatesExitCode(t *testing.T) {
	err := reportResult(&gateway.Result{
		Status:   gateway.StatusFailed,
		ExitCode: 42,
	}, nil, false)
	require.Error(t, err)
	assert.Equal(t, 42, exitCodeForError(err))
}

func TestAnalyzeCommandRejectsDynamicConstructs(t *testing.T) {
	err := analyzeCommand([]string{"echo", "$(whoami)"})
	require.Error(t, err)
	assert.Equal(t, 1, exitCodeForError(err))
}

func TestResolveCommandUsage(t *testing.T) {
	err := resolveCommand(nil)
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
}
