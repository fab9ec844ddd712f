package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/execgate/pkg/launcher"
)

func newTestEngine() *Engine {
	e := NewEngine(nil, nil)
	e.lookPath = func(name string) (string, error) {
		return "/usr/bin/" + name, nil
	}
	e.realPath = func(path string) (string, error) {
		return path, nil
	}
	return e
}

func fullPolicy() Policy {
	return Policy{
		Host:     "test-host",
		Security: LevelFull,
		Ask:      AskAlways,
		SafeBins: []string{"ls", "cat", "grep"},
	}
}

func TestDecideSecurityOff(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.Security = LevelOff

	d := e.Decide(launcher.Resolve([]string{"ls"}), pol, Request{Command: "ls"})
	assert.Equal(t, Denied, d.Kind)
	assert.Equal(t, ReasonSecurityOff, d.Reason)

	// Even allowlisted bins are denied with security off.
	pol.SafeBins = []string{"ls"}
	d = e.Decide(launcher.Resolve([]string{"ls"}), pol, Request{Command: "ls"})
	assert.Equal(t, Denied, d.Kind)
}

func TestDecideSafeBinAutoRuns(t *testing.T) {
	e := newTestEngine()

	d := e.Decide(launcher.Resolve([]string{"ls", "-la"}), fullPolicy(), Request{Command: "ls -la"})
	assert.Equal(t, AutoRun, d.Kind)
	assert.Nil(t, d.Record)
}

func TestDecideUnlistedBinPending(t *testing.T) {
	e := newTestEngine()

	d := e.Decide(launcher.Resolve([]string{"rm", "-rf", "x"}), fullPolicy(), Request{Command: "rm -rf x"})
	require.Equal(t, Pending, d.Kind)
	require.NotNil(t, d.Record)
	assert.NotEmpty(t, d.Record.ID)
	assert.NotEmpty(t, d.Record.Slug)
	assert.Equal(t, "test-host", d.Record.Host)
	assert.Equal(t, "rm -rf x", d.Record.Command)
	assert.Equal(t, "rm", d.Record.Executable)
}

func TestDecideAskOffDenies(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.Ask = AskOff

	d := e.Decide(launcher.Resolve([]string{"rm", "x"}), pol, Request{Command: "rm x"})
	assert.Equal(t, Denied, d.Kind)
	assert.Equal(t, ReasonNotInAllowlist, d.Reason)
}

func TestDecideRestrictedNeverAutoRuns(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.Security = LevelRestricted

	// Allowlisted bin still only gets the ask flow under restricted.
	d := e.Decide(launcher.Resolve([]string{"ls"}), pol, Request{Command: "ls"})
	assert.Equal(t, Pending, d.Kind)
}

func TestDecideTrustedDirs(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.TrustedDirs = []string{"/usr/bin"}

	d := e.Decide(launcher.Resolve([]string{"ls"}), pol, Request{Command: "ls"})
	assert.Equal(t, AutoRun, d.Kind, "binary under trusted dir auto-runs")

	// Same name, binary living outside every trusted dir: no auto-run.
	e.lookPath = func(name string) (string, error) {
		return "/home/attacker/bin/" + name, nil
	}
	d = e.Decide(launcher.Resolve([]string{"ls"}), pol, Request{Command: "ls"})
	assert.Equal(t, Pending, d.Kind)
}

func TestDecideTrustedDirsWrappedCommand(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.TrustedDirs = []string{"/usr/bin"}

	// The wrapper sits in a trusted dir; the binary it launches does
	// not. The wrapper's path must not vouch for the binary.
	e.lookPath = func(name string) (string, error) {
		return "/home/attacker/bin/" + name, nil
	}
	res := launcher.Resolve([]string{"/usr/bin/env", "ls"})
	d := e.Decide(res, pol, Request{Command: "/usr/bin/env ls", ExecutablePath: "/usr/bin/env"})
	assert.Equal(t, Pending, d.Kind, "resolved binary lives outside every trusted dir")

	// Same shape with the binary actually under the trusted dir.
	e.lookPath = func(name string) (string, error) {
		return "/usr/bin/" + name, nil
	}
	d = e.Decide(res, pol, Request{Command: "/usr/bin/env ls", ExecutablePath: "/usr/bin/env"})
	assert.Equal(t, AutoRun, d.Kind)
}

func TestDecideTrustedDirsWrappedExplicitPath(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.TrustedDirs = []string{"/usr/bin"}

	res := launcher.Resolve([]string{"env", "/opt/tools/ls"})
	d := e.Decide(res, pol, Request{Command: "env /opt/tools/ls", ExecutablePath: "env"})
	assert.Equal(t, Pending, d.Kind, "explicitly pathed binary outside trusted dirs must not auto-run")
}

func TestDecideTrustedDirLookupFailure(t *testing.T) {
	e := newTestEngine()
	e.lookPath = func(string) (string, error) {
		return "", errors.New("not found")
	}
	pol := fullPolicy()
	pol.TrustedDirs = []string{"/usr/bin"}

	d := e.Decide(launcher.Resolve([]string{"ls"}), pol, Request{Command: "ls"})
	assert.Equal(t, Pending, d.Kind, "unverifiable binary must not auto-run")
}

func TestApprovalRoundTrip(t *testing.T) {
	e := newTestEngine()
	res := launcher.Resolve([]string{"rm", "x"})

	d := e.Decide(res, fullPolicy(), Request{Command: "rm x"})
	require.Equal(t, Pending, d.Kind)
	require.Equal(t, 1, e.PendingCount())

	// Presenting the id transitions Pending -> AutoRun without
	// re-evaluating the allowlist, and consumes the record.
	granted := e.Decide(res, fullPolicy(), Request{Command: "rm x", ApprovalID: d.Record.ID})
	assert.Equal(t, AutoRun, granted.Kind)
	assert.Equal(t, 0, e.PendingCount())

	// The record is gone; replaying the id is unknown.
	replay := e.Decide(res, fullPolicy(), Request{Command: "rm x", ApprovalID: d.Record.ID})
	assert.Equal(t, Denied, replay.Kind)
	assert.Equal(t, ReasonApprovalUnknown, replay.Reason)
}

func TestConsumeRejectsDifferentCommand(t *testing.T) {
	e := newTestEngine()
	res := launcher.Resolve([]string{"rm", "-rf", "x"})

	d := e.Decide(res, fullPolicy(), Request{Command: "rm -rf x"})
	require.Equal(t, Pending, d.Kind)

	// Spending the sign-off on another command is refused, and the
	// record survives for the command it covers.
	other := e.Decide(launcher.Resolve([]string{"dd"}), fullPolicy(), Request{
		Command:    "dd if=/dev/zero of=disk",
		ApprovalID: d.Record.ID,
	})
	assert.Equal(t, Denied, other.Kind)
	assert.Equal(t, ReasonApprovalMismatch, other.Reason)
	assert.Equal(t, 1, e.PendingCount())

	granted := e.Decide(res, fullPolicy(), Request{Command: "rm -rf x", ApprovalID: d.Record.ID})
	assert.Equal(t, AutoRun, granted.Kind)
}

func TestConsumeRejectsDifferentCwd(t *testing.T) {
	e := newTestEngine()
	res := launcher.Resolve([]string{"rm", "x"})

	d := e.Decide(res, fullPolicy(), Request{Command: "rm x", Cwd: "/workspace/a"})
	require.Equal(t, Pending, d.Kind)

	other := e.Decide(res, fullPolicy(), Request{
		Command:    "rm x",
		Cwd:        "/workspace/b",
		ApprovalID: d.Record.ID,
	})
	assert.Equal(t, Denied, other.Kind)
	assert.Equal(t, ReasonApprovalMismatch, other.Reason)
}

func TestElevationGateBareWrapper(t *testing.T) {
	e := newTestEngine()
	res := launcher.Resolve([]string{"sudo", "-i"})
	require.True(t, res.Elevated)

	d := e.Decide(res, fullPolicy(), Request{Command: "sudo -i"})
	assert.Equal(t, Denied, d.Kind)
	assert.Equal(t, ReasonElevationNotAllowed, d.Reason)
}

func TestApprovalExpiry(t *testing.T) {
	e := newTestEngine()
	current := time.Now()
	e.now = func() time.Time { return current }

	res := launcher.Resolve([]string{"rm", "x"})
	d := e.Decide(res, fullPolicy(), Request{Command: "rm x", TTL: 30 * time.Second})
	require.Equal(t, Pending, d.Kind)

	current = current.Add(31 * time.Second)

	expired := e.Decide(res, fullPolicy(), Request{Command: "rm x", ApprovalID: d.Record.ID})
	assert.Equal(t, Denied, expired.Kind)
	assert.Equal(t, ReasonApprovalExpired, expired.Reason)
	assert.Equal(t, 0, e.PendingCount(), "expired record is consumed")
}

func TestDenyDestroysRecord(t *testing.T) {
	e := newTestEngine()
	res := launcher.Resolve([]string{"rm", "x"})

	d := e.Decide(res, fullPolicy(), Request{Command: "rm x"})
	require.Equal(t, Pending, d.Kind)

	e.Deny(d.Record.ID)
	assert.Equal(t, 0, e.PendingCount())

	after := e.Decide(res, fullPolicy(), Request{Command: "rm x", ApprovalID: d.Record.ID})
	assert.Equal(t, ReasonApprovalUnknown, after.Reason)

	// Denying again is a no-op.
	e.Deny(d.Record.ID)
}

func TestUnknownApprovalID(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(launcher.Resolve([]string{"ls"}), fullPolicy(), Request{ApprovalID: "no-such-id"})
	assert.Equal(t, Denied, d.Kind)
	assert.Equal(t, ReasonApprovalUnknown, d.Reason)
}

func TestElevationGate(t *testing.T) {
	elevated := launcher.Resolve([]string{"sudo", "ls"})
	require.True(t, elevated.Elevated)

	t.Run("disabled gate denies", func(t *testing.T) {
		e := newTestEngine()
		d := e.Decide(elevated, fullPolicy(), Request{Command: "sudo ls"})
		assert.Equal(t, Denied, d.Kind)
		assert.Equal(t, ReasonElevationNotAllowed, d.Reason)
	})

	t.Run("enabled but not allowed denies", func(t *testing.T) {
		e := newTestEngine()
		pol := fullPolicy()
		pol.Elevated = ElevatedDefaults{Enabled: true, Allowed: false}
		d := e.Decide(elevated, pol, Request{Command: "sudo ls"})
		assert.Equal(t, Denied, d.Kind)
	})

	t.Run("allowed keeps base decision", func(t *testing.T) {
		e := newTestEngine()
		pol := fullPolicy()
		pol.Elevated = ElevatedDefaults{Enabled: true, Allowed: true, DefaultLevel: LevelFull}
		d := e.Decide(elevated, pol, Request{Command: "sudo ls"})
		assert.Equal(t, AutoRun, d.Kind)
	})

	t.Run("stricter default level narrows auto-run to pending", func(t *testing.T) {
		e := newTestEngine()
		pol := fullPolicy()
		pol.Elevated = ElevatedDefaults{Enabled: true, Allowed: true, DefaultLevel: LevelRestricted}
		d := e.Decide(elevated, pol, Request{Command: "sudo ls"})
		assert.Equal(t, Pending, d.Kind)
	})

	t.Run("gate never widens a denial", func(t *testing.T) {
		e := newTestEngine()
		pol := fullPolicy()
		pol.Security = LevelOff
		pol.Elevated = ElevatedDefaults{Enabled: true, Allowed: true, DefaultLevel: LevelFull}
		d := e.Decide(elevated, pol, Request{Command: "sudo ls"})
		assert.Equal(t, Denied, d.Kind)
		assert.Equal(t, ReasonSecurityOff, d.Reason)
	})
}

func TestOnNewBinaryMode(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.Ask = AskOnNewBinary
	res := launcher.Resolve([]string{"rm", "x"})

	first := e.Decide(res, pol, Request{Command: "rm x"})
	require.Equal(t, Pending, first.Kind, "unseen binary prompts")

	granted := e.Decide(res, pol, Request{Command: "rm x", ApprovalID: first.Record.ID})
	require.Equal(t, AutoRun, granted.Kind)

	second := e.Decide(res, pol, Request{Command: "rm y"})
	assert.Equal(t, AutoRun, second.Kind, "previously granted binary auto-runs")

	other := e.Decide(launcher.Resolve([]string{"dd"}), pol, Request{Command: "dd"})
	assert.Equal(t, Pending, other.Kind, "a different binary still prompts")
}

func TestLookup(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(launcher.Resolve([]string{"rm", "x"}), fullPolicy(), Request{Command: "rm x"})
	require.Equal(t, Pending, d.Kind)

	record, ok := e.Lookup(d.Record.ID)
	require.True(t, ok)
	assert.Equal(t, d.Record.ID, record.ID)

	_, ok = e.Lookup("missing")
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"off": LevelOff, "OFF": LevelOff, "none": LevelOff,
		"restricted": LevelRestricted, "full": LevelFull,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("bogus")
	assert.Error(t, err)
}

func TestParseAskMode(t *testing.T) {
	for in, want := range map[string]AskMode{
		"off": AskOff, "always": AskAlways, "on-new-binary": AskOnNewBinary,
	} {
		got, err := ParseAskMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAskMode("sometimes")
	assert.Error(t, err)
}

func TestGrantConsumesRecord(t *testing.T) {
	e := newTestEngine()

	d := e.Decide(launcher.Resolve([]string{"make"}), fullPolicy(), Request{Command: "make"})
	require.Equal(t, Pending, d.Kind)

	record, ok := e.Grant(d.Record.ID)
	require.True(t, ok)
	assert.Equal(t, d.Record.ID, record.ID)

	// Consumed: a second grant and a later consume both miss.
	_, ok = e.Grant(d.Record.ID)
	assert.False(t, ok)
	replay := e.Decide(launcher.Resolve([]string{"make"}), fullPolicy(), Request{
		Command:    "make",
		ApprovalID: d.Record.ID,
	})
	assert.Equal(t, Denied, replay.Kind)
	assert.Equal(t, ReasonApprovalUnknown, replay.Reason)
}

func TestGrantFeedsOnNewBinaryMode(t *testing.T) {
	e := newTestEngine()
	pol := fullPolicy()
	pol.Ask = AskOnNewBinary

	d := e.Decide(launcher.Resolve([]string{"cargo", "build"}), pol, Request{Command: "cargo build"})
	require.Equal(t, Pending, d.Kind)

	_, ok := e.Grant(d.Record.ID)
	require.True(t, ok)

	// The granted binary now auto-runs without a record id.
	again := e.Decide(launcher.Resolve([]string{"cargo", "test"}), pol, Request{Command: "cargo test"})
	assert.Equal(t, AutoRun, again.Kind)
}
