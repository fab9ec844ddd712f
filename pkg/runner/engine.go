// Package runner spawns and supervises OS processes for the execution
// core: plain-pipe or pseudo-terminal sessions with strict timeout,
// cancellation, backgrounding and resource-cleanup guarantees.
package runner

import (
	"context"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/execgate/pkg/errors"
	"github.com/odvcencio/execgate/pkg/logging"
	"github.com/odvcencio/execgate/pkg/telemetry"
)

// Engine defaults. All overridable per engine instance.
const (
	DefaultKillGrace = 2 * time.Second
	DefaultRetention = 5 * time.Minute
	DefaultMaxOutput = int64(10 * 1024 * 1024)
)

// Options configures one execution.
type Options struct {
	// PTY allocates a pseudo-terminal instead of plain pipes.
	PTY bool

	// Timeout kills the process after the duration elapses. Zero means
	// no timeout.
	Timeout time.Duration

	// Background returns the running handle immediately; callers poll
	// it by session id.
	Background bool

	// Cwd is the working directory for the process.
	Cwd string

	// Env replaces the process environment when non-nil.
	Env []string

	// MaxOutputBytes caps the aggregated output buffer; zero uses the
	// engine default.
	MaxOutputBytes int64
}

// TailChunk is a truncated view of a backgrounded session's output.
type TailChunk struct {
	Output   string
	Status   Status
	ExitCode int
}

// Engine executes commands and tracks live handles in an instance-owned
// registry keyed by session id. Construct one per gateway; there is no
// ambient global state.
type Engine struct {
	// KillGrace is the window between the graceful signal and the
	// forced kill.
	KillGrace time.Duration

	// Retention keeps terminal backgrounded handles pollable before
	// eviction.
	Retention time.Duration

	// MaxOutputBytes is the default aggregated-output cap.
	MaxOutputBytes int64

	// AllowBackground permits Options.Background requests.
	AllowBackground bool

	mu    sync.Mutex
	procs map[string]*Handle

	entropy *ulid.MonotonicEntropy
	logger  *logging.Logger
	metrics *telemetry.Metrics

	// onDispose is a test hook observing resource disposal per session.
	onDispose func(sessionID, resource string)
}

// NewEngine creates an execution engine with default limits.
func NewEngine(logger *logging.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		KillGrace:       DefaultKillGrace,
		Retention:       DefaultRetention,
		MaxOutputBytes:  DefaultMaxOutput,
		AllowBackground: true,
		procs:           make(map[string]*Handle),
		entropy:         ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:          logger,
		metrics:         metrics,
	}
}

// Exec spawns argv and returns a running handle. The terminal state is
// reached asynchronously; foreground callers follow up with Wait,
// background callers poll via Tail.
func (e *Engine) Exec(ctx context.Context, argv []string, opts Options) (*Handle, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty argv")
	}
	if opts.Background && !e.AllowBackground {
		return nil, errors.New(errors.ErrCodeInvalidInput, "background execution not allowed")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = e.MaxOutputBytes
	}

	handle := &Handle{
		SessionID: e.newSessionID(),
		Cwd:       opts.Cwd,
		engine:    e,
		cmd:       cmd,
		buf:       newOutputBuffer(maxOutput),
		guard:     &releaseGuard{},
		done:      make(chan struct{}),
		killGrace: e.KillGrace,
		status:    StatusRunning,
	}
	if e.onDispose != nil {
		sessionID := handle.SessionID
		handle.guard.onRelease = func(resource string) {
			e.onDispose(sessionID, resource)
		}
	}

	var output *os.File
	if opts.PTY {
		// pty.Start puts the child in a new session with the terminal
		// as its controlling tty; the new session is its own process
		// group, so group signalling works without Setpgid.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			e.countSpawnFailure()
			return nil, errors.Wrap(err, errors.ErrCodeSpawnFailed, "starting pty session")
		}
		output = ptmx
		handle.guard.add(resourceOutput, func() {})
		handle.guard.add(resourcePTY, func() { ptmx.Close() })
	} else {
		setProcessGroup(cmd)
		pr, pw, err := os.Pipe()
		if err != nil {
			e.countSpawnFailure()
			return nil, errors.Wrap(err, errors.ErrCodeSpawnFailed, "allocating output pipe")
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		if err := cmd.Start(); err != nil {
			pr.Close()
			pw.Close()
			e.countSpawnFailure()
			return nil, errors.Wrap(err, errors.ErrCodeSpawnFailed, "starting process").
				With("executable", argv[0])
		}
		// The child owns its copies of the write end now.
		pw.Close()
		output = pr
		handle.guard.add(resourceOutput, func() { pr.Close() })
	}
	handle.guard.add(resourceExit, func() {})

	handle.PID = cmd.Process.Pid
	handle.StartedAt = time.Now()

	e.mu.Lock()
	e.procs[handle.SessionID] = handle
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ExecsStarted.Inc()
		e.metrics.ActiveSessions.Inc()
	}
	e.logger.WithSession(handle.SessionID).Log(logging.LevelInfo, logging.CategoryExec, "started", argv[0], map[string]any{
		"pid":        handle.PID,
		"pty":        opts.PTY,
		"background": opts.Background,
	})

	go handle.supervise(ctx, output, opts.Timeout)
	return handle, nil
}

// Cancel requests early termination of a running handle. Cancelling a
// handle that already reached a terminal state is a no-op.
func (e *Engine) Cancel(sessionID string) error {
	handle, ok := e.get(sessionID)
	if !ok {
		return errors.Newf(errors.ErrCodeSessionNotFound, "no session %s", sessionID)
	}
	if handle.Status() != StatusRunning {
		return nil
	}
	handle.kill(causeCancel)
	return nil
}

// Tail returns a truncated tail of a session's aggregated output along
// with its current status.
func (e *Engine) Tail(sessionID string, maxBytes int) (TailChunk, error) {
	handle, ok := e.get(sessionID)
	if !ok {
		return TailChunk{}, errors.Newf(errors.ErrCodeSessionNotFound, "no session %s", sessionID)
	}
	handle.mu.Lock()
	status := handle.status
	exitCode := handle.exitCode
	handle.mu.Unlock()
	return TailChunk{
		Output:   handle.buf.Tail(maxBytes),
		Status:   status,
		ExitCode: exitCode,
	}, nil
}

// Get returns the handle for a session id.
func (e *Engine) Get(sessionID string) (*Handle, bool) {
	return e.get(sessionID)
}

func (e *Engine) get(sessionID string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	handle, ok := e.procs[sessionID]
	return handle, ok
}

// release removes a session from the registry once its terminal result
// has been consumed. Safe to call more than once.
func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	handle, ok := e.procs[sessionID]
	delete(e.procs, sessionID)
	e.mu.Unlock()
	if !ok {
		return
	}
	handle.stopRetentionTimer()
	if e.metrics != nil {
		e.metrics.ActiveSessions.Dec()
	}
}

// handleExited records metrics and schedules registry eviction after
// the retention window, keeping backgrounded sessions pollable for a
// bounded time.
func (e *Engine) handleExited(h *Handle, cause string) {
	result := h.snapshot()
	if e.metrics != nil {
		switch {
		case cause == causeTimeout:
			e.metrics.ExecsTimedOut.Inc()
			e.metrics.ExecsFailed.Inc()
		case result.ExitCode != 0 || cause != "":
			e.metrics.ExecsFailed.Inc()
		default:
			e.metrics.ExecsCompleted.Inc()
		}
		e.metrics.ExecDuration.Observe(result.Duration.Seconds())
	}

	e.logger.WithSession(h.SessionID).Log(logging.LevelInfo, logging.CategoryExec, "exited", "", map[string]any{
		"exit_code":   result.ExitCode,
		"duration_ms": result.Duration.Milliseconds(),
		"timed_out":   result.TimedOut,
		"cancelled":   result.Cancelled,
	})

	retention := e.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	// Only still-registered sessions need eviction; a foreground Wait
	// may have consumed the entry already.
	e.mu.Lock()
	if _, ok := e.procs[h.SessionID]; ok {
		h.setRetentionTimer(time.AfterFunc(retention, func() { e.release(h.SessionID) }))
	}
	e.mu.Unlock()
}

func (e *Engine) countSpawnFailure() {
	if e.metrics != nil {
		e.metrics.ExecsFailed.Inc()
	}
}

func (e *Engine) newSessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String()
}
