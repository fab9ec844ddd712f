package runner

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/execgate/pkg/errors"
)

// Status is the lifecycle state of a process handle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Termination causes recorded on the handle. Timeout is distinct from
// a merely failing process.
const (
	causeTimeout = "timeout"
	causeCancel  = "cancel"
)

// Result is the terminal outcome of one execution.
type Result struct {
	ExitCode  int
	Duration  time.Duration
	Output    string
	Truncated bool
	TimedOut  bool
	Cancelled bool
}

// Handle supervises one spawned process. Callers hold it to wait for
// completion or to poll a backgrounded session.
type Handle struct {
	SessionID string
	PID       int
	StartedAt time.Time
	Cwd       string

	engine    *Engine
	cmd       *exec.Cmd
	buf       *outputBuffer
	guard     *releaseGuard
	done      chan struct{}
	killOnce  sync.Once
	killGrace time.Duration

	mu        sync.Mutex
	status    Status
	exitCode  int
	duration  time.Duration
	cause     string
	retention *time.Timer
}

// setRetentionTimer records the eviction timer so release can stop it.
func (h *Handle) setRetentionTimer(timer *time.Timer) {
	h.mu.Lock()
	h.retention = timer
	h.mu.Unlock()
}

func (h *Handle) stopRetentionTimer() {
	h.mu.Lock()
	timer := h.retention
	h.retention = nil
	h.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed when the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// kill starts the termination sequence exactly once: graceful signal,
// grace window, then force kill. The first cause to arrive wins.
func (h *Handle) kill(cause string) {
	h.killOnce.Do(func() {
		h.mu.Lock()
		h.cause = cause
		h.mu.Unlock()

		terminateProcess(h.PID)
		grace := h.killGrace
		if grace <= 0 {
			grace = DefaultKillGrace
		}
		forceTimer := time.AfterFunc(grace, func() {
			killProcess(h.PID)
		})
		go func() {
			<-h.done
			forceTimer.Stop()
		}()
	})
}

// supervise pumps output and waits for exit. The output stream drains
// fully before the exit is recorded, so the exit notification is
// always the last event observed for the process.
func (h *Handle) supervise(ctx context.Context, output io.Reader, timeout time.Duration) {
	var eg errgroup.Group
	eg.Go(func() error {
		chunk := make([]byte, 32*1024)
		for {
			n, err := output.Read(chunk)
			if n > 0 {
				h.buf.Append(chunk[:n])
			}
			if err != nil {
				// PTY reads end with EIO rather than EOF; either way
				// the stream is done.
				return nil
			}
		}
	})

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() { h.kill(causeTimeout) })
	}
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			h.kill(causeCancel)
		case <-watchDone:
		}
	}()

	eg.Wait()
	waitErr := h.cmd.Wait()
	if timer != nil {
		timer.Stop()
	}
	close(watchDone)
	h.finish(waitErr)
}

// finish records the terminal state, releases every registered
// resource exactly once, and notifies waiters.
func (h *Handle) finish(waitErr error) {
	exitCode := exitCodeOf(waitErr)

	h.mu.Lock()
	h.duration = time.Since(h.StartedAt)
	h.exitCode = exitCode
	cause := h.cause
	if waitErr == nil && cause == "" {
		h.status = StatusCompleted
	} else {
		h.status = StatusFailed
	}
	h.mu.Unlock()

	h.guard.releaseAll()
	close(h.done)
	h.engine.handleExited(h, cause)
}

// snapshot builds the terminal result. Only valid after done is closed.
func (h *Handle) snapshot() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Result{
		ExitCode:  h.exitCode,
		Duration:  h.duration,
		Output:    h.buf.String(),
		Truncated: h.buf.Truncated(),
		TimedOut:  h.cause == causeTimeout,
		Cancelled: h.cause == causeCancel,
	}
}

// Wait blocks until the process reaches a terminal state and returns
// its result. Consuming the result releases the registry entry.
// A timeout-killed process yields a timeout-labelled error, never a
// successful return.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-h.done:
	}

	result := h.snapshot()
	h.engine.release(h.SessionID)

	if result.TimedOut {
		return result, errors.Newf(errors.ErrCodeExecTimeout,
			"command timed out after %s", result.Duration.Round(time.Millisecond)).
			With("session_id", h.SessionID).
			With("exit_code", result.ExitCode)
	}
	return result, nil
}

// exitCodeOf maps a Wait error to the numeric exit code: 0 on clean
// exit, the child's code (or -1 for signal death) on ExitError, -1 for
// infrastructure failures.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ProcessState != nil {
		return exitErr.ProcessState.ExitCode()
	}
	return -1
}
