// Package gateway wires the shell analyzer, wrapper resolver, approval
// engine, sandbox and process runner into the single in-process surface
// an agent runtime consumes.
package gateway

import (
	"context"
	"time"

	"github.com/odvcencio/execgate/pkg/approval"
	"github.com/odvcencio/execgate/pkg/errors"
	"github.com/odvcencio/execgate/pkg/launcher"
	"github.com/odvcencio/execgate/pkg/logging"
	"github.com/odvcencio/execgate/pkg/runner"
	"github.com/odvcencio/execgate/pkg/sandbox"
	"github.com/odvcencio/execgate/pkg/shellparse"
	"github.com/odvcencio/execgate/pkg/telemetry"
)

// Status of one Exec call.
type Status string

const (
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusApprovalPending Status = "approval-pending"
	StatusDenied          Status = "denied"
)

// Request describes one command submission.
type Request struct {
	// Command is the raw shell command line.
	Command string

	// ApprovalID presents a previously issued approval record.
	ApprovalID string

	// PTY allocates a pseudo-terminal for the process.
	PTY bool

	// Timeout bounds execution; zero means no timeout.
	Timeout time.Duration

	// Background returns immediately with a pollable session id.
	Background bool

	// Cwd is the logical working directory, resolved through the
	// sandbox before spawning.
	Cwd string
}

// Result is the outcome of one Exec call. For approval-pending results
// the Approval record carries the id a follow-up Request presents; for
// denials Reason explains why.
type Result struct {
	Status    Status
	SessionID string
	ExitCode  int
	Output    string
	Truncated bool
	Approval  *approval.Record
	Reason    string
}

// Gateway is the facade over the execution subsystem. Construct one per
// agent sandbox; all state lives on the injected engines.
type Gateway struct {
	Runner    *runner.Engine
	Approvals *approval.Engine
	Policy    approval.Policy
	Sandbox   *sandbox.Sandbox
	Logger    *logging.Logger

	// WrapperDepth bounds wrapper-chain recursion; zero uses the
	// resolver default.
	WrapperDepth int

	// ApprovalTTL overrides the approval record lifetime; zero uses the
	// engine default.
	ApprovalTTL time.Duration

	// InboundDir is where uploaded media lands; media resolution falls
	// back to it when the canonical path misses.
	InboundDir string
}

// New assembles a gateway with fresh runner and approval engines
// sharing the given logger and metrics.
func New(pol approval.Policy, sb *sandbox.Sandbox, logger *logging.Logger, metrics *telemetry.Metrics) *Gateway {
	return &Gateway{
		Runner:    runner.NewEngine(logger, metrics),
		Approvals: approval.NewEngine(logger, metrics),
		Policy:    pol,
		Sandbox:   sb,
		Logger:    logger,
	}
}

// Exec analyzes the command, applies the approval policy per pipeline
// segment, and on a green light spawns it through the runner. The
// overall decision is the most restrictive across segments; a command
// never runs when any segment is denied or awaiting approval.
func (g *Gateway) Exec(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty command")
	}

	analysis := shellparse.Analyze(req.Command)
	if !analysis.OK {
		return g.execUnparsed(ctx, req)
	}

	decision := g.decideSegments(analysis.Segments, req)
	switch decision.Kind {
	case approval.Denied:
		return &Result{Status: StatusDenied, Reason: string(decision.Reason)}, nil
	case approval.Pending:
		return &Result{Status: StatusApprovalPending, Approval: decision.Record}, nil
	}
	return g.spawn(ctx, req)
}

// execUnparsed handles commands the analyzer rejected. An unparseable
// command never auto-runs on policy alone: a presented approval id is
// honoured, ask-always prompts a human, everything else is refused.
func (g *Gateway) execUnparsed(ctx context.Context, req Request) (*Result, error) {
	routed := req.ApprovalID != "" ||
		g.Policy.Security == approval.LevelOff ||
		g.Policy.Ask == approval.AskAlways
	if !routed {
		g.Logger.Warn(logging.CategoryAnalyze, "parse_failed", req.Command, nil)
		return &Result{Status: StatusDenied, Reason: "parse-failed"}, nil
	}

	decision := g.Approvals.Decide(launcher.Resolution{}, g.Policy, approval.Request{
		Command:    req.Command,
		Cwd:        req.Cwd,
		ApprovalID: req.ApprovalID,
		TTL:        g.ApprovalTTL,
	})
	switch decision.Kind {
	case approval.Denied:
		return &Result{Status: StatusDenied, Reason: string(decision.Reason)}, nil
	case approval.Pending:
		return &Result{Status: StatusApprovalPending, Approval: decision.Record}, nil
	}
	return g.spawn(ctx, req)
}

// decideSegments resolves and evaluates every pipeline segment,
// combining the per-segment outcomes into the strictest one.
func (g *Gateway) decideSegments(segments []shellparse.Segment, req Request) approval.Decision {
	depth := g.WrapperDepth
	if depth <= 0 {
		depth = launcher.DefaultMaxDepth
	}

	resolutions := make([]launcher.Resolution, len(segments))
	for i, seg := range segments {
		resolutions[i] = launcher.ResolveDepth(seg.Argv, depth)
	}

	// A presented approval id covers the whole command and is consumed
	// exactly once, not once per segment.
	if req.ApprovalID != "" {
		return g.Approvals.Decide(resolutions[0], g.Policy, approval.Request{
			Command:    req.Command,
			Cwd:        req.Cwd,
			ApprovalID: req.ApprovalID,
		})
	}

	combined := approval.Decision{Kind: approval.AutoRun}
	for i, res := range resolutions {
		decision := g.Approvals.Decide(res, g.Policy, approval.Request{
			Command:        req.Command,
			Cwd:            req.Cwd,
			TTL:            g.ApprovalTTL,
			ExecutablePath: segments[i].Argv[0],
		})
		combined = g.stricter(combined, decision)
	}
	return combined
}

// stricter keeps the stricter of two decisions (denied over pending
// over auto-run) and destroys any pending record the kept outcome
// supersedes, so at most one record stays live per command.
func (g *Gateway) stricter(a, b approval.Decision) approval.Decision {
	if decisionRank(b.Kind) > decisionRank(a.Kind) {
		a, b = b, a
	}
	if b.Record != nil && b.Record != a.Record {
		g.Approvals.Deny(b.Record.ID)
	}
	return a
}

func decisionRank(kind approval.DecisionKind) int {
	switch kind {
	case approval.Denied:
		return 2
	case approval.Pending:
		return 1
	default:
		return 0
	}
}

// spawn runs the approved command under sh, with the working directory
// translated through the sandbox.
func (g *Gateway) spawn(ctx context.Context, req Request) (*Result, error) {
	cwd := req.Cwd
	if g.Sandbox != nil {
		host, err := g.Sandbox.ResolveWorkDir(req.Cwd)
		if err != nil {
			return nil, err
		}
		cwd = host
	}

	handle, err := g.Runner.Exec(ctx, []string{"sh", "-c", req.Command}, runner.Options{
		PTY:        req.PTY,
		Timeout:    req.Timeout,
		Background: req.Background,
		Cwd:        cwd,
	})
	if err != nil {
		return nil, err
	}

	if req.Background {
		return &Result{Status: StatusRunning, SessionID: handle.SessionID}, nil
	}

	result, waitErr := handle.Wait(ctx)
	out := &Result{
		SessionID: handle.SessionID,
		ExitCode:  result.ExitCode,
		Output:    result.Output,
		Truncated: result.Truncated,
	}
	if waitErr != nil {
		out.Status = StatusFailed
		return out, waitErr
	}
	if result.ExitCode == 0 && !result.Cancelled {
		out.Status = StatusCompleted
	} else {
		out.Status = StatusFailed
	}
	return out, nil
}

// Approve consumes a pending approval record on a human's behalf. The
// record's executable is remembered for the on-new-binary ask mode;
// clients typically re-submit the command with the record id instead.
func (g *Gateway) Approve(approvalID string) (*approval.Record, error) {
	record, ok := g.Approvals.Grant(approvalID)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeApprovalUnknown, "no pending approval %s", approvalID)
	}
	return record, nil
}

// DenyApproval destroys a pending approval record.
func (g *Gateway) DenyApproval(approvalID string) {
	g.Approvals.Deny(approvalID)
}

// Cancel requests early termination of a running session.
func (g *Gateway) Cancel(sessionID string) error {
	return g.Runner.Cancel(sessionID)
}

// Tail polls a truncated output tail of a backgrounded session.
func (g *Gateway) Tail(sessionID string, maxBytes int) (runner.TailChunk, error) {
	return g.Runner.Tail(sessionID, maxBytes)
}

// ResolveMedia maps a logical media path onto the host through the
// sandbox, with the inbound-uploads fallback.
func (g *Gateway) ResolveMedia(path string) (sandbox.Media, error) {
	return sandbox.ResolveMediaPath(g.Sandbox, path, g.InboundDir)
}
