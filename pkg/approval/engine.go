package approval

import (
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/execgate/pkg/launcher"
	"github.com/odvcencio/execgate/pkg/logging"
	"github.com/odvcencio/execgate/pkg/telemetry"
)

// DefaultTTL is the approval-record lifetime when the caller does not
// supply a window.
const DefaultTTL = 2 * time.Minute

// DecisionKind is the outcome of a policy evaluation.
type DecisionKind int

const (
	// AutoRun means the command may execute immediately.
	AutoRun DecisionKind = iota
	// Pending means a human must sign off; a Record was created.
	Pending
	// Denied means the command must not execute.
	Denied
)

// String returns the decision kind name.
func (k DecisionKind) String() string {
	switch k {
	case AutoRun:
		return "auto-run"
	case Pending:
		return "pending"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// DenyReason is a machine-readable explanation for a denial.
type DenyReason string

const (
	ReasonSecurityOff         DenyReason = "security-off"
	ReasonNotInAllowlist      DenyReason = "not-in-allowlist"
	ReasonElevationNotAllowed DenyReason = "elevation-not-allowed"
	ReasonApprovalExpired     DenyReason = "approval-expired"
	ReasonApprovalUnknown     DenyReason = "approval-unknown"
	ReasonApprovalMismatch    DenyReason = "approval-mismatch"
)

// Decision is the result of one Decide call.
type Decision struct {
	Kind   DecisionKind
	Record *Record    // set when Kind == Pending
	Reason DenyReason // set when Kind == Denied
}

// Record is a time-boxed token representing one pending sign-off.
// Exactly one live record exists per pending request; it is consumed
// on approval, denial, or expiry.
type Record struct {
	ID         string
	Slug       string
	ExpiresAt  time.Time
	Host       string
	Command    string
	Cwd        string
	Executable string
}

// Expired reports whether the record is past its window at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Request carries the per-call inputs to Decide.
type Request struct {
	// Command is the raw command string, stamped on pending records.
	Command string

	// Cwd is the working directory, stamped on pending records.
	Cwd string

	// ApprovalID presents a previously issued record for consumption.
	ApprovalID string

	// TTL overrides DefaultTTL for a record created by this call.
	TTL time.Duration

	// ExecutablePath is argv[0] as written. Trusted-dir verification
	// falls back to it when the resolution carries no unwrapped argv.
	ExecutablePath string
}

// Engine evaluates policies and tracks pending approvals. Construct
// one per gateway; state is per-instance, not ambient.
type Engine struct {
	mu      sync.Mutex
	pending map[string]*Record
	// granted remembers resolved executables whose approval records
	// were consumed, backing the on-new-binary ask mode.
	granted map[string]bool

	now      func() time.Time
	lookPath func(string) (string, error)
	realPath func(string) (string, error)

	logger  *logging.Logger
	metrics *telemetry.Metrics
}

// NewEngine creates an approval engine.
func NewEngine(logger *logging.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		pending:  make(map[string]*Record),
		granted:  make(map[string]bool),
		now:      time.Now,
		lookPath: exec.LookPath,
		realPath: filepath.EvalSymlinks,
		logger:   logger,
		metrics:  metrics,
	}
}

// Decide combines the wrapper resolution with the policy to produce an
// approval decision. Presenting a still-valid ApprovalID transitions
// the earlier Pending outcome to AutoRun without re-evaluating the
// allowlist.
func (e *Engine) Decide(res launcher.Resolution, pol Policy, req Request) Decision {
	decision := e.decide(res, pol, req)
	e.observe(decision, res, req)
	return decision
}

func (e *Engine) decide(res launcher.Resolution, pol Policy, req Request) Decision {
	if req.ApprovalID != "" {
		return e.consume(req, res)
	}

	if pol.Security == LevelOff {
		return Decision{Kind: Denied, Reason: ReasonSecurityOff}
	}

	base := e.baseDecision(res, pol, req)
	if res.Elevated {
		base = e.applyElevationGate(base, pol)
	}

	if base.Kind == Pending {
		base.Record = e.createRecord(res, pol, req)
	}
	return base
}

// consume looks up and destroys a presented approval record. The
// sign-off covers exactly the command and directory it was issued for;
// a mismatched presentation is denied and leaves the record live for
// the command it does cover.
func (e *Engine) consume(req Request, res launcher.Resolution) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.pending[req.ApprovalID]
	if !ok {
		return Decision{Kind: Denied, Reason: ReasonApprovalUnknown}
	}
	if record.Command != req.Command || record.Cwd != req.Cwd {
		return Decision{Kind: Denied, Reason: ReasonApprovalMismatch}
	}
	delete(e.pending, req.ApprovalID)
	if record.Expired(e.now()) {
		return Decision{Kind: Denied, Reason: ReasonApprovalExpired}
	}
	if res.ResolvedExecutable != "" {
		e.granted[res.ResolvedExecutable] = true
	}
	return Decision{Kind: AutoRun}
}

func (e *Engine) baseDecision(res launcher.Resolution, pol Policy, req Request) Decision {
	if pol.Security == LevelFull &&
		pol.IsSafeBin(res.ResolvedExecutable) &&
		e.inTrustedDir(pol, res, req) {
		return Decision{Kind: AutoRun}
	}

	switch pol.Ask {
	case AskAlways:
		return Decision{Kind: Pending}
	case AskOnNewBinary:
		e.mu.Lock()
		seen := e.granted[res.ResolvedExecutable]
		e.mu.Unlock()
		if seen && pol.Security != LevelOff {
			return Decision{Kind: AutoRun}
		}
		return Decision{Kind: Pending}
	default:
		return Decision{Kind: Denied, Reason: ReasonNotInAllowlist}
	}
}

// applyElevationGate narrows the base decision for escalation-wrapped
// commands. It never widens: a denial stays a denial, and an allowed
// elevation at a stricter default level downgrades auto-run to ask.
func (e *Engine) applyElevationGate(base Decision, pol Policy) Decision {
	if base.Kind == Denied {
		return base
	}
	if !pol.Elevated.Enabled || !pol.Elevated.Allowed {
		return Decision{Kind: Denied, Reason: ReasonElevationNotAllowed}
	}
	if base.Kind == AutoRun && pol.Elevated.DefaultLevel.StricterThan(pol.Security) {
		return Decision{Kind: Pending}
	}
	return base
}

// inTrustedDir verifies the resolved binary's real path sits under one
// of the policy's trusted directories. The unwrapped argv[0] is the
// candidate; a bare name is located via PATH lookup. A wrapper's own
// path never vouches for the binary it launches. With no trusted dirs
// configured the allowlist applies unconditionally.
func (e *Engine) inTrustedDir(pol Policy, res launcher.Resolution, req Request) bool {
	if len(pol.TrustedDirs) == 0 {
		return true
	}

	candidate := res.ResolvedArgv0
	if candidate == "" {
		candidate = req.ExecutablePath
	}
	if !strings.ContainsAny(candidate, `/\`) {
		found, err := e.lookPath(res.ResolvedExecutable)
		if err != nil {
			return false
		}
		candidate = found
	}
	real, err := e.realPath(candidate)
	if err != nil {
		return false
	}

	for _, dir := range pol.TrustedDirs {
		trusted, err := e.realPath(dir)
		if err != nil {
			trusted = filepath.Clean(dir)
		}
		if pathWithin(trusted, real) {
			return true
		}
	}
	return false
}

// pathWithin reports whether target is dir or inside dir.
func pathWithin(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// createRecord registers a new pending approval, pruning any records
// that expired in the meantime.
func (e *Engine) createRecord(res launcher.Resolution, pol Policy, req Request) *Record {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := uuid.NewString()
	record := &Record{
		ID:         id,
		Slug:       makeSlug(res.ResolvedExecutable, id),
		ExpiresAt:  e.now().Add(ttl),
		Host:       pol.Host,
		Command:    req.Command,
		Cwd:        req.Cwd,
		Executable: res.ResolvedExecutable,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for existingID, existing := range e.pending {
		if existing.Expired(now) {
			delete(e.pending, existingID)
		}
	}
	e.pending[id] = record
	return record
}

// Lookup returns a live pending record without consuming it.
func (e *Engine) Lookup(approvalID string) (*Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.pending[approvalID]
	if !ok || record.Expired(e.now()) {
		return nil, false
	}
	return record, true
}

// Grant consumes a pending record out-of-band, remembering its
// executable for the on-new-binary ask mode. Returns false for unknown
// or expired ids.
func (e *Engine) Grant(approvalID string) (*Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.pending[approvalID]
	if !ok {
		return nil, false
	}
	delete(e.pending, approvalID)
	if record.Expired(e.now()) {
		return nil, false
	}
	if record.Executable != "" {
		e.granted[record.Executable] = true
	}
	return record, true
}

// Deny destroys a pending record so a later Decide with its id is
// treated as unknown. Denying an unknown id is a no-op.
func (e *Engine) Deny(approvalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, approvalID)
}

// PendingCount returns the number of live pending records.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	count := 0
	for _, record := range e.pending {
		if !record.Expired(now) {
			count++
		}
	}
	return count
}

func (e *Engine) observe(decision Decision, res launcher.Resolution, req Request) {
	e.metrics.ObserveDecision(decision.Kind.String())
	details := map[string]any{
		"executable":    res.ResolvedExecutable,
		"wrapper_chain": res.WrapperChain,
		"elevated":      res.Elevated,
		"outcome":       decision.Kind.String(),
	}
	if decision.Reason != "" {
		details["reason"] = string(decision.Reason)
	}
	if decision.Record != nil {
		details["approval_id"] = decision.Record.ID
	}
	e.logger.Info(logging.CategoryApproval, "decision", req.Command, details)
}

// makeSlug builds a short human-readable identifier for a record.
func makeSlug(executable, id string) string {
	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '-'
	}, strings.ToLower(executable))
	if name == "" {
		name = "cmd"
	}
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return name + "-" + suffix
}
