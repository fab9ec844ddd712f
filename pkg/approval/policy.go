// Package approval decides whether a resolved command may run,
// requires human sign-off, or is denied outright.
//
// Decisions combine a configured security posture with the wrapper
// resolver's output. Pending decisions are tracked as time-boxed
// approval records that an external delivery channel surfaces to a
// human; a granted record converts the next identical request into an
// auto-run.
package approval

import (
	"fmt"
	"strings"
)

// Level represents the security posture for command execution.
type Level string

const (
	// LevelOff denies everything. The execution surface is disabled.
	LevelOff Level = "off"

	// LevelRestricted never auto-runs; commands can only proceed
	// through the ask flow.
	LevelRestricted Level = "restricted"

	// LevelFull auto-runs allowlisted safe bins and asks for the rest.
	LevelFull Level = "full"
)

// ParseLevel converts a string to a security level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "disabled", "none":
		return LevelOff, nil
	case "restricted", "allowlist":
		return LevelRestricted, nil
	case "full":
		return LevelFull, nil
	default:
		return LevelOff, fmt.Errorf("unknown security level: %s (valid: off, restricted, full)", s)
	}
}

// AskMode controls when a pending approval may be created.
type AskMode string

const (
	// AskOff never prompts; anything not auto-runnable is denied.
	AskOff AskMode = "off"

	// AskAlways prompts for everything that is not auto-runnable.
	AskAlways AskMode = "always"

	// AskOnNewBinary prompts the first time a resolved binary is seen
	// and auto-runs binaries a human has already granted.
	AskOnNewBinary AskMode = "on-new-binary"
)

// ParseAskMode converts a string to an ask mode.
func ParseAskMode(s string) (AskMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "never":
		return AskOff, nil
	case "always", "on":
		return AskAlways, nil
	case "on-new-binary", "new-binary", "on-miss":
		return AskOnNewBinary, nil
	default:
		return AskOff, fmt.Errorf("unknown ask mode: %s (valid: off, always, on-new-binary)", s)
	}
}

// ElevatedDefaults gates elevated-privilege requests (sudo/doas in the
// wrapper chain). The gate layers on top of the base decision and can
// only narrow it.
type ElevatedDefaults struct {
	// Enabled turns the elevation gate on. When false, elevated
	// requests are denied regardless of the base decision.
	Enabled bool `yaml:"enabled"`

	// Allowed permits elevated commands to proceed at all.
	Allowed bool `yaml:"allowed"`

	// DefaultLevel is the posture applied to elevated commands. A
	// stricter level than the base policy downgrades auto-runs to
	// pending.
	DefaultLevel Level `yaml:"default_level"`
}

// Policy is the externally supplied, read-only security posture for
// one execution request.
type Policy struct {
	// Host identifies the machine this policy applies to; stamped on
	// approval records so the delivery channel can render it.
	Host string `yaml:"host"`

	// Security is the overall posture.
	Security Level `yaml:"security"`

	// Ask controls prompting for commands that cannot auto-run.
	Ask AskMode `yaml:"ask"`

	// SafeBins lists executable identities pre-approved to auto-run
	// under LevelFull.
	SafeBins []string `yaml:"safe_bins"`

	// TrustedDirs, when set, constrains where a safe bin's real path
	// may live for the allowlist to apply.
	TrustedDirs []string `yaml:"trusted_dirs"`

	// Elevated gates escalation-wrapped commands.
	Elevated ElevatedDefaults `yaml:"elevated"`
}

// IsSafeBin reports whether the executable identity is allowlisted.
func (p Policy) IsSafeBin(executable string) bool {
	for _, bin := range p.SafeBins {
		if strings.EqualFold(bin, executable) {
			return true
		}
	}
	return false
}

// levelRank orders security levels from most to least restrictive.
func levelRank(l Level) int {
	switch l {
	case LevelOff:
		return 0
	case LevelRestricted:
		return 1
	case LevelFull:
		return 2
	default:
		return 0
	}
}

// StricterThan reports whether l is more restrictive than other.
func (l Level) StricterThan(other Level) bool {
	return levelRank(l) < levelRank(other)
}
