// Package config loads and validates the execution subsystem's YAML
// configuration: the approval policy plus runner, wrapper and sandbox
// knobs.
package config

import (
	"fmt"
	"time"

	"github.com/odvcencio/execgate/pkg/approval"
	"github.com/odvcencio/execgate/pkg/launcher"
	"github.com/odvcencio/execgate/pkg/runner"
)

// Default configuration values exported for documentation and validation
const (
	DefaultSecurity        = approval.LevelFull
	DefaultAskMode         = approval.AskOnNewBinary
	DefaultContainerRoot   = "/workspace"
	DefaultWrapperDepth    = launcher.DefaultMaxDepth
	DefaultKillGraceMS     = 2000
	DefaultRetentionSecs   = 300
	DefaultApprovalTTLSecs = 120
)

// Config is the complete execgate configuration.
type Config struct {
	Approval approval.Policy `yaml:"approval"`
	Wrapper  WrapperConfig   `yaml:"wrapper"`
	Runner   RunnerConfig    `yaml:"runner"`
	Sandbox  SandboxConfig   `yaml:"sandbox"`
}

// WrapperConfig tunes the wrapper resolver.
type WrapperConfig struct {
	// MaxDepth bounds wrapper-chain recursion.
	MaxDepth int `yaml:"max_depth"`
}

// RunnerConfig tunes the process execution engine.
type RunnerConfig struct {
	KillGraceMS     int   `yaml:"kill_grace_ms"`
	RetentionSecs   int   `yaml:"retention_secs"`
	MaxOutputBytes  int64 `yaml:"max_output_bytes"`
	AllowBackground bool  `yaml:"allow_background"`

	// ApprovalTTLSecs is the pending-approval lifetime.
	ApprovalTTLSecs int `yaml:"approval_ttl_secs"`
}

// SandboxConfig describes the filesystem confinement.
type SandboxConfig struct {
	Root          string `yaml:"root"`
	ContainerRoot string `yaml:"container_root"`
	WorkspaceOnly bool   `yaml:"workspace_only"`

	// InboundDir is where uploaded media lands; used as the resolver
	// fallback directory.
	InboundDir string `yaml:"inbound_dir"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Approval: approval.Policy{
			Security: DefaultSecurity,
			Ask:      DefaultAskMode,
		},
		Wrapper: WrapperConfig{MaxDepth: DefaultWrapperDepth},
		Runner: RunnerConfig{
			KillGraceMS:     DefaultKillGraceMS,
			RetentionSecs:   DefaultRetentionSecs,
			MaxOutputBytes:  runner.DefaultMaxOutput,
			AllowBackground: true,
			ApprovalTTLSecs: DefaultApprovalTTLSecs,
		},
		// WorkspaceOnly stays off until a root is configured; Validate
		// rejects confinement without one.
		Sandbox: SandboxConfig{
			ContainerRoot: DefaultContainerRoot,
		},
	}
}

// KillGrace returns the kill grace window as a duration.
func (r RunnerConfig) KillGrace() time.Duration {
	return time.Duration(r.KillGraceMS) * time.Millisecond
}

// Retention returns the background-session retention window.
func (r RunnerConfig) Retention() time.Duration {
	return time.Duration(r.RetentionSecs) * time.Second
}

// ApprovalTTL returns the pending-approval lifetime.
func (r RunnerConfig) ApprovalTTL() time.Duration {
	return time.Duration(r.ApprovalTTLSecs) * time.Second
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if _, err := approval.ParseLevel(string(c.Approval.Security)); err != nil {
		return err
	}
	if _, err := approval.ParseAskMode(string(c.Approval.Ask)); err != nil {
		return err
	}
	if c.Wrapper.MaxDepth < 0 {
		return fmt.Errorf("wrapper.max_depth must not be negative, got %d", c.Wrapper.MaxDepth)
	}
	if c.Runner.KillGraceMS < 0 {
		return fmt.Errorf("runner.kill_grace_ms must not be negative, got %d", c.Runner.KillGraceMS)
	}
	if c.Runner.MaxOutputBytes < 0 {
		return fmt.Errorf("runner.max_output_bytes must not be negative, got %d", c.Runner.MaxOutputBytes)
	}
	if c.Sandbox.WorkspaceOnly && c.Sandbox.Root == "" {
		return fmt.Errorf("sandbox.workspace_only requires sandbox.root")
	}
	return nil
}
