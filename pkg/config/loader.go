package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, merges it over the
// defaults and validates the result. A missing file yields the
// defaults; a malformed or invalid file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			if os.IsNotExist(err) {
				return cfg, cfg.Validate()
			}
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	// The raw tree distinguishes "explicitly set to the zero value"
	// from "absent", which matters for bools and zero numbers.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Approval.Host != "" {
		base.Approval.Host = override.Approval.Host
	}
	if override.Approval.Security != "" {
		base.Approval.Security = override.Approval.Security
	}
	if override.Approval.Ask != "" {
		base.Approval.Ask = override.Approval.Ask
	}
	if fieldSet(raw, "approval", "safe_bins") {
		base.Approval.SafeBins = append([]string{}, override.Approval.SafeBins...)
	}
	if fieldSet(raw, "approval", "trusted_dirs") {
		base.Approval.TrustedDirs = append([]string{}, override.Approval.TrustedDirs...)
	}
	if fieldSet(raw, "approval", "elevated", "enabled") {
		base.Approval.Elevated.Enabled = override.Approval.Elevated.Enabled
	}
	if fieldSet(raw, "approval", "elevated", "allowed") {
		base.Approval.Elevated.Allowed = override.Approval.Elevated.Allowed
	}
	if override.Approval.Elevated.DefaultLevel != "" {
		base.Approval.Elevated.DefaultLevel = override.Approval.Elevated.DefaultLevel
	}

	if override.Wrapper.MaxDepth != 0 {
		base.Wrapper.MaxDepth = override.Wrapper.MaxDepth
	}

	if override.Runner.KillGraceMS != 0 {
		base.Runner.KillGraceMS = override.Runner.KillGraceMS
	}
	if override.Runner.RetentionSecs != 0 {
		base.Runner.RetentionSecs = override.Runner.RetentionSecs
	}
	if override.Runner.MaxOutputBytes != 0 {
		base.Runner.MaxOutputBytes = override.Runner.MaxOutputBytes
	}
	if fieldSet(raw, "runner", "allow_background") {
		base.Runner.AllowBackground = override.Runner.AllowBackground
	}
	if override.Runner.ApprovalTTLSecs != 0 {
		base.Runner.ApprovalTTLSecs = override.Runner.ApprovalTTLSecs
	}

	if override.Sandbox.Root != "" {
		base.Sandbox.Root = override.Sandbox.Root
	}
	if override.Sandbox.ContainerRoot != "" {
		base.Sandbox.ContainerRoot = override.Sandbox.ContainerRoot
	}
	if fieldSet(raw, "sandbox", "workspace_only") {
		base.Sandbox.WorkspaceOnly = override.Sandbox.WorkspaceOnly
	}
	if override.Sandbox.InboundDir != "" {
		base.Sandbox.InboundDir = override.Sandbox.InboundDir
	}
}

// fieldSet reports whether the raw YAML tree carries a value at path.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
