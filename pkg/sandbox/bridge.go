// Package sandbox maps logical and container paths onto host paths and
// enforces the workspace boundary a sandboxed process is confined to.
package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/execgate/pkg/errors"
)

// ResolvedPath is one logical path expressed in the three addressing
// schemes the sandbox reconciles. Computed per request, never cached:
// sandbox roots can be per-session.
type ResolvedPath struct {
	// HostPath is the absolute path on the host filesystem.
	HostPath string

	// RelativePath is the path relative to the sandbox root.
	RelativePath string

	// ContainerPath is the path as seen inside the container.
	ContainerPath string
}

// FsBridge resolves paths for one sandbox instance. Implementations
// are supplied by the sandbox lifecycle provider; this core only
// consumes them.
type FsBridge interface {
	// ResolvePath maps a logical path (relative paths resolve against
	// cwd) to its host/relative/container triple.
	ResolvePath(path, cwd string) (ResolvedPath, error)

	// Stat returns file info for a logical path, nil info with nil
	// error when the file does not exist.
	Stat(path, cwd string) (fs.FileInfo, error)
}

// HostBridge is the default FsBridge for container sandboxes whose
// filesystem is a bind-mounted host directory: container paths under
// ContainerRoot map one-to-one onto host paths under HostRoot.
type HostBridge struct {
	// HostRoot is the host directory backing the sandbox.
	HostRoot string

	// ContainerRoot is the mount point inside the container,
	// e.g. /workspace.
	ContainerRoot string
}

// ResolvePath implements FsBridge.
func (b *HostBridge) ResolvePath(path, cwd string) (ResolvedPath, error) {
	if path == "" {
		return ResolvedPath{}, errors.New(errors.ErrCodeInvalidInput, "empty path")
	}

	logical := path
	if strings.HasPrefix(logical, b.ContainerRoot) && b.ContainerRoot != "" {
		logical = strings.TrimPrefix(logical, b.ContainerRoot)
		logical = strings.TrimPrefix(logical, "/")
		logical = filepath.Join(b.HostRoot, logical)
	} else if !filepath.IsAbs(logical) {
		base := cwd
		if base == "" {
			base = b.HostRoot
		}
		logical = filepath.Join(base, logical)
	}
	host := filepath.Clean(logical)

	rel, err := filepath.Rel(b.HostRoot, host)
	if err != nil {
		return ResolvedPath{}, errors.Wrap(err, errors.ErrCodePathResolve, "relativizing path").
			With("path", path)
	}

	resolved := ResolvedPath{
		HostPath:     host,
		RelativePath: rel,
	}
	if b.ContainerRoot != "" && !strings.HasPrefix(rel, "..") {
		resolved.ContainerPath = filepath.ToSlash(filepath.Join(b.ContainerRoot, rel))
	}
	return resolved, nil
}

// Stat implements FsBridge.
func (b *HostBridge) Stat(path, cwd string) (fs.FileInfo, error) {
	resolved, err := b.ResolvePath(path, cwd)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved.HostPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePathResolve, "stat").With("path", path)
	}
	return info, nil
}
