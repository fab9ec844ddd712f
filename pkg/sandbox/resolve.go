package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/odvcencio/execgate/pkg/errors"
	"github.com/odvcencio/execgate/pkg/logging"
)

// Sandbox describes one sandbox instance's filesystem confinement.
// The lifecycle provider creates and destroys sandboxes; this package
// only resolves paths against them.
type Sandbox struct {
	// Root is the host directory the sandbox is confined to.
	Root string

	// WorkspaceOnly asserts that every resolved host path stays under
	// Root. Violations are errors, never silent clamps.
	WorkspaceOnly bool

	// Bridge resolves logical paths for this sandbox.
	Bridge FsBridge

	// Logger receives boundary-violation and fallback events.
	Logger *logging.Logger
}

// Media is the outcome of resolving a media path.
type Media struct {
	// Resolved is the host path to serve.
	Resolved string

	// RewrittenFrom holds the original path when the inbound fallback
	// directory served the file instead of the canonical location.
	RewrittenFrom string
}

// ResolveMediaPath maps a logical media path to a host path, enforcing
// the workspace boundary. When primary resolution fails and
// inboundFallbackDir is supplied, the original basename is retried
// under that directory; the fallback candidate must exist and is
// subject to the same boundary check. A failed fallback re-raises the
// primary error so callers never see a less relevant failure.
func ResolveMediaPath(sb *Sandbox, mediaPath, inboundFallbackDir string) (Media, error) {
	if sb == nil || sb.Bridge == nil {
		return Media{}, errors.New(errors.ErrCodeInvalidInput, "nil sandbox or bridge")
	}
	logical := stripFileURI(mediaPath)

	resolved, primaryErr := resolveAndCheck(sb, logical)
	if primaryErr == nil {
		return Media{Resolved: resolved}, nil
	}

	if inboundFallbackDir == "" {
		return Media{}, primaryErr
	}

	candidate := filepath.Join(inboundFallbackDir, filepath.Base(logical))
	info, statErr := sb.Bridge.Stat(candidate, sb.Root)
	if statErr != nil || info == nil {
		// Fallback unavailable: the primary error is the real story.
		return Media{}, primaryErr
	}
	fallbackResolved, fallbackErr := resolveAndCheck(sb, candidate)
	if fallbackErr != nil {
		return Media{}, primaryErr
	}

	sb.Logger.Info(logging.CategorySandbox, "media_fallback", "", map[string]any{
		"requested": mediaPath,
		"served":    fallbackResolved,
	})
	return Media{Resolved: fallbackResolved, RewrittenFrom: mediaPath}, nil
}

// ResolveWorkDir maps a logical working directory onto the host,
// enforcing the workspace boundary. An empty path resolves to Root.
func (sb *Sandbox) ResolveWorkDir(path string) (string, error) {
	if sb == nil || sb.Bridge == nil {
		return "", errors.New(errors.ErrCodeInvalidInput, "nil sandbox or bridge")
	}
	if path == "" {
		return sb.Root, nil
	}
	return resolveAndCheck(sb, path)
}

// resolveAndCheck runs primary resolution plus the workspace-boundary
// assertion.
func resolveAndCheck(sb *Sandbox, logical string) (string, error) {
	resolved, err := sb.Bridge.ResolvePath(logical, sb.Root)
	if err != nil {
		return "", err
	}
	if err := sb.assertWithinRoot(resolved.HostPath); err != nil {
		return "", err
	}
	return resolved.HostPath, nil
}

// assertWithinRoot raises a boundary violation when hostPath escapes
// the sandbox root. Both sides are symlink-resolved first, so a link
// inside the root cannot point the resolution outside it. It never
// rewrites the path.
func (sb *Sandbox) assertWithinRoot(hostPath string) error {
	if !sb.WorkspaceOnly {
		return nil
	}
	root := realPath(sb.Root)
	target := realPath(hostPath)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		sb.Logger.Warn(logging.CategorySandbox, "boundary_violation", hostPath, map[string]any{
			"root": root,
			"real": target,
		})
		return errors.Newf(errors.ErrCodeBoundaryViolation,
			"path %s escapes sandbox root %s", hostPath, sb.Root)
	}
	return nil
}

// realPath resolves symlinks in path. When the path does not exist yet
// the deepest existing ancestor is resolved and the remainder rejoined,
// so a symlinked parent still counts against the boundary.
func realPath(path string) string {
	clean := filepath.Clean(path)
	suffix := ""
	for cur := clean; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(real, suffix)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return clean
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}

// stripFileURI removes a file:// scheme prefix if present.
func stripFileURI(path string) string {
	const scheme = "file://"
	if strings.HasPrefix(path, scheme) {
		return path[len(scheme):]
	}
	return path
}
