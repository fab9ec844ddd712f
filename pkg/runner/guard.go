package runner

import "sync"

// Resource names registered on the release guard.
const (
	resourceOutput = "output-listener"
	resourceExit   = "exit-listener"
	resourcePTY    = "pty"
)

// releaseGuard owns every handle registered against a spawned process
// and releases each exactly once, regardless of which exit path runs
// first. A forced kill racing a normal exit must not double-dispose or
// leak, so each entry carries its own sync.Once.
type releaseGuard struct {
	mu      sync.Mutex
	entries []*guardEntry

	// onRelease is a test hook observing each disposal.
	onRelease func(resource string)
}

type guardEntry struct {
	name    string
	release func()
	once    sync.Once
}

// add registers a named resource to be released with the guard.
func (g *releaseGuard) add(name string, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append(g.entries, &guardEntry{name: name, release: release})
}

// releaseAll disposes every registered resource. Safe to call from
// multiple exit paths; each resource is released exactly once.
func (g *releaseGuard) releaseAll() {
	g.mu.Lock()
	entries := make([]*guardEntry, len(g.entries))
	copy(entries, g.entries)
	hook := g.onRelease
	g.mu.Unlock()

	for _, entry := range entries {
		entry.once.Do(func() {
			if entry.release != nil {
				entry.release()
			}
			if hook != nil {
				hook(entry.name)
			}
		})
	}
}
