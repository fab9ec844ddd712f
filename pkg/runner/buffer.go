package runner

import "sync"

// truncationMarker is appended once when output exceeds the cap.
const truncationMarker = "\n... (output truncated)"

// outputBuffer aggregates process output in emission order, capped at
// a maximum size. Safe for concurrent append and read.
type outputBuffer struct {
	mu        sync.Mutex
	data      []byte
	max       int64
	truncated bool
}

func newOutputBuffer(max int64) *outputBuffer {
	return &outputBuffer{max: max}
}

// Append adds a chunk, dropping bytes past the cap and recording the
// truncation exactly once.
func (b *outputBuffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return
	}
	if b.max > 0 && int64(len(b.data))+int64(len(p)) > b.max {
		room := b.max - int64(len(b.data))
		if room > 0 {
			b.data = append(b.data, p[:room]...)
		}
		b.truncated = true
		return
	}
	b.data = append(b.data, p...)
}

// String returns the aggregated output, with the truncation marker
// when the cap was hit.
func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.data) + truncationMarker
	}
	return string(b.data)
}

// Tail returns at most maxBytes from the end of the buffer.
func (b *outputBuffer) Tail(maxBytes int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[len(data)-maxBytes:]
	}
	if b.truncated {
		return string(data) + truncationMarker
	}
	return string(data)
}

// Truncated reports whether the cap was hit.
func (b *outputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
