package predictive

import "HealthMonitor/pkg/health"

const minWindowCap = 2

// Window is a fixed-size ring buffer of snapshots.
// When the buffer is full, new pushes overwrite the oldest entry.
type Window struct {
	buf  []health.Snapshot
	head int // index of the next write position
	size int // number of valid entries
}

// NewWindow creates a Window with the given capacity, raised to 2 if smaller
// since a trend needs at least two points.
func NewWindow(capacity int) *Window {
	if capacity < minWindowCap {
		capacity = minWindowCap
	}
	return &Window{buf: make([]health.Snapshot, capacity)}
}

// Push appends s, overwriting the oldest entry if full.
func (w *Window) Push(s health.Snapshot) {
	w.buf[w.head] = s
	w.head = (w.head + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
}

// Len returns the number of valid entries.
func (w *Window) Len() int { return w.size }

// Cap returns the fixed capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Clear resets the window to empty.
func (w *Window) Clear() {
	w.head = 0
	w.size = 0
}

// Snapshots returns the entries oldest first.
func (w *Window) Snapshots() []health.Snapshot {
	out := make([]health.Snapshot, w.size)
	// oldest entry sits at (head - size + cap) % cap
	start := (w.head - w.size + len(w.buf)) % len(w.buf)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
