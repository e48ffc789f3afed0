package bridge

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Buffer holds filtered backend notifications until a client drains them.
// When full, the oldest entry is dropped so a stalled poller cannot grow the
// process without bound.
type Buffer struct {
	mu      sync.Mutex
	items   []json.RawMessage
	max     int
	dropped uint64
	logger  *slog.Logger
}

// NewBuffer creates a buffer holding at most max notifications.
func NewBuffer(max int, logger *slog.Logger) *Buffer {
	return &Buffer{max: max, logger: logger}
}

// Push appends a notification, evicting the oldest entry when full.
func (b *Buffer) Push(raw json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.max {
		b.items = b.items[1:]
		b.dropped++
		b.logger.Warn("notification buffer full, dropping oldest",
			"max", b.max,
			"dropped_total", b.dropped,
		)
	}
	b.items = append(b.items, raw)
}

// DrainAll atomically removes and returns all buffered notifications in
// arrival order. Never returns nil.
func (b *Buffer) DrainAll() []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = nil
	if out == nil {
		out = []json.RawMessage{}
	}
	return out
}

// Len returns the number of buffered notifications.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the total number of evicted notifications.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
