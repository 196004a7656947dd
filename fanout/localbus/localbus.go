// Package localbus is an in-process fanout.Adapter for single-binary
// demos and tests, where "cross-server" fan-out is really just
// cross-goroutine delivery within one coordinator.
package localbus

import (
	"context"
	"sync"

	"replidoc/fanout"
)

// Bus is a process-local fanout.Adapter.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]fanout.Handler
	nextID   int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]map[int]fanout.Handler)}
}

// Publish implements fanout.Adapter. Handlers are invoked
// synchronously in the caller's goroutine; callers are expected to
// invoke Publish from a goroutine already detached from any document
// lock.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	hs := make([]fanout.Handler, 0, len(b.handlers[channel]))
	for _, h := range b.handlers[channel] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
	return nil
}

// Subscribe implements fanout.Adapter.
func (b *Bus) Subscribe(_ context.Context, channel string, handler fanout.Handler) (func(), error) {
	b.mu.Lock()
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[int]fanout.Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[channel][id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers[channel], id)
		b.mu.Unlock()
	}, nil
}
