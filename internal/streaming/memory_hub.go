package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel depth. A node visit emits
// a started/completed pair, so this holds the burst from a few dozen
// nodes; a consumer that falls further behind loses events instead of
// stalling the engine.
const DefaultBuffer = 64

// subscription is one consumer's filtered view of the stream.
type subscription struct {
	filter EventFilter
	ch     chan StreamEvent
}

// MemoryHub is a process-local EventHub: every execution in this process
// publishes into it, and dashboard or webhook consumers subscribe with a
// filter. Delivery is best-effort; the engine never blocks on a consumer.
type MemoryHub struct {
	buffer  int
	dropped atomic.Int64

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

// NewMemoryHub creates a hub with the default per-subscriber buffer.
func NewMemoryHub() *MemoryHub {
	return NewMemoryHubSize(DefaultBuffer)
}

// NewMemoryHubSize creates a hub with an explicit per-subscriber buffer.
func NewMemoryHubSize(buffer int) *MemoryHub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryHub{
		buffer: buffer,
		subs:   make(map[uint64]*subscription),
	}
}

// Publish fans the event out to every subscriber whose filter matches.
// A full subscriber channel drops the event and bumps the drop counter.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber. The returned cancel func
// removes it; the channel is never closed, so a consumer simply stops
// receiving after cancel.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan StreamEvent, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{filter: filter, ch: ch}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *MemoryHub) Dropped() int64 {
	return h.dropped.Load()
}
