package engine

import "sync"

// Hub fans snapshots out to subscribers. Each subscriber holds at most one
// pending snapshot; a slow subscriber only ever sees the newest frame.
type Hub struct {
	mu        sync.Mutex
	listeners map[chan Snapshot]struct{}
	closed    bool
	onChange  func(n int)
}

// NewHub creates a hub. onChange, when set, is called with the subscriber
// count after every change.
func NewHub(onChange func(n int)) *Hub {
	return &Hub{
		listeners: make(map[chan Snapshot]struct{}),
		onChange:  onChange,
	}
}

// Subscribe returns a channel of snapshots and a function that unsubscribes.
// The channel is closed on unsubscribe or when the hub closes.
func (h *Hub) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.listeners[ch] = struct{}{}
	h.changedLocked()
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.listeners[ch]; ok {
				delete(h.listeners, ch)
				close(ch)
				h.changedLocked()
			}
		})
	}
}

// Publish delivers a snapshot to every subscriber, replacing any snapshot
// they have not consumed yet.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.listeners {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Close closes every subscriber channel and rejects new subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.listeners {
		close(ch)
		delete(h.listeners, ch)
	}
	h.changedLocked()
}

func (h *Hub) changedLocked() {
	if h.onChange != nil {
		h.onChange(len(h.listeners))
	}
}
