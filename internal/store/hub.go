package store

import "sync"

// Hub fans out changes to in-process subscribers.
type Hub[T Document] struct {
	mu   sync.Mutex
	next int
	subs map[int]subscriber[T]
}

type subscriber[T Document] struct {
	filter Filter
	fn     func(Change[T])
}

// Subscribe registers fn for changes matching f and returns a function
// that removes the registration.
func (h *Hub[T]) Subscribe(f Filter, fn func(Change[T])) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs == nil {
		h.subs = make(map[int]subscriber[T])
	}
	h.next++
	key := h.next
	h.subs[key] = subscriber[T]{filter: f, fn: fn}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, key)
	}
}

// Publish delivers c to every matching subscriber. Callbacks run on the
// caller's goroutine, after the hub lock is released.
func (h *Hub[T]) Publish(c Change[T]) {
	h.mu.Lock()
	subs := make([]subscriber[T], 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		ok, err := Match(c.Doc, s.filter)
		if err != nil || !ok {
			continue
		}
		s.fn(c)
	}
}
