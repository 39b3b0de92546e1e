package client

import "sync"

type handler[T any] struct {
	id int
	fn func(T)
}

// registry holds callbacks in registration order. Handlers are invoked
// outside the lock so a callback may unregister itself.
type registry[T any] struct {
	mu       sync.Mutex
	next     int
	handlers []handler[T]
}

func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	r.handlers = append(r.handlers, handler[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *registry[T]) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handlers {
		if h.id == id {
			r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) emit(v T) {
	r.mu.Lock()
	fns := make([]func(T), len(r.handlers))
	for i, h := range r.handlers {
		fns[i] = h.fn
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
