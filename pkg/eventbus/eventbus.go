// Package eventbus provides a small typed observer bus. A panicking
// subscriber never affects delivery to the remaining subscribers.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Bus fans one value out to every subscriber, in subscription order.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID int
	order  []int
	subs   map[int]func(T)
	logger *zap.SugaredLogger
}

// New creates a bus. logger may be nil.
func New[T any](logger *zap.SugaredLogger) *Bus[T] {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus[T]{
		subs:   make(map[int]func(T)),
		logger: logger,
	}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers v to every subscriber. Each subscriber runs under its
// own recover so a failure is isolated.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	fns := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, v)
	}
}

func (b *Bus[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("event subscriber panicked", "panic", r)
		}
	}()
	fn(v)
}

// Len returns the current subscriber count.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
