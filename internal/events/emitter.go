// Package events provides typed callback registration for device and
// discovery lifecycle events.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/logging"
)

// Handler receives an event payload.
type Handler[T any] func(T)

type subscription[T any] struct {
	id int
	fn Handler[T]
}

// Emitter dispatches payloads of type T to handlers registered per topic.
// Handlers run synchronously on the emitting goroutine, in registration
// order. A panicking handler is recovered and logged.
type Emitter[T any] struct {
	log *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription[T]
}

// NewEmitter returns an emitter that logs handler panics to log (or the
// global logger when nil).
func NewEmitter[T any](log *zap.Logger) *Emitter[T] {
	return &Emitter[T]{
		log:  logging.Named(log, "events"),
		subs: make(map[string][]subscription[T]),
	}
}

// On registers fn for topic and returns a function that removes it.
func (e *Emitter[T]) On(topic string, fn Handler[T]) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs[topic] = append(e.subs[topic], subscription[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { e.off(topic, id) })
	}
}

func (e *Emitter[T]) off(topic string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.subs[topic]
	for i, s := range subs {
		if s.id == id {
			e.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subs[topic]) == 0 {
		delete(e.subs, topic)
	}
}

// Emit delivers payload to the handlers of every listed topic. Duplicate
// topics are delivered once.
func (e *Emitter[T]) Emit(payload T, topics ...string) {
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if seen[topic] {
			continue
		}
		seen[topic] = true

		e.mu.RLock()
		handlers := make([]Handler[T], 0, len(e.subs[topic]))
		for _, s := range e.subs[topic] {
			handlers = append(handlers, s.fn)
		}
		e.mu.RUnlock()

		for _, fn := range handlers {
			e.call(topic, fn, payload)
		}
	}
}

func (e *Emitter[T]) call(topic string, fn Handler[T], payload T) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("Event handler panicked",
				zap.String("topic", topic),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(payload)
}

// Count returns the number of handlers registered for topic.
func (e *Emitter[T]) Count(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[topic])
}
