// Package bus is a small typed publish/subscribe hub.
//
// Topics are declared as typed values so every subscriber is checked at
// compile time against the payload its publisher sends. Delivery is
// synchronous and in subscription order: Publish returns after every handler
// has run, which keeps per-user ordering equal to issue order.
package bus

import (
	"sync"

	"github.com/vthunder/budintel/internal/logging"
)

// Topic is a named channel carrying payloads of type T
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name
func (t Topic[T]) Name() string {
	return t.name
}

type handler struct {
	id int
	fn func(userID string, payload any)
}

// Bus routes notifications from publishers to subscribers
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handler
	nextID   int
}

// New creates an empty bus
func New() *Bus {
	return &Bus{handlers: make(map[string][]handler)}
}

// Subscribe registers fn for topic and returns a function that removes it
func Subscribe[T any](b *Bus, topic Topic[T], fn func(userID string, payload T)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic.name] = append(b.handlers[topic.name], handler{
		id: id,
		fn: func(userID string, payload any) {
			p, ok := payload.(T)
			if !ok {
				return
			}
			fn(userID, p)
		},
	})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[topic.name]
		for i, h := range hs {
			if h.id == id {
				b.handlers[topic.name] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every subscriber of topic.
// A panicking subscriber is logged and skipped.
func Publish[T any](b *Bus, topic Topic[T], userID string, payload T) {
	b.mu.RLock()
	hs := make([]handler, len(b.handlers[topic.name]))
	copy(hs, b.handlers[topic.name])
	b.mu.RUnlock()

	for _, h := range hs {
		deliver(topic.name, h, userID, payload)
	}
}

func deliver(topic string, h handler, userID string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("bus", "subscriber %d on %s panicked for user %s: %v", h.id, topic, userID, r)
		}
	}()
	h.fn(userID, payload)
}

// Subscribers returns the number of handlers registered for a topic name
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
