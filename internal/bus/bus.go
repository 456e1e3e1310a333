// Package bus provides the in-process publish/subscribe dispatcher that
// carries cross-cutting broadcasts: forced logout, visibility and network
// signals, and host-runtime messages. Keeping these on a tiny bus interface
// makes the underlying transport swappable (in-process today, an OS IPC
// primitive in a multi-process port) without touching subscribers.
package bus

import (
	"log/slog"
	"sync"
)

// Topic identifies the kind of message being published.
type Topic string

const (
	// TopicLogout carries a model.LogoutReason; consumed by surfaces that
	// redirect or clear UI state.
	TopicLogout Topic = "session.logout"
	// TopicSessionState carries a session.State on every transition.
	TopicSessionState Topic = "session.state"
	// TopicBootstrapState carries a bootstrap.State on every transition.
	TopicBootstrapState Topic = "bootstrap.state"

	// Host signals. Payloads: bool for visibility (true = visible) and
	// network (true = online); nil otherwise.
	TopicVisibility     Topic = "host.visibility"
	TopicNetwork        Topic = "host.network"
	TopicSyncAuth       Topic = "host.sync_auth"
	TopicUpdatePending  Topic = "host.update_pending"
	TopicUpdated        Topic = "host.updated"
	TopicInvalidPayload Topic = "host.invalid_payload"
)

// Message is a single published message.
type Message struct {
	Topic   Topic
	Payload any
}

// Handler is invoked for every message on a subscribed topic.
type Handler func(Message)

// Bus is a concurrent-safe topic dispatcher. Handlers run synchronously on
// the publisher's goroutine with panic isolation, so a broken subscriber
// cannot take down the publisher.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[Topic]map[int]Handler
	nextID int
}

// New creates a ready-to-use Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[Topic]map[int]Handler),
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Unsubscribing twice is safe.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
}

// Publish delivers a message to every handler subscribed to its topic.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, fn := range handlers {
		b.dispatch(fn, msg)
	}
}

func (b *Bus) dispatch(fn Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "topic", msg.Topic, "panic", r)
		}
	}()
	fn(msg)
}
