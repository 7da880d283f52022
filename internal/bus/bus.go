// Package bus implements the topic-keyed fan-out multiplexer that
// delivers Internal Events to registered sinks: a mutex-guarded map of
// subscribers keyed by topic, with a Subscribe/Unsubscribe/Publish
// API. Unlike a non-blocking, channel-drop design suited to
// best-effort observability fan-out (where a slow consumer should
// lose events rather than block the publisher), this Bus requires
// synchronous, ordered, per-topic delivery with isolated sink failure
// — no dropped events, no fast-forwarding past a slow sink — so sinks
// here are direct callbacks invoked in a loop rather than buffered
// channels, and a panicking or error-returning sink is caught and
// logged without affecting its neighbors.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphastream/streamclient/internal/errs"
	"github.com/alphastream/streamclient/internal/event"
)

// Sink receives a published event. A returned error is logged and
// swallowed — it never prevents delivery to other sinks on the same
// topic, and never fails Publish.
type Sink func(event.Event) error

// Handle identifies a registered sink for later Unsubscribe calls.
type Handle struct {
	topic string
	id    uint64
}

type entry struct {
	id   uint64
	sink Sink
}

// Bus is a topic-keyed multiplexer. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]entry
	nextID uint64
	logger *slog.Logger
}

// New creates an empty Bus. logger defaults to slog.Default() if nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[string][]entry),
		logger: logger,
	}
}

// Subscribe registers sink under topic and returns a Handle for later
// Unsubscribe. Sinks for a topic are invoked in registration order.
func (b *Bus) Subscribe(topic string, sink Sink) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], entry{id: id, sink: sink})
	return Handle{topic: topic, id: id}
}

// Unsubscribe removes a previously registered sink. Unsubscribing an
// already-removed or unknown handle is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.topics[h.topic]
	for i, e := range entries {
		if e.id == h.id {
			b.topics[h.topic] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every sink registered under topic, in
// registration order. A sink that panics or returns an error is
// logged and does not prevent delivery to the remaining sinks, and
// does not cause Publish itself to fail.
func (b *Bus) Publish(topic string, e event.Event) {
	b.mu.RLock()
	entries := make([]entry, len(b.topics[topic]))
	copy(entries, b.topics[topic])
	b.mu.RUnlock()

	for _, ent := range entries {
		b.invoke(topic, ent.sink, e)
	}
}

func (b *Bus) invoke(topic string, sink Sink, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: sink panicked",
				"topic", topic, "fingerprint", e.Fingerprint(),
				"error", fmt.Errorf("%w: %v", errs.ErrSink, r))
		}
	}()
	if err := sink(e); err != nil {
		b.logger.Error("bus: sink returned error",
			"topic", topic, "fingerprint", e.Fingerprint(),
			"error", fmt.Errorf("%w: %v", errs.ErrSink, err))
	}
}

// Clear removes every subscriber from every topic. Part of the
// orchestrator's stop cascade.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = make(map[string][]entry)
}

// SubscriberCount returns the number of sinks registered under topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
