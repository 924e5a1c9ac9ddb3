// Package bus fans committed events out to live stream subscribers.
//
// The bus only accepts events that already carry a sequence number, which
// mechanically enforces persist-before-send: there is no way to hand a
// subscriber an event that is not durable.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/scribe/internal/event"
)

// DefaultBufferSize is the per-subscriber channel capacity. A subscriber
// that falls this far behind is disconnected and must resume via replay.
const DefaultBufferSize = 10000

// Bus broadcasts committed events to all subscribers. Safe for concurrent
// use. Slow subscribers never block the publisher; their channel is closed
// instead.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int64]*Subscription
	nextID int64
}

// Subscription is one subscriber's view of the live event flow.
type Subscription struct {
	id         int64
	ch         chan event.Event
	overflowed atomic.Bool
	closeOnce  sync.Once
}

// Events returns the subscriber's channel. The channel is closed when the
// subscription is cancelled or when the subscriber overflows; check
// Overflowed to distinguish the two.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Overflowed reports whether the subscription was closed because the
// subscriber could not keep up.
func (s *Subscription) Overflowed() bool {
	return s.overflowed.Load()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// New creates a bus. A nil logger disables logging.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		logger: logger,
		subs:   make(map[int64]*Subscription),
	}
}

// Subscribe registers a new subscriber with the given buffer capacity.
// A non-positive buffer uses DefaultBufferSize.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan event.Event, buffer),
	}
	b.subs[sub.id] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.id, "buffer", buffer)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
// Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, present := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	sub.close()
	if present {
		b.logger.Debug("subscriber removed", "subscriber_id", sub.id)
	}
}

// Publish delivers a committed event to every subscriber and returns the
// number that received it. Subscribers whose buffer is full are dropped;
// they observe a closed channel after draining and resume via replay.
//
// Returns an error if the event has no sequence number.
func (b *Bus) Publish(ev event.Event) (int, error) {
	if !ev.Committed() {
		return 0, fmt.Errorf("publish: event %q has no sequence number", ev.Type)
	}

	b.mu.Lock()
	var dropped []*Subscription
	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.overflowed.Store(true)
			dropped = append(dropped, sub)
			delete(b.subs, sub.id)
		}
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		sub.close()
		b.logger.Warn("subscriber buffer full, disconnecting",
			"subscriber_id", sub.id, "seq", ev.Seq)
	}

	return delivered, nil
}

// Close disconnects every subscriber. Used during engine shutdown after the
// shutdown event has been published.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
