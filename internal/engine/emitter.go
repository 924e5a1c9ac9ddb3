package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/scribe/internal/bus"
	"github.com/roach88/scribe/internal/event"
	"github.com/roach88/scribe/internal/metrics"
	"github.com/roach88/scribe/internal/store"
)

// Emitter is the single path from "something happened" to "subscribers can
// see it". It persists the event, then publishes the committed copy to the
// bus. There is no emit without a durable commit first.
type Emitter struct {
	store   *store.Store
	bus     *bus.Bus
	logger  *slog.Logger
	collect *metrics.Collector
}

// NewEmitter wires the emitter. The collector may be nil in tests that do
// not assert on metrics.
func NewEmitter(st *store.Store, b *bus.Bus, logger *slog.Logger, collect *metrics.Collector) *Emitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emitter{store: st, bus: b, logger: logger, collect: collect}
}

// Emit persists the event and fans it out. Returns the committed event with
// its assigned sequence number.
//
// A publish failure after a successful commit is logged but not returned:
// the event is durable and reachable via replay, which is the contract that
// matters.
func (e *Emitter) Emit(ctx context.Context, ev event.Event) (event.Event, error) {
	committed, err := e.store.AppendEvent(ctx, ev)
	if err != nil {
		return event.Event{}, err
	}
	if e.collect != nil {
		e.collect.RecordEventAppended()
	}

	delivered, err := e.bus.Publish(committed)
	if err != nil {
		e.logger.Error("publish after commit failed",
			"seq", committed.Seq, "type", committed.Type, "error", err)
		return committed, nil
	}
	if e.collect != nil {
		e.collect.RecordBusDelivery(delivered)
	}

	return committed, nil
}
