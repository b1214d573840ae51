package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// EventRelay subscribes to the event bus and forwards every raw message to a
// sink. The API server uses it to push events from an engine running in
// another process to its websocket clients.
type EventRelay struct {
	bus    domain.EventBus
	sink   func([]byte)
	logger *slog.Logger
}

// NewEventRelay creates an EventRelay.
func NewEventRelay(bus domain.EventBus, sink func([]byte), logger *slog.Logger) *EventRelay {
	return &EventRelay{
		bus:    bus,
		sink:   sink,
		logger: logger.With(slog.String("component", "event_relay")),
	}
}

// Run forwards messages until ctx is cancelled or the subscription closes.
func (r *EventRelay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("event relay started")
	defer r.logger.Info("event relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			r.sink(data)
		}
	}
}
