package app

import (
	"context"
	"errors"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// fanout publishes every event to each of its publishers. One failing sink
// does not keep the others from receiving the event.
type fanout []domain.Publisher

func (f fanout) Publish(ctx context.Context, eventType string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, eventType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
