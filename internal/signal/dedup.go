package signal

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Dedup passes each prediction through once. An external model keeps a
// prediction published until it writes a new one, so the same call is seen
// on every decision cycle.
type Dedup struct {
	next domain.SignalSource
	ttl  time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // prediction key -> first seen
}

var _ domain.SignalSource = (*Dedup)(nil)

// NewDedup wraps next. A prediction is suppressed for ttl after it was first
// returned.
func NewDedup(next domain.SignalSource, ttl time.Duration) *Dedup {
	return &Dedup{
		next: next,
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Predict returns the predictions of next that were not returned before.
func (d *Dedup) Predict(ctx context.Context, symbols []string) (map[string]domain.Prediction, error) {
	preds, err := d.next.Predict(ctx, symbols)

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
	for sym, p := range preds {
		key := p.Source + "|" + p.Symbol + "|" + strconv.FormatInt(p.At.UnixNano(), 10)
		if _, ok := d.seen[key]; ok {
			delete(preds, sym)
			continue
		}
		d.seen[key] = now
	}
	return preds, err
}
