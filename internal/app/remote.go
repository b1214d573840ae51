package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

var errRemoteEngine = fmt.Errorf("engine runs in another process: %w", domain.ErrInvalidTransition)

// remoteEngine serves the status an engine in another process persists. It
// backs the API in server mode, where lifecycle calls are refused.
type remoteEngine struct {
	store  domain.Store
	logger *slog.Logger

	mu     sync.RWMutex
	status domain.Status
}

func newRemoteEngine(store domain.Store, logger *slog.Logger) *remoteEngine {
	return &remoteEngine{
		store:  store,
		logger: logger.With(slog.String("component", "remote_engine")),
		status: domain.Status{Phase: domain.PhaseStopped},
	}
}

// refresh reloads the persisted status and open book.
func (r *remoteEngine) refresh(ctx context.Context) error {
	st, err := r.store.ReadStatus(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remote engine: read status: %w", err)
	}
	open, err := r.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("remote engine: list open: %w", err)
	}

	r.mu.Lock()
	r.status = domain.Status{
		Phase:         st.Phase,
		Live:          st.Live,
		Account:       st.Account,
		Stats:         st.Stats,
		OpenPositions: open,
		Risk:          st.Risk,
		LastError:     st.LastError,
		UpdatedAt:     st.UpdatedAt,
	}
	r.mu.Unlock()
	return nil
}

// poll refreshes on every tick until ctx is cancelled.
func (r *remoteEngine) poll(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := r.refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "status refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *remoteEngine) Status() domain.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *remoteEngine) Start(context.Context) error { return errRemoteEngine }
func (r *remoteEngine) Stop(context.Context) error  { return errRemoteEngine }

func (r *remoteEngine) EmergencyStop(context.Context, string) error { return errRemoteEngine }

func (r *remoteEngine) ToggleLiveMode(context.Context, bool) error { return errRemoteEngine }

func (r *remoteEngine) AddCapital(context.Context, float64) (domain.Account, error) {
	return domain.Account{}, errRemoteEngine
}
