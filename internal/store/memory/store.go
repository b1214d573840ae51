// Package memory is an in-process domain.Store used when no database is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Store keeps trades, logs, status and risk history in memory.
type Store struct {
	mu      sync.RWMutex
	trades  map[string]domain.Position
	logs    []domain.LogEntry
	nextLog int64
	status  *domain.BotStatus
	risk    []RiskRow
}

// RiskRow is one saved risk snapshot.
type RiskRow struct {
	Snapshot domain.RiskSnapshot
	At       time.Time
}

var _ domain.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{trades: make(map[string]domain.Position)}
}

func (s *Store) SaveTrade(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[pos.ID]; ok {
		return fmt.Errorf("memory: trade %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	s.trades[pos.ID] = pos
	return nil
}

func (s *Store) UpdateTrade(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[pos.ID]; !ok {
		return fmt.Errorf("memory: trade %s: %w", pos.ID, domain.ErrNotFound)
	}
	s.trades[pos.ID] = pos
	return nil
}

func (s *Store) GetTrade(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.trades[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: trade %s: %w", id, domain.ErrNotFound)
	}
	return pos, nil
}

// ListRecent returns trades ordered by open time, newest first.
func (s *Store) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	all := slices.Collect(maps.Values(s.trades))
	s.mu.RUnlock()

	out := all[:0]
	for _, p := range all {
		if opts.Symbol != "" && p.Symbol != opts.Symbol {
			continue
		}
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !p.OpenedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Position) int { return b.OpenedAt.Compare(a.OpenedAt) })
	return page(out, opts.Offset, opts.Limit), nil
}

func (s *Store) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.trades {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Position) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return out, nil
}

// ListClosedBefore returns closed trades whose close time precedes cutoff,
// oldest first.
func (s *Store) ListClosedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.trades {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Position) int { return a.ClosedAt.Compare(*b.ClosedAt) })
	return page(out, 0, limit), nil
}

func (s *Store) DeleteTrades(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.trades[id]; ok {
			delete(s.trades, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendLog(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLog++
	entry.ID = s.nextLog
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, entry)
	return nil
}

// ListLogs returns log entries newest first.
func (s *Store) ListLogs(_ context.Context, opts domain.ListOpts) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if opts.Symbol != "" && e.Symbol != opts.Symbol {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	for _, e := range s.logs {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	n := int64(len(s.logs) - len(kept))
	s.logs = kept
	return n, nil
}

func (s *Store) ReadStatus(_ context.Context) (domain.BotStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return domain.BotStatus{}, domain.ErrNotFound
	}
	return *s.status, nil
}

func (s *Store) WriteStatus(_ context.Context, st domain.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &st
	return nil
}

func (s *Store) SaveRiskSnapshot(_ context.Context, snap domain.RiskSnapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = append(s.risk, RiskRow{Snapshot: snap, At: at})
	return nil
}

// RiskHistory returns every saved snapshot in insertion order.
func (s *Store) RiskHistory() []RiskRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.risk)
}

func page[T any](xs []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(xs) {
			return nil
		}
		xs = xs[offset:]
	}
	if limit > 0 && len(xs) > limit {
		xs = xs[:limit]
	}
	return xs
}
