package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// RiskStore implements domain.RiskStore using PostgreSQL.
type RiskStore struct {
	pool *pgxpool.Pool
}

// NewRiskStore creates a new RiskStore backed by the given connection pool.
func NewRiskStore(pool *pgxpool.Pool) *RiskStore {
	return &RiskStore{pool: pool}
}

// SaveRiskSnapshot records one aggregation cycle.
func (s *RiskStore) SaveRiskSnapshot(ctx context.Context, snap domain.RiskSnapshot, at time.Time) error {
	const query = `
		INSERT INTO risk_snapshots (
			var_95, sharpe_ratio, max_drawdown, volatility,
			exposure_ratio, concentration, account_drawdown, samples, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		snap.VaR95, snap.SharpeRatio, snap.MaxDrawdown, snap.Volatility,
		snap.ExposureRatio, snap.Concentration, snap.AccountDrawdown, snap.Samples, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk snapshot: %w", classify(err))
	}
	return nil
}

// ListRiskSnapshots returns snapshots taken at or after since, newest first.
func (s *RiskStore) ListRiskSnapshots(ctx context.Context, since time.Time, limit int) ([]domain.RiskSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT var_95, sharpe_ratio, max_drawdown, volatility,
		       exposure_ratio, concentration, account_drawdown, samples
		FROM risk_snapshots
		WHERE taken_at >= $1
		ORDER BY taken_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk snapshots: %w", classify(err))
	}
	defer rows.Close()

	var out []domain.RiskSnapshot
	for rows.Next() {
		var r domain.RiskSnapshot
		if err := rows.Scan(
			&r.VaR95, &r.SharpeRatio, &r.MaxDrawdown, &r.Volatility,
			&r.ExposureRatio, &r.Concentration, &r.AccountDrawdown, &r.Samples,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan risk snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
