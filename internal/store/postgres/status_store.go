package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// StatusStore implements domain.StatusStore on the single-row bot_status
// table.
type StatusStore struct {
	pool *pgxpool.Pool
}

// NewStatusStore creates a new StatusStore backed by the given connection pool.
func NewStatusStore(pool *pgxpool.Pool) *StatusStore {
	return &StatusStore{pool: pool}
}

// ReadStatus returns the persisted engine summary, or domain.ErrNotFound on a
// fresh database.
func (s *StatusStore) ReadStatus(ctx context.Context) (domain.BotStatus, error) {
	const query = `SELECT phase, live, account, stats, risk, last_error, updated_at FROM bot_status WHERE id = 1`

	var (
		st                           domain.BotStatus
		phase                        string
		accountJSON, statsJSON, risk []byte
	)
	err := s.pool.QueryRow(ctx, query).Scan(&phase, &st.Live, &accountJSON, &statsJSON, &risk, &st.LastError, &st.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.BotStatus{}, domain.ErrNotFound
		}
		return domain.BotStatus{}, fmt.Errorf("postgres: read status: %w", classify(err))
	}
	st.Phase = domain.Phase(phase)

	if err := json.Unmarshal(accountJSON, &st.Account); err != nil {
		return domain.BotStatus{}, fmt.Errorf("postgres: unmarshal account: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &st.Stats); err != nil {
		return domain.BotStatus{}, fmt.Errorf("postgres: unmarshal stats: %w", err)
	}
	if err := json.Unmarshal(risk, &st.Risk); err != nil {
		return domain.BotStatus{}, fmt.Errorf("postgres: unmarshal risk: %w", err)
	}
	return st, nil
}

// WriteStatus upserts the engine summary.
func (s *StatusStore) WriteStatus(ctx context.Context, st domain.BotStatus) error {
	accountJSON, err := json.Marshal(st.Account)
	if err != nil {
		return fmt.Errorf("postgres: marshal account: %w", err)
	}
	statsJSON, err := json.Marshal(st.Stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal stats: %w", err)
	}
	riskJSON, err := json.Marshal(st.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk: %w", err)
	}

	const query = `
		INSERT INTO bot_status (id, phase, live, account, stats, risk, last_error, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			phase      = EXCLUDED.phase,
			live       = EXCLUDED.live,
			account    = EXCLUDED.account,
			stats      = EXCLUDED.stats,
			risk       = EXCLUDED.risk,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(st.Phase), st.Live, accountJSON, statsJSON, riskJSON, st.LastError); err != nil {
		return fmt.Errorf("postgres: write status: %w", classify(err))
	}
	return nil
}
