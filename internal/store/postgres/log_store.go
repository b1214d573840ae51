package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// LogStore implements domain.LogStore using PostgreSQL.
type LogStore struct {
	pool *pgxpool.Pool
}

// NewLogStore creates a new LogStore backed by the given connection pool.
func NewLogStore(pool *pgxpool.Pool) *LogStore {
	return &LogStore{pool: pool}
}

// AppendLog appends a trading log entry. The detail map is stored as JSONB.
func (s *LogStore) AppendLog(ctx context.Context, e domain.LogEntry) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal log detail: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `INSERT INTO trading_logs (level, event, symbol, detail, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, e.Level, e.Event, e.Symbol, detailJSON, createdAt); err != nil {
		return fmt.Errorf("postgres: append log %s: %w", e.Event, classify(err))
	}
	return nil
}

// ListLogs returns log entries newest first with pagination and optional
// symbol and time filtering.
func (s *LogStore) ListLogs(ctx context.Context, opts domain.ListOpts) ([]domain.LogEntry, error) {
	query := `SELECT id, level, event, symbol, detail, created_at FROM trading_logs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, opts.Symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list logs: %w", classify(err))
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.Level, &e.Event, &e.Symbol, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan log entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal log detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list logs rows: %w", err)
	}
	return entries, nil
}

// DeleteLogsBefore removes log entries older than cutoff. Returns the number
// deleted.
func (s *LogStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trading_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete logs before: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}
