package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, quantity, entry_price, current_price,
	stop_loss, take_profit, status, close_reason, realized_pnl, unrealized_pnl,
	entry_order_id, exit_order_id, exit_price, signal, rationale,
	opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.Position, error) {
	var (
		p                    domain.Position
		side, status, reason string
		signalJSON           []byte
	)
	err := row.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.CurrentPrice,
		&p.StopLoss, &p.TakeProfit, &status, &reason, &p.RealizedPnL, &p.UnrealizedPnL,
		&p.EntryOrderID, &p.ExitOrderID, &p.ExitPrice, &signalJSON, &p.Rationale,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	if len(signalJSON) > 0 {
		if err := json.Unmarshal(signalJSON, &p.Signal); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal signal: %w", err)
		}
	}
	return p, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveTrade inserts a newly opened position. A second open position for the
// same symbol violates trades_open_symbol_uniq and returns ErrAlreadyExists.
func (s *TradeStore) SaveTrade(ctx context.Context, p domain.Position) error {
	signalJSON, err := json.Marshal(p.Signal)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO trades (
			id, symbol, side, quantity, entry_price, current_price,
			stop_loss, take_profit, status, close_reason, realized_pnl, unrealized_pnl,
			entry_order_id, exit_order_id, exit_price, signal, rationale,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.Quantity, p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, string(p.Status), string(p.CloseReason), p.RealizedPnL, p.UnrealizedPnL,
		p.EntryOrderID, p.ExitOrderID, p.ExitPrice, signalJSON, p.Rationale,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", p.ID, classify(err))
	}
	return nil
}

// UpdateTrade replaces the mutable fields of a position: marks, stop, the
// quantity left after partial exits, and the close outcome.
func (s *TradeStore) UpdateTrade(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE trades SET
			current_price  = $2,
			stop_loss      = $3,
			take_profit    = $4,
			status         = $5,
			close_reason   = $6,
			realized_pnl   = $7,
			unrealized_pnl = $8,
			exit_order_id  = $9,
			exit_price     = $10,
			closed_at      = $11,
			quantity       = $12,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CurrentPrice, p.StopLoss, p.TakeProfit,
		string(p.Status), string(p.CloseReason), p.RealizedPnL, p.UnrealizedPnL,
		p.ExitOrderID, p.ExitPrice, p.ClosedAt, p.Quantity,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", p.ID, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetTrade retrieves a single trade by ID.
func (s *TradeStore) GetTrade(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	p, err := scanTrade(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get trade %s: %w", id, classify(err))
	}
	return p, nil
}

// ListRecent returns trades newest first with optional symbol and time filters
// on opened_at.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, opts.Symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC, id"

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
		return nil, fmt.Errorf("postgres: list recent trades: %w", classify(err))
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// ListOpen returns every OPEN trade, oldest first.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = 'OPEN' ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", classify(err))
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListClosedBefore returns up to limit CLOSED trades whose closed_at is before
// cutoff, oldest first (for archiving).
func (s *TradeStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status = 'CLOSED' AND closed_at < $1
		ORDER BY closed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before: %w", classify(err))
	}
	defer rows.Close()
	return scanTrades(rows)
}

// DeleteTrades removes the given trades. Returns the number deleted.
func (s *TradeStore) DeleteTrades(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}
