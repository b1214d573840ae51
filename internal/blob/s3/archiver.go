package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// TradeArchiveStore is the part of the trade store the archiver needs.
type TradeArchiveStore interface {
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error)
	DeleteTrades(ctx context.Context, ids []string) (int64, error)
}

// LogArchiveStore is the part of the log store the archiver needs.
type LogArchiveStore interface {
	ListLogs(ctx context.Context, opts domain.ListOpts) ([]domain.LogEntry, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver implements domain.Archiver. Records are uploaded as JSONL first and
// deleted from the primary store only after the upload succeeds.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	logs   LogArchiveStore
	batch  int
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver moving at most batch trades per object.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, logs LogArchiveStore, batch int, logger *slog.Logger) *Archiver {
	if batch <= 0 {
		batch = 500
	}
	return &Archiver{
		writer: writer,
		trades: trades,
		logs:   logs,
		batch:  batch,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades moves every closed trade with closed_at before the cutoff to
// archive/trades/YYYY-MM/<first id>.jsonl, one object per batch. Returns the
// number of trades removed from the store.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		trades, err := a.trades.ListClosedBefore(ctx, before, a.batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		if len(trades) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(trades)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades marshal: %w", err)
		}
		first := trades[0]
		month := first.OpenedAt
		if first.ClosedAt != nil {
			month = *first.ClosedAt
		}
		path := fmt.Sprintf("archive/trades/%s/%s.jsonl", month.UTC().Format("2006-01"), first.ID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
			return total, fmt.Errorf("s3blob: archive trades upload: %w", err)
		}

		ids := make([]string, len(trades))
		for i, t := range trades {
			ids[i] = t.ID
		}
		n, err := a.trades.DeleteTrades(ctx, ids)
		total += n
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades delete: %w", err)
		}
		a.logger.InfoContext(ctx, "trades archived",
			slog.String("path", path),
			slog.Int("count", len(trades)),
		)
		if len(trades) < a.batch {
			return total, nil
		}
	}
}

// ArchiveLogs uploads every log entry created before the cutoff to
// archive/logs/YYYY-MM-DD.jsonl and then deletes them. Returns the number of
// entries deleted.
func (a *Archiver) ArchiveLogs(ctx context.Context, before time.Time) (int64, error) {
	var entries []domain.LogEntry
	for offset := 0; ; offset += a.batch {
		page, err := a.logs.ListLogs(ctx, domain.ListOpts{Until: &before, Limit: a.batch, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive logs query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < a.batch {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive logs marshal: %w", err)
	}
	path := fmt.Sprintf("archive/logs/%s.jsonl", before.UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive logs upload: %w", err)
	}

	n, err := a.logs.DeleteLogsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive logs delete: %w", err)
	}
	a.logger.InfoContext(ctx, "logs archived",
		slog.String("path", path),
		slog.Int64("count", n),
	)
	return n, nil
}

// Run archives trades and logs older than retention.
func (a *Archiver) Run(ctx context.Context, retention time.Duration) error {
	cutoff := a.now().Add(-retention)
	a.logger.InfoContext(ctx, "starting archive run", slog.Time("cutoff", cutoff))

	trades, err := a.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}
	logs, err := a.ArchiveLogs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving logs before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", trades),
		slog.Int64("logs_archived", logs),
	)
	return nil
}

// RunEvery calls Run on every tick until ctx is cancelled. Failed runs are
// logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, every, retention time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.Run(ctx, retention); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
