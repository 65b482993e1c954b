package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// archiveBatchSize bounds how many closed positions one sweep iteration
// loads, serializes, and deletes.
const archiveBatchSize = 500

// ArchiveStore is the narrow slice of the position store the archiver needs:
// reading closed positions past the retention cutoff and deleting them once
// their archive object is confirmed in the bucket.
type ArchiveStore interface {
	ListClosedBefore(ctx context.Context, cutoff int64, limit int) ([]domain.Position, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// BlobWriter uploads one object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobChecker verifies an object landed.
type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver periodically moves closed positions older than the retention
// window out of the primary store and into object storage as JSONL batches.
// Rows are deleted only after the uploaded object is confirmed to exist, so
// a failed upload leaves the store untouched and the next sweep retries.
type Archiver struct {
	store     ArchiveStore
	writer    BlobWriter
	checker   BlobChecker
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver sweeping on the given interval and keeping
// closed positions for the given retention period.
func NewArchiver(store ArchiveStore, writer BlobWriter, checker BlobChecker, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:     store,
		writer:    writer,
		checker:   checker,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run sweeps once immediately, then on every interval tick until the context
// is cancelled. Sweep failures are logged and retried next tick.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.Sweep(ctx); err != nil {
		a.logger.Warn("archive sweep failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				a.logger.Warn("archive sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep archives and deletes closed positions past the retention cutoff,
// batch by batch, until no eligible rows remain.
func (a *Archiver) Sweep(ctx context.Context) error {
	cutoff := a.now().Add(-a.retention)

	for {
		archived, err := a.sweepBatch(ctx, cutoff)
		if err != nil {
			return err
		}
		if archived < archiveBatchSize {
			return nil
		}
	}
}

func (a *Archiver) sweepBatch(ctx context.Context, cutoff time.Time) (int, error) {
	positions, err := a.store.ListClosedBefore(ctx, cutoff.Unix(), archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	ok, err := a.checker.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive verify: object %s missing after upload", path)
	}

	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}
	deleted, err := a.store.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive delete: %w", err)
	}

	a.logger.Info("archived closed positions",
		slog.String("path", path),
		slog.Int("count", len(positions)),
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)
	return len(positions), nil
}

// archivePath builds the object key for one archive batch, partitioned by
// day with a nanosecond suffix so batches within a day never collide.
//
//	archive/positions/2026-08-30/1756500000000000000.jsonl
func archivePath(at time.Time) string {
	return fmt.Sprintf("archive/positions/%s/%d.jsonl", at.UTC().Format("2006-01-02"), at.UnixNano())
}

// archivedPosition is the stable JSONL row format. Pointers flatten to
// omitted fields for positions that somehow lack exit data.
type archivedPosition struct {
	ID          string   `json:"id"`
	AssetID     string   `json:"asset_id"`
	MarketSlug  string   `json:"market_slug"`
	ConditionID string   `json:"condition_id,omitempty"`
	Outcome     string   `json:"outcome"`
	EntryPrice  float64  `json:"entry_price"`
	EntryTime   string   `json:"entry_time"`
	Shares      float64  `json:"shares"`
	CostUSD     float64  `json:"cost_usd"`
	Status      string   `json:"status"`
	ExitReason  string   `json:"exit_reason,omitempty"`
	ExitPrice   *float64 `json:"exit_price,omitempty"`
	ClosedAt    string   `json:"closed_at,omitempty"`
}

// marshalJSONL serialises positions as newline-delimited JSON, one compact
// line per position.
func marshalJSONL(positions []domain.Position) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, p := range positions {
		row := archivedPosition{
			ID:          p.ID,
			AssetID:     p.Asset.ID,
			MarketSlug:  p.Asset.MarketSlug,
			ConditionID: p.Asset.ConditionID,
			Outcome:     p.Asset.Outcome,
			EntryPrice:  p.EntryPrice,
			EntryTime:   p.EntryTime.UTC().Format(time.RFC3339Nano),
			Shares:      p.Shares,
			CostUSD:     p.CostUSD,
			Status:      string(p.Status),
			ExitReason:  string(p.ExitReason),
			ExitPrice:   p.ExitPrice,
		}
		if p.ClosedAt != nil {
			row.ClosedAt = p.ClosedAt.UTC().Format(time.RFC3339Nano)
		}
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
