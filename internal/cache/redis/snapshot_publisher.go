package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

const (
	snapshotKey     = "spikebot:snapshot"
	snapshotChannel = "spikebot:snapshots"
	snapshotStream  = "spikebot:snapshot-stream"

	// Streams are capped so an unattended bot cannot grow Redis unbounded.
	snapshotStreamMaxLen = 10000
)

// SnapshotPublisher emits account snapshots to Redis three ways at once: the
// latest snapshot is SET under a fixed key for polling readers, published on a
// Pub/Sub channel for live subscribers, and appended to a capped stream for
// replay. It implements domain.SnapshotPublisher.
type SnapshotPublisher struct {
	rdb *redis.Client
}

// NewSnapshotPublisher creates a SnapshotPublisher backed by the given Client.
func NewSnapshotPublisher(c *Client) *SnapshotPublisher {
	return &SnapshotPublisher{rdb: c.Underlying()}
}

type wirePosition struct {
	ID         string   `json:"id"`
	AssetID    string   `json:"asset_id"`
	MarketSlug string   `json:"market_slug"`
	Outcome    string   `json:"outcome"`
	EntryPrice float64  `json:"entry_price"`
	EntryTime  int64    `json:"entry_time"`
	Shares     float64  `json:"shares"`
	CostUSD    float64  `json:"cost_usd"`
	Status     string   `json:"status"`
	ExitReason string   `json:"exit_reason,omitempty"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
}

type wireSnapshot struct {
	At        int64          `json:"at"`
	Balance   float64        `json:"balance"`
	Positions []wirePosition `json:"positions"`
}

func toWire(snap domain.Snapshot) wireSnapshot {
	out := wireSnapshot{
		At:        snap.At.Unix(),
		Balance:   snap.Balance,
		Positions: make([]wirePosition, 0, len(snap.Positions)),
	}
	for _, p := range snap.Positions {
		out.Positions = append(out.Positions, wirePosition{
			ID:         p.ID,
			AssetID:    p.Asset.ID,
			MarketSlug: p.Asset.MarketSlug,
			Outcome:    p.Asset.Outcome,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime.Unix(),
			Shares:     p.Shares,
			CostUSD:    p.CostUSD,
			Status:     string(p.Status),
			ExitReason: string(p.ExitReason),
			ExitPrice:  p.ExitPrice,
		})
	}
	return out
}

// PublishSnapshot serializes the snapshot and fans it out. The latest-value
// key carries a TTL so stale state disappears when the bot stops.
func (sp *SnapshotPublisher) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	payload, err := json.Marshal(toWire(snap))
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}

	pipe := sp.rdb.Pipeline()
	pipe.Set(ctx, snapshotKey, payload, 24*time.Hour)
	pipe.Publish(ctx, snapshotChannel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: snapshotStream,
		MaxLen: snapshotStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"snapshot": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish snapshot: %w", err)
	}
	return nil
}

// Latest fetches the most recently published snapshot payload, raw. It
// returns domain.ErrNotFound when no snapshot has been published yet.
func (sp *SnapshotPublisher) Latest(ctx context.Context) ([]byte, error) {
	raw, err := sp.rdb.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: latest snapshot: %w", err)
	}
	return raw, nil
}
