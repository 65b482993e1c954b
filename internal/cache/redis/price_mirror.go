package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// PriceMirror mirrors the latest observed mid price per asset into Redis so
// external dashboards can read bot state without touching the venue. Each
// asset is a hash at "spikebot:price:{assetID}" with fields "mid", "bid",
// "ask" and "ts" (Unix nanoseconds).
type PriceMirror struct {
	rdb *redis.Client
}

// NewPriceMirror creates a PriceMirror backed by the given Client.
func NewPriceMirror(c *Client) *PriceMirror {
	return &PriceMirror{rdb: c.Underlying()}
}

func priceKey(assetID string) string {
	return "spikebot:price:" + assetID
}

// SetPrice stores the latest sample for an asset. Failures are the caller's
// to log; the mirror is advisory and never blocks trading.
func (pm *PriceMirror) SetPrice(ctx context.Context, assetID string, sample domain.PriceSample) error {
	fields := map[string]interface{}{
		"mid": strconv.FormatFloat(sample.Mid, 'f', -1, 64),
		"bid": strconv.FormatFloat(sample.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(sample.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(sample.Timestamp.UnixNano(), 10),
	}
	if err := pm.rdb.HSet(ctx, priceKey(assetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice retrieves the mirrored sample for an asset. It returns
// domain.ErrNotFound when the asset has never been mirrored.
func (pm *PriceMirror) GetPrice(ctx context.Context, assetID string) (domain.PriceSample, error) {
	vals, err := pm.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return domain.PriceSample{}, domain.ErrNotFound
	}

	var sample domain.PriceSample
	sample.Mid, _ = strconv.ParseFloat(vals["mid"], 64)
	sample.Bid, _ = strconv.ParseFloat(vals["bid"], 64)
	sample.Ask, _ = strconv.ParseFloat(vals["ask"], 64)
	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		sample.Timestamp = time.Unix(0, tsNano)
	}
	return sample, nil
}
