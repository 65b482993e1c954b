// Package feed polls the quote source for the watched assets, maintains the
// rolling price history and the short-TTL order-book cache, and keeps a
// freshness timestamp per asset.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// Config holds the aggregator's tuning knobs.
type Config struct {
	FetchInterval        time.Duration // minimum inter-cycle interval
	MaxConcurrentFetches int
	HistorySize          int
	BookCacheTTL         time.Duration
	BookCacheEnabled     bool
}

// Aggregator owns the per-asset PriceSample buffers and the order-book cache.
// No other component writes them.
type Aggregator struct {
	source   domain.QuoteSource
	history  *History
	cache    *BookCache
	cfg      Config
	logger   *slog.Logger
	onSample func(assetID string, s domain.PriceSample)
}

// NewAggregator creates an Aggregator reading from the given quote source.
func NewAggregator(source domain.QuoteSource, cfg Config, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		source:  source,
		history: NewHistory(cfg.HistorySize),
		cache:   NewBookCache(cfg.BookCacheTTL, cfg.BookCacheEnabled),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "price_feed")),
	}
}

// History exposes the rolling price buffers for read-only consumers.
func (a *Aggregator) History() *History { return a.history }

// SetSampleHook registers an observer called for every ingested sample, e.g.
// an external price mirror. The hook must not block; set it before RunLoop.
func (a *Aggregator) SetSampleHook(hook func(assetID string, s domain.PriceSample)) {
	a.onSample = hook
}

// Book returns the freshest known order book for the asset: the cached
// snapshot when within TTL, otherwise a fresh fetch that replaces the cache
// entry and appends a price sample.
func (a *Aggregator) Book(ctx context.Context, assetID string) (domain.OrderBookSnapshot, error) {
	now := time.Now().UTC()
	if snap, ok := a.cache.Get(assetID, now); ok {
		return snap, nil
	}
	snap, err := a.source.FetchOrderBook(ctx, assetID)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	a.ingest(ctx, snap)
	return snap, nil
}

// StaleBook returns the last known snapshot regardless of TTL.
func (a *Aggregator) StaleBook(assetID string) (domain.OrderBookSnapshot, bool) {
	return a.cache.Peek(assetID)
}

// Refresh fetches current order books for the given assets, subject to the
// cache. The whole cache-miss set goes out as one batch read; assets the
// batch did not cover fall back to per-asset fetches with bounded
// concurrency. A failure for one asset never aborts the others, and a failed
// asset simply keeps its previous sample for this cycle.
func (a *Aggregator) Refresh(ctx context.Context, assets []domain.Asset) {
	now := time.Now().UTC()
	pending := make([]domain.Asset, 0, len(assets))
	for _, asset := range assets {
		if _, ok := a.cache.Get(asset.ID, now); ok {
			// Cache hit: the entry is still fresh, nothing to fetch.
			continue
		}
		pending = append(pending, asset)
	}
	if len(pending) == 0 || ctx.Err() != nil {
		return
	}

	ids := make([]string, 0, len(pending))
	for _, asset := range pending {
		ids = append(ids, asset.ID)
	}
	books, err := a.source.FetchOrderBooks(ctx, ids)
	if err != nil {
		a.logger.Warn("batch order book fetch failed, falling back to per-asset fetches",
			slog.Int("assets", len(ids)),
			slog.String("error", err.Error()),
		)
	}

	var fallback []domain.Asset
	for _, asset := range pending {
		snap, ok := books[asset.ID]
		if !ok {
			fallback = append(fallback, asset)
			continue
		}
		a.ingest(ctx, snap)
	}

	sem := make(chan struct{}, a.cfg.MaxConcurrentFetches)
	var wg sync.WaitGroup
	for _, asset := range fallback {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(asset domain.Asset) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			snap, err := a.source.FetchOrderBook(ctx, asset.ID)
			if err != nil {
				a.logger.Warn("order book fetch failed, keeping previous sample",
					slog.String("asset", asset.ID),
					slog.String("market", asset.MarketSlug),
					slog.String("error", err.Error()),
				)
				return
			}
			a.ingest(ctx, snap)
		}(asset)
	}
	wg.Wait()
}

// RunLoop runs Refresh on a minimum-interval cadence until ctx is cancelled.
// A cycle that finishes early waits out the remainder; a cycle that overruns
// is followed immediately by the next one. Missed cycles are never queued.
func (a *Aggregator) RunLoop(ctx context.Context, assets []domain.Asset) error {
	a.logger.Info("price feed started",
		slog.Int("assets", len(assets)),
		slog.Duration("interval", a.cfg.FetchInterval),
		slog.Int("max_concurrent", a.cfg.MaxConcurrentFetches),
	)
	defer a.logger.Info("price feed stopped")

	for {
		start := time.Now()
		a.Refresh(ctx, assets)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if wait := a.cfg.FetchInterval - time.Since(start); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// HandleBookPush ingests a snapshot delivered by the websocket feed. The
// cache is always warmed, but a price sample is appended only when the
// asset's newest sample is at least one fetch interval old, so bursts of
// push traffic cannot compress the history cadence below the polled rate.
func (a *Aggregator) HandleBookPush(snap domain.OrderBookSnapshot) {
	now := time.Now().UTC()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}
	a.cache.Put(snap, now)

	if last, ok := a.history.Latest(snap.AssetID); ok && snap.Timestamp.Sub(last.Timestamp) < a.cfg.FetchInterval {
		return
	}
	sample := sampleFrom(snap)
	if sample.Mid == 0 {
		return
	}
	a.append(snap.AssetID, sample)
}

// ingest stores a fetched snapshot and appends the derived price sample. An
// empty book falls back to the price endpoint; when that also yields nothing
// the previous sample stands.
func (a *Aggregator) ingest(ctx context.Context, snap domain.OrderBookSnapshot) {
	now := time.Now().UTC()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}
	a.cache.Put(snap, now)

	sample := sampleFrom(snap)
	if sample.Mid == 0 {
		q, err := a.source.FetchQuote(ctx, snap.AssetID)
		if err != nil || quoteMid(q) == 0 {
			if err != nil {
				a.logger.Debug("quote fallback failed",
					slog.String("asset", snap.AssetID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		sample.Bid, sample.Ask, sample.Mid = q.Bid, q.Ask, quoteMid(q)
	}
	a.append(snap.AssetID, sample)
}

func (a *Aggregator) append(assetID string, sample domain.PriceSample) {
	a.history.Append(assetID, sample)
	if a.onSample != nil {
		a.onSample(assetID, sample)
	}
}

func sampleFrom(snap domain.OrderBookSnapshot) domain.PriceSample {
	return domain.PriceSample{
		Timestamp: snap.Timestamp,
		Mid:       snap.Mid(),
		Bid:       snap.BestBid(),
		Ask:       snap.BestAsk(),
	}
}

// quoteMid mirrors OrderBookSnapshot.Mid's preference order for a quote.
func quoteMid(q domain.Quote) float64 {
	switch {
	case q.Mid > 0:
		return q.Mid
	case q.Bid > 0:
		return q.Bid
	default:
		return q.Ask
	}
}
