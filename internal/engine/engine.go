// Package engine runs the bot's three loops: price refresh, spike scanning,
// and exit checking. Each loop has its own cadence and concurrency bound; the
// loops share state only through the feed, the detector, and the risk manager.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// Config holds orchestrator loop parameters.
type Config struct {
	DetectInterval      time.Duration
	MaxConcurrentChecks int
	ExitCheckInterval   time.Duration
	MaxConcurrentExits  int
	SnapshotInterval    time.Duration
	ShutdownTimeout     time.Duration
	// Execute disables order flow when false (monitor mode): spikes are
	// detected and logged but never traded.
	Execute bool
}

// PriceFeed is the refresh loop of the price aggregator.
type PriceFeed interface {
	RunLoop(ctx context.Context, assets []domain.Asset) error
}

// Detector evaluates one asset for a spike.
type Detector interface {
	Evaluate(asset domain.Asset, now time.Time) (domain.Candidate, bool, error)
}

// RiskManager is the engine's view of the position manager.
type RiskManager interface {
	HandleCandidate(ctx context.Context, cand domain.Candidate) error
	CheckExit(ctx context.Context, assetID string) error
	OpenPositions() []domain.Position
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// Orchestrator supervises the loops and owns graceful shutdown: when the
// context is cancelled it flushes open positions to the store and publishes a
// final snapshot before returning.
type Orchestrator struct {
	cfg      Config
	assets   []domain.Asset
	feed     PriceFeed
	detector Detector
	risk     RiskManager
	store    domain.PositionStore     // may be nil
	pub      domain.SnapshotPublisher // may be nil
	logger   *slog.Logger
}

// New creates an Orchestrator. store and pub may be nil when persistence or
// observation is disabled.
func New(cfg Config, assets []domain.Asset, feed PriceFeed, detector Detector, risk RiskManager,
	store domain.PositionStore, pub domain.SnapshotPublisher, logger *slog.Logger) *Orchestrator {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		assets:   assets,
		feed:     feed,
		detector: detector,
		risk:     risk,
		store:    store,
		pub:      pub,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Run blocks until the context is cancelled or a loop fails fatally. Clean
// cancellation returns nil after the shutdown flush.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting loops",
		slog.Int("assets", len(o.assets)),
		slog.Bool("execute", o.cfg.Execute))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.feed.RunLoop(gctx, o.assets) })
	g.Go(func() error { return o.detectLoop(gctx) })
	g.Go(func() error { return o.exitLoop(gctx) })
	if o.pub != nil {
		g.Go(func() error { return o.snapshotLoop(gctx) })
	}

	err := g.Wait()
	o.shutdownFlush()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// detectLoop scans every asset each tick, bounded by MaxConcurrentChecks.
// A stale or short history skips the asset for the cycle.
func (o *Orchestrator) detectLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.DetectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.scanOnce(ctx)
		}
	}
}

func (o *Orchestrator) scanOnce(ctx context.Context) {
	sem := make(chan struct{}, o.cfg.MaxConcurrentChecks)
	var wg sync.WaitGroup
	now := time.Now()

	for _, asset := range o.assets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(asset domain.Asset) {
			defer wg.Done()
			defer func() { <-sem }()
			o.evaluateAsset(ctx, asset, now)
		}(asset)
	}
	wg.Wait()
}

func (o *Orchestrator) evaluateAsset(ctx context.Context, asset domain.Asset, now time.Time) {
	cand, triggered, err := o.detector.Evaluate(asset, now)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			o.logger.Debug("asset skipped", slog.String("asset", asset.ID), slog.String("reason", err.Error()))
		} else {
			o.logger.Warn("detector failure", slog.String("asset", asset.ID), slog.String("error", err.Error()))
		}
		return
	}
	if !triggered {
		return
	}

	o.logger.Info("spike detected",
		slog.String("asset", asset.ID),
		slog.String("direction", string(cand.Direction)),
		slog.Float64("delta", cand.Delta),
		slog.Float64("threshold", cand.Threshold),
		slog.Float64("mid", cand.Mid))
	if !o.cfg.Execute {
		return
	}
	if err := o.risk.HandleCandidate(ctx, cand); err != nil {
		o.logger.Error("candidate handling failed",
			slog.String("asset", asset.ID),
			slog.String("error", err.Error()))
	}
}

// exitLoop checks every open position each tick, bounded by
// MaxConcurrentExits. Positions on distinct assets exit independently.
func (o *Orchestrator) exitLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.ExitCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.exitSweep(ctx)
		}
	}
}

func (o *Orchestrator) exitSweep(ctx context.Context) {
	open := o.risk.OpenPositions()
	if len(open) == 0 {
		return
	}

	sem := make(chan struct{}, o.cfg.MaxConcurrentExits)
	var wg sync.WaitGroup
	for _, pos := range open {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(assetID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.risk.CheckExit(ctx, assetID); err != nil {
				o.logger.Warn("exit check failed",
					slog.String("asset", assetID),
					slog.String("error", err.Error()))
			}
		}(pos.Asset.ID)
	}
	wg.Wait()
}

// snapshotLoop publishes throttled state snapshots for external observers.
func (o *Orchestrator) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := o.risk.Snapshot(ctx)
			if err != nil {
				o.logger.Warn("snapshot assembly failed", slog.String("error", err.Error()))
				continue
			}
			if err := o.pub.PublishSnapshot(ctx, snap); err != nil {
				o.logger.Warn("snapshot publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

// shutdownFlush persists every open position and publishes a final snapshot
// so a restart can recover exactly where it stopped. It runs on a fresh
// context since the run context is already cancelled.
func (o *Orchestrator) shutdownFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
	defer cancel()

	open := o.risk.OpenPositions()
	if o.store != nil {
		for _, pos := range open {
			if err := o.store.Upsert(ctx, pos); err != nil {
				o.logger.Error("final position flush failed",
					slog.String("position", pos.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	if o.pub != nil {
		if snap, err := o.risk.Snapshot(ctx); err == nil {
			if err := o.pub.PublishSnapshot(ctx, snap); err != nil {
				o.logger.Warn("final snapshot publish failed", slog.String("error", err.Error()))
			}
		}
	}
	o.logger.Info("shutdown complete", slog.Int("open_positions", len(open)))
}
