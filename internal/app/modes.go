package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mathidot/polymarket-bot/internal/detect"
	"github.com/mathidot/polymarket-bot/internal/domain"
	"github.com/mathidot/polymarket-bot/internal/engine"
	"github.com/mathidot/polymarket-bot/internal/exec"
	"github.com/mathidot/polymarket-bot/internal/feed"
	"github.com/mathidot/polymarket-bot/internal/platform/polymarket"
	"github.com/mathidot/polymarket-bot/internal/risk"
	"github.com/mathidot/polymarket-bot/internal/server"
	"github.com/mathidot/polymarket-bot/internal/server/handler"
	"github.com/mathidot/polymarket-bot/internal/server/ws"
)

// leaderLockTTL guards against two live traders sharing one account. The
// lock is released on shutdown; the TTL only matters if the process dies
// without unlocking.
const leaderLockTTL = 24 * time.Hour

// TradeMode trades with real funds through the CLOB. It takes the Redis
// leader lock when available so a second instance cannot double-trade the
// account.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("funder", a.cfg.Wallet.ProxyWallet),
	)

	if deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, "trader", leaderLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another trading instance holds the leader lock: %w", err)
			}
			return fmt.Errorf("app: leader lock: %w", err)
		}
		defer unlock()
	}

	if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("app: derive api key: %w", err)
	}

	gateway := exec.NewLiveGateway(deps.Clob, deps.Signer, a.cfg.Wallet.ProxyWallet, a.logger)
	return a.run(ctx, deps, gateway, true)
}

// SimMode trades against the in-memory simulated ledger. The full decision
// path runs; only the fills are fake.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode",
		slog.Float64("start_balance", a.cfg.Sim.StartBalance),
	)

	gateway := exec.NewSimGateway(a.cfg.Sim.StartBalance, a.logger)
	return a.run(ctx, deps, gateway, true)
}

// MonitorMode watches and logs spikes without ever placing an order.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	// The sim gateway only serves balance reads for snapshots here; order
	// flow is disabled at the engine level.
	gateway := exec.NewSimGateway(a.cfg.Sim.StartBalance, a.logger)
	return a.run(ctx, deps, gateway, false)
}

// run assembles the feed, detector, risk manager, and engine, then
// supervises them together with the optional archiver, WebSocket feed, and
// HTTP server until the context is cancelled.
func (a *App) run(ctx context.Context, deps *Dependencies, gateway domain.ExecutionGateway, execute bool) error {
	assets, err := a.resolveAssets(ctx, deps.Gamma)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "watching assets", slog.Int("count", len(assets)))

	agg := feed.NewAggregator(deps.Clob, feed.Config{
		FetchInterval:        a.cfg.Feed.FetchInterval.Duration,
		MaxConcurrentFetches: a.cfg.Feed.MaxConcurrentFetches,
		HistorySize:          a.cfg.Feed.HistorySize,
		BookCacheTTL:         a.cfg.Feed.BookCacheTTL.Duration,
		BookCacheEnabled:     a.cfg.Feed.BookCacheEnabled,
	}, a.logger)

	if deps.PriceMirror != nil {
		mirror := deps.PriceMirror
		logger := a.logger
		agg.SetSampleHook(func(assetID string, s domain.PriceSample) {
			go func() {
				mctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := mirror.SetPrice(mctx, assetID, s); err != nil {
					logger.Debug("price mirror write failed",
						slog.String("asset", assetID),
						slog.String("error", err.Error()),
					)
				}
			}()
		})
	}

	detector := detect.New(detect.Config{
		Mode:            detect.Mode(a.cfg.Detector.Mode),
		WindowSamples:   a.cfg.Detector.WindowSamples,
		WindowSpan:      a.cfg.Detector.WindowSpan.Duration,
		UpThreshold:     a.cfg.Detector.UpThreshold(),
		DownThreshold:   a.cfg.Detector.DownThreshold(),
		SigmaMultiplier: a.cfg.Detector.SigmaMultiplier,
		SpreadBuffer:    a.cfg.Detector.SpreadBuffer,
		MinTriggerGap:   a.cfg.Detector.MinTriggerGap.Duration,
		FreshnessBound:  a.cfg.Feed.FreshnessBound.Duration,
	}, agg.History(), agg)

	notifyHook := deps.Notifier.PositionHook()
	onEvent := func(ctx context.Context, ev risk.Event) {
		if deps.PositionStore != nil {
			if err := deps.PositionStore.Upsert(ctx, ev.Position); err != nil {
				a.logger.Warn("position upsert failed",
					slog.String("position", ev.Position.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if ev.Type == risk.EventClosed {
			detector.Rearm(ev.Position.Asset.ID)
		}
		notifyHook(ctx, ev)
	}

	manager := risk.NewManager(risk.Config{
		TradeUnit:           a.cfg.Risk.TradeUnit,
		MaxConcurrentTrades: a.cfg.Risk.MaxConcurrentTrades,
		MinLiquidity:        a.cfg.Risk.MinLiquidity,
		SlippageTolerance:   a.cfg.Risk.SlippageTolerance,
		MaxBookLevels:       a.cfg.Risk.MaxBookLevels,
		PriceLowerBound:     a.cfg.Risk.PriceLowerBound,
		PriceUpperBound:     a.cfg.Risk.PriceUpperBound,
		TakeProfitPct:       a.cfg.Risk.TakeProfitPct,
		StopLossPct:         a.cfg.Risk.StopLossPct,
		CashProfit:          a.cfg.Risk.CashProfit,
		CashLoss:            a.cfg.Risk.CashLoss,
		HoldingTimeLimit:    a.cfg.Risk.HoldingTimeLimit.Duration,
		KeepMinShares:       a.cfg.Risk.KeepMinShares,
		ReentryCooldown:     a.cfg.Risk.ReentryCooldown.Duration,
		RetryCooldown:       a.cfg.Risk.RetryCooldown.Duration,
	}, gateway, agg, a.logger, onEvent)

	if deps.PositionStore != nil {
		open, err := deps.PositionStore.GetOpen(ctx)
		if err != nil {
			return fmt.Errorf("app: restore positions: %w", err)
		}
		manager.Restore(open)
		if len(open) > 0 {
			a.logger.InfoContext(ctx, "restored open positions", slog.Int("count", len(open)))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Snapshot consumers: the Redis mirror and, when the server is up, the
	// WebSocket hub.
	var publishers []domain.SnapshotPublisher
	if deps.SnapshotPub != nil {
		publishers = append(publishers, deps.SnapshotPub)
	}

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.cfg.Mode, a.logger)
		publishers = append(publishers, hub)
		g.Go(func() error { return hub.Run(gctx) })
	}

	orch := engine.New(engine.Config{
		DetectInterval:      a.cfg.Engine.DetectInterval.Duration,
		MaxConcurrentChecks: a.cfg.Detector.MaxConcurrent,
		ExitCheckInterval:   a.cfg.Engine.ExitCheckInterval.Duration,
		MaxConcurrentExits:  a.cfg.Engine.MaxConcurrentExits,
		SnapshotInterval:    a.cfg.Engine.SnapshotInterval.Duration,
		Execute:             execute,
	}, assets, agg, detector, manager, deps.PositionStore, joinPublishers(publishers), a.logger)
	g.Go(func() error { return orch.Run(gctx) })

	if a.cfg.Feed.WsEnabled && a.cfg.Polymarket.WsHost != "" {
		ids := make([]string, 0, len(assets))
		for _, asset := range assets {
			ids = append(ids, asset.ID)
		}
		wsFeed := feed.NewWSFeed(a.cfg.Polymarket.WsHost, ids, agg, a.logger)
		g.Go(func() error { return wsFeed.Run(gctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, manager, hub)
	}

	return g.Wait()
}

// startHTTPServer registers the status API on the errgroup: one goroutine
// serves, another shuts the server down when the group context ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, manager *risk.Manager, hub *ws.Hub) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), manager, a.logger),
		Positions: handler.NewPositionHandler(manager, a.logger),
	}
	if deps.ArchiveReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.ArchiveReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// resolveAssets builds the watch list: market slugs resolved through Gamma,
// explicit "yesTokenID:noTokenID" pairs, and, when both are empty, the most
// active order-book-enabled markets up to the configured fetch limit.
func (a *App) resolveAssets(ctx context.Context, gamma *polymarket.GammaClient) ([]domain.Asset, error) {
	var assets []domain.Asset

	if len(a.cfg.Markets.Slugs) > 0 {
		resolved, err := gamma.ResolveAssets(ctx, a.cfg.Markets.Slugs)
		if err != nil {
			return nil, fmt.Errorf("app: resolve market slugs: %w", err)
		}
		assets = append(assets, resolved...)
	}

	for _, pair := range a.cfg.Markets.AssetPairs {
		yes, no, ok := strings.Cut(pair, ":")
		yes, no = strings.TrimSpace(yes), strings.TrimSpace(no)
		if !ok || yes == "" || no == "" {
			return nil, fmt.Errorf("app: malformed asset pair %q, want yesTokenID:noTokenID", pair)
		}
		assets = append(assets,
			domain.Asset{ID: yes, PairedAssetID: no, Outcome: "Yes"},
			domain.Asset{ID: no, PairedAssetID: yes, Outcome: "No"},
		)
	}

	if len(assets) == 0 && a.cfg.Markets.FetchLimit > 0 {
		markets, err := gamma.ListMarkets(ctx, a.cfg.Markets.FetchLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("app: list markets: %w", err)
		}
		for _, m := range markets {
			if !m.Tradeable() {
				continue
			}
			assets = append(assets, m.ToAssets()...)
		}
	}

	if len(assets) == 0 {
		return nil, fmt.Errorf("app: no assets to watch, configure markets.slugs or markets.asset_pairs")
	}

	// Dedupe on token ID; slugs and explicit pairs may overlap.
	seen := make(map[string]bool, len(assets))
	out := assets[:0]
	for _, asset := range assets {
		if seen[asset.ID] {
			continue
		}
		seen[asset.ID] = true
		out = append(out, asset)
	}
	return out, nil
}

// joinPublishers fans snapshots out to every configured publisher. A nil
// return disables the engine's snapshot loop entirely.
func joinPublishers(pubs []domain.SnapshotPublisher) domain.SnapshotPublisher {
	switch len(pubs) {
	case 0:
		return nil
	case 1:
		return pubs[0]
	default:
		return multiPublisher(pubs)
	}
}

type multiPublisher []domain.SnapshotPublisher

func (m multiPublisher) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	var errs []error
	for _, pub := range m {
		if err := pub.PublishSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
