// Package risk owns the position lifecycle. It gates entries against depth,
// slippage, price band and balance, watches open positions for exit
// conditions, and serializes every mutation behind one mutex so that the
// concurrency caps hold exactly.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mathidot/polymarket-bot/internal/book"
	"github.com/mathidot/polymarket-bot/internal/domain"
)

// Config holds entry-gate and exit parameters.
type Config struct {
	TradeUnit           float64 // target buy notional in USD
	MaxConcurrentTrades int
	MinLiquidity        float64 // minimum executable USD depth to enter
	SlippageTolerance   float64
	MaxBookLevels       int
	PriceLowerBound     float64
	PriceUpperBound     float64
	TakeProfitPct       float64
	StopLossPct         float64 // positive fraction
	CashProfit          float64
	CashLoss            float64 // positive USD amount
	HoldingTimeLimit    time.Duration
	KeepMinShares       float64
	ReentryCooldown     time.Duration
	RetryCooldown       time.Duration
}

// BookProvider supplies order books for depth evaluation and marking. Book may
// fetch; StaleBook only reads the local cache.
type BookProvider interface {
	Book(ctx context.Context, assetID string) (domain.OrderBookSnapshot, error)
	StaleBook(assetID string) (domain.OrderBookSnapshot, bool)
}

// EventType classifies position lifecycle events.
type EventType string

const (
	EventOpened   EventType = "position_opened"
	EventClosed   EventType = "position_closed"
	EventRejected EventType = "order_rejected"
)

// Event describes a position lifecycle change for persistence and
// notification. The hook runs outside the manager's mutex.
type Event struct {
	Type     EventType
	Position domain.Position
	Err      error
}

// Manager is the single writer of position state. All entries and exits go
// through it; callers from different loops may invoke it concurrently.
type Manager struct {
	cfg     Config
	gateway domain.ExecutionGateway
	books   BookProvider
	logger  *slog.Logger
	onEvent func(context.Context, Event)
	now     func() time.Time

	mu         sync.Mutex
	positions  map[string]*domain.Position // keyed by asset ID, non-closed only
	lastClosed map[string]time.Time        // re-entry cooldown anchors
	retryAfter map[string]time.Time        // earliest next attempt after a rejection
}

// NewManager creates a Manager. onEvent may be nil.
func NewManager(cfg Config, gateway domain.ExecutionGateway, books BookProvider, logger *slog.Logger, onEvent func(context.Context, Event)) *Manager {
	if onEvent == nil {
		onEvent = func(context.Context, Event) {}
	}
	return &Manager{
		cfg:        cfg,
		gateway:    gateway,
		books:      books,
		logger:     logger.With(slog.String("component", "risk")),
		onEvent:    onEvent,
		now:        time.Now,
		positions:  make(map[string]*domain.Position),
		lastClosed: make(map[string]time.Time),
		retryAfter: make(map[string]time.Time),
	}
}

// Restore seeds open positions recovered from the store at startup.
func (m *Manager) Restore(positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range positions {
		if pos.Status == domain.PositionStatusClosed {
			continue
		}
		p := pos
		p.Status = domain.PositionStatusOpen
		m.positions[p.Asset.ID] = &p
	}
}

// OpenPositions returns copies of every non-closed position.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Snapshot assembles the observable state: current balance and open positions.
func (m *Manager) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	balance, err := m.gateway.Balance(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("risk: snapshot balance: %w", err)
	}
	return domain.Snapshot{
		At:        m.now(),
		Balance:   balance,
		Positions: m.OpenPositions(),
	}, nil
}

// HandleCandidate reacts to a spike candidate. Upward spikes attempt an entry;
// downward spikes trigger a protective sell when a position is held and are
// ignored otherwise. A nil error with no state change means a gate declined
// the candidate quietly.
func (m *Manager) HandleCandidate(ctx context.Context, cand domain.Candidate) error {
	if cand.Direction == domain.DirectionDown {
		return m.protectiveExit(ctx, cand)
	}
	return m.tryEnter(ctx, cand)
}

// tryEnter runs the entry gate and, when every check passes, buys. The gate
// and the fill are atomic with respect to other entries so the open-position
// cap is never overshot.
func (m *Manager) tryEnter(ctx context.Context, cand domain.Candidate) error {
	assetID := cand.Asset.ID

	snap, err := m.books.Book(ctx, assetID)
	if err != nil {
		return fmt.Errorf("risk: entry book for %s: %w", assetID, err)
	}

	ev, err := m.enterLocked(ctx, cand, snap)
	if ev.Type != "" {
		m.emit(ctx, ev)
	}
	return err
}

// enterLocked performs the gated entry under the mutex and reports the event
// to emit once the lock is released.
func (m *Manager) enterLocked(ctx context.Context, cand domain.Candidate, snap domain.OrderBookSnapshot) (Event, error) {
	assetID := cand.Asset.ID
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := m.entryEligible(assetID, now); err != nil {
		m.logger.Debug("entry declined", slog.String("asset", assetID), slog.String("reason", err.Error()))
		return Event{}, nil
	}

	mid := snap.Mid()
	if mid < m.cfg.PriceLowerBound || mid > m.cfg.PriceUpperBound {
		m.logger.Debug("entry declined",
			slog.String("asset", assetID),
			slog.Float64("mid", mid),
			slog.String("reason", domain.ErrPriceOutOfBand.Error()))
		return Event{}, nil
	}

	quote, err := book.Evaluate(snap, domain.OrderSideBuy, m.cfg.TradeUnit, m.cfg.MaxBookLevels)
	if err != nil {
		m.logger.Debug("entry declined", slog.String("asset", assetID), slog.String("reason", err.Error()))
		return Event{}, nil
	}
	if quote.DepthUSD < m.cfg.MinLiquidity {
		m.logger.Debug("entry declined",
			slog.String("asset", assetID),
			slog.Float64("depth_usd", quote.DepthUSD),
			slog.String("reason", domain.ErrLiquidityInsufficient.Error()))
		return Event{}, nil
	}
	if quote.Slippage > m.cfg.SlippageTolerance {
		m.logger.Debug("entry declined",
			slog.String("asset", assetID),
			slog.Float64("slippage", quote.Slippage),
			slog.String("reason", "slippage above tolerance"))
		return Event{}, nil
	}

	balance, err := m.gateway.Balance(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("risk: entry balance: %w", err)
	}
	notional := minFloat(m.cfg.TradeUnit, quote.DepthUSD, balance)
	if notional <= 0 {
		m.logger.Debug("entry declined",
			slog.String("asset", assetID),
			slog.Float64("balance", balance),
			slog.String("reason", domain.ErrBalanceInsufficient.Error()))
		return Event{}, nil
	}

	fill, err := m.gateway.PlaceOrder(ctx, domain.OrderRequest{
		ClientID:    uuid.NewString(),
		AssetID:     assetID,
		Side:        domain.OrderSideBuy,
		NotionalUSD: notional,
		LimitPrice:  quote.VWAP,
	})
	if err != nil {
		m.retryAfter[assetID] = now.Add(m.cfg.RetryCooldown)
		m.logger.Warn("entry order failed",
			slog.String("asset", assetID),
			slog.String("error", err.Error()))
		ev := Event{Type: EventRejected, Position: domain.Position{Asset: cand.Asset}, Err: err}
		if errors.Is(err, domain.ErrOrderRejected) {
			return ev, nil
		}
		return ev, fmt.Errorf("risk: entry order for %s: %w", assetID, err)
	}

	pos := &domain.Position{
		ID:         uuid.NewString(),
		Asset:      cand.Asset,
		EntryPrice: fill.AvgPrice,
		EntryTime:  now,
		Shares:     fill.Shares,
		CostUSD:    fill.Notional(),
		Status:     domain.PositionStatusOpen,
	}
	m.positions[assetID] = pos
	m.logger.Info("position opened",
		slog.String("asset", assetID),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("shares", pos.Shares),
		slog.Float64("cost_usd", pos.CostUSD),
		slog.Float64("spike_delta", cand.Delta))
	return Event{Type: EventOpened, Position: *pos}, nil
}

// entryEligible checks the stateful gates: no live position on the asset,
// open-position cap, re-entry cooldown, retry cooldown. Caller holds the lock.
func (m *Manager) entryEligible(assetID string, now time.Time) error {
	if _, held := m.positions[assetID]; held {
		return fmt.Errorf("position already held")
	}
	if len(m.positions) >= m.cfg.MaxConcurrentTrades {
		return domain.ErrPositionLimit
	}
	if closedAt, ok := m.lastClosed[assetID]; ok && now.Sub(closedAt) < m.cfg.ReentryCooldown {
		return fmt.Errorf("re-entry cooldown: %w", domain.ErrCooldown)
	}
	if after, ok := m.retryAfter[assetID]; ok && now.Before(after) {
		return fmt.Errorf("retry cooldown: %w", domain.ErrCooldown)
	}
	return nil
}

// CheckExit evaluates one open position against the exit conditions and
// liquidates when any fires. It is a no-op for assets without a live position.
func (m *Manager) CheckExit(ctx context.Context, assetID string) error {
	m.mu.Lock()
	pos, ok := m.positions[assetID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		m.mu.Unlock()
		return nil
	}
	if after, exists := m.retryAfter[assetID]; exists && m.now().Before(after) {
		m.mu.Unlock()
		return nil
	}
	held := *pos
	m.mu.Unlock()

	mark, snap, err := m.exitMark(ctx, assetID)
	if err != nil {
		return fmt.Errorf("risk: exit mark for %s: %w", assetID, err)
	}

	reason, fired := m.exitReason(held, mark, m.now())
	if !fired {
		return nil
	}
	return m.liquidate(ctx, assetID, reason, snap)
}

// protectiveExit sells a held position on a confirmed downward spike.
func (m *Manager) protectiveExit(ctx context.Context, cand domain.Candidate) error {
	assetID := cand.Asset.ID
	m.mu.Lock()
	pos, ok := m.positions[assetID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	snap, err := m.books.Book(ctx, assetID)
	if err != nil {
		return fmt.Errorf("risk: protective exit book for %s: %w", assetID, err)
	}
	m.logger.Warn("down spike on held position",
		slog.String("asset", assetID),
		slog.Float64("delta", cand.Delta))
	return m.liquidate(ctx, assetID, domain.ExitReasonDownSpike, snap)
}

// liquidate transitions the position to ExitPending, sells everything above
// the keep floor, and closes it. An order failure reverts to Open and arms the
// retry cooldown; no retry happens within this call.
func (m *Manager) liquidate(ctx context.Context, assetID string, reason domain.ExitReason, snap domain.OrderBookSnapshot) error {
	m.mu.Lock()
	pos, ok := m.positions[assetID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		m.mu.Unlock()
		return nil
	}
	pos.Status = domain.PositionStatusExitPending
	sellable := pos.Shares - m.cfg.KeepMinShares
	m.mu.Unlock()

	now := m.now()
	if sellable <= 0 {
		// Nothing above the keep floor; the position closes without an order.
		mark := snap.BestBid()
		if mark <= 0 {
			mark = snap.Mid()
		}
		m.close(ctx, assetID, reason, mark, 0, now)
		return nil
	}

	quote, err := book.EvaluateShares(snap, domain.OrderSideSell, sellable, m.cfg.MaxBookLevels)
	if err != nil {
		m.revertToOpen(assetID, now)
		return fmt.Errorf("risk: exit depth for %s: %w", assetID, err)
	}

	fill, err := m.gateway.PlaceOrder(ctx, domain.OrderRequest{
		ClientID:   uuid.NewString(),
		AssetID:    assetID,
		Side:       domain.OrderSideSell,
		Shares:     sellable,
		LimitPrice: quote.VWAP,
	})
	if err != nil {
		m.revertToOpen(assetID, now)
		m.logger.Warn("exit order failed",
			slog.String("asset", assetID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
		m.emit(ctx, Event{Type: EventRejected, Position: domain.Position{Asset: domain.Asset{ID: assetID}}, Err: err})
		if errors.Is(err, domain.ErrOrderRejected) {
			return nil
		}
		return fmt.Errorf("risk: exit order for %s: %w", assetID, err)
	}

	m.close(ctx, assetID, reason, fill.AvgPrice, fill.Shares, now)
	return nil
}

// close finalizes a position and starts the re-entry cooldown. soldShares may
// be 0 when the whole position sat under the keep floor.
func (m *Manager) close(ctx context.Context, assetID string, reason domain.ExitReason, exitPrice, soldShares float64, now time.Time) {
	m.mu.Lock()
	pos, ok := m.positions[assetID]
	if !ok {
		m.mu.Unlock()
		return
	}
	closedAt := now
	pos.Status = domain.PositionStatusClosed
	pos.ExitReason = reason
	pos.ExitPrice = &exitPrice
	pos.ClosedAt = &closedAt
	closed := *pos
	delete(m.positions, assetID)
	m.lastClosed[assetID] = now
	delete(m.retryAfter, assetID)
	m.mu.Unlock()

	cashPnL := (exitPrice - closed.EntryPrice) * soldShares
	m.logger.Info("position closed",
		slog.String("asset", assetID),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("sold_shares", soldShares),
		slog.Float64("cash_pnl", cashPnL),
		slog.Duration("held", closed.HoldingTime(now)))
	m.emit(ctx, Event{Type: EventClosed, Position: closed})
}

// revertToOpen undoes an ExitPending transition after a failed sell and arms
// the retry cooldown so the next exit cycle skips the asset until it expires.
func (m *Manager) revertToOpen(assetID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[assetID]; ok && pos.Status == domain.PositionStatusExitPending {
		pos.Status = domain.PositionStatusOpen
	}
	m.retryAfter[assetID] = now.Add(m.cfg.RetryCooldown)
}

// exitMark resolves the price a held position could actually be sold at: the
// best bid of a fresh book, falling back to the last cached mid when the venue
// is unreachable.
func (m *Manager) exitMark(ctx context.Context, assetID string) (float64, domain.OrderBookSnapshot, error) {
	snap, err := m.books.Book(ctx, assetID)
	if err == nil {
		if bid := snap.BestBid(); bid > 0 {
			return bid, snap, nil
		}
		return snap.Mid(), snap, nil
	}
	if stale, ok := m.books.StaleBook(assetID); ok {
		m.logger.Warn("marking position on stale book",
			slog.String("asset", assetID),
			slog.String("error", err.Error()))
		return stale.Mid(), stale, nil
	}
	return 0, domain.OrderBookSnapshot{}, err
}

// exitReason checks the exit conditions in priority order.
func (m *Manager) exitReason(pos domain.Position, mark float64, now time.Time) (domain.ExitReason, bool) {
	cashPnL, pctPnL := pos.UnrealizedPnL(mark)
	switch {
	case pctPnL >= m.cfg.TakeProfitPct:
		return domain.ExitReasonTakeProfit, true
	case pctPnL <= -m.cfg.StopLossPct:
		return domain.ExitReasonStopLoss, true
	case m.cfg.CashProfit > 0 && cashPnL >= m.cfg.CashProfit:
		return domain.ExitReasonCashProfit, true
	case m.cfg.CashLoss > 0 && cashPnL <= -m.cfg.CashLoss:
		return domain.ExitReasonCashLoss, true
	case pos.HoldingTime(now) >= m.cfg.HoldingTimeLimit:
		return domain.ExitReasonHoldingTime, true
	}
	return "", false
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	// Hooks run sequentially; they must not call back into the manager.
	m.onEvent(ctx, ev)
}

func minFloat(vals ...float64) float64 {
	min := vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
