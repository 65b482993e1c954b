// Package exec provides the execution gateways: a simulated in-memory ledger
// and the live CLOB-backed gateway. Both satisfy domain.ExecutionGateway.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// SimGateway fills orders instantly at their limit price against an in-memory
// USDC ledger. It enforces the same hard constraints the venue would: no
// overdrafts and no selling shares it has not bought.
type SimGateway struct {
	logger *slog.Logger

	mu       sync.Mutex
	balance  float64
	holdings map[string]float64 // shares per asset
}

// NewSimGateway creates a gateway seeded with the given starting balance.
func NewSimGateway(startBalance float64, logger *slog.Logger) *SimGateway {
	return &SimGateway{
		logger:   logger.With(slog.String("component", "sim_gateway")),
		balance:  startBalance,
		holdings: make(map[string]float64),
	}
}

// PlaceOrder fills the order at its limit price. Buys debit the ledger, sells
// credit it. Violating the ledger maps to ErrOrderRejected so callers handle
// simulation and venue declines identically.
func (g *SimGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if req.LimitPrice <= 0 {
		return domain.Fill{}, fmt.Errorf("exec/sim: %w: limit price %f", domain.ErrOrderRejected, req.LimitPrice)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch req.Side {
	case domain.OrderSideBuy:
		if req.NotionalUSD <= 0 {
			return domain.Fill{}, fmt.Errorf("exec/sim: %w: buy notional %f", domain.ErrOrderRejected, req.NotionalUSD)
		}
		if req.NotionalUSD > g.balance+1e-9 {
			return domain.Fill{}, fmt.Errorf("exec/sim: %w: notional %.4f exceeds balance %.4f: %w",
				domain.ErrOrderRejected, req.NotionalUSD, g.balance, domain.ErrBalanceInsufficient)
		}
		shares := req.NotionalUSD / req.LimitPrice
		g.balance -= req.NotionalUSD
		g.holdings[req.AssetID] += shares
		g.logger.Debug("sim buy filled",
			slog.String("asset", req.AssetID),
			slog.Float64("shares", shares),
			slog.Float64("price", req.LimitPrice),
			slog.Float64("balance", g.balance))
		return domain.Fill{Shares: shares, AvgPrice: req.LimitPrice}, nil

	case domain.OrderSideSell:
		held := g.holdings[req.AssetID]
		if req.Shares <= 0 || req.Shares > held+1e-9 {
			return domain.Fill{}, fmt.Errorf("exec/sim: %w: sell %.4f shares with %.4f held",
				domain.ErrOrderRejected, req.Shares, held)
		}
		proceeds := req.Shares * req.LimitPrice
		g.holdings[req.AssetID] = held - req.Shares
		if g.holdings[req.AssetID] < 1e-9 {
			delete(g.holdings, req.AssetID)
		}
		g.balance += proceeds
		g.logger.Debug("sim sell filled",
			slog.String("asset", req.AssetID),
			slog.Float64("shares", req.Shares),
			slog.Float64("price", req.LimitPrice),
			slog.Float64("balance", g.balance))
		return domain.Fill{Shares: req.Shares, AvgPrice: req.LimitPrice}, nil

	default:
		return domain.Fill{}, fmt.Errorf("exec/sim: %w: unknown side %q", domain.ErrOrderRejected, req.Side)
	}
}

// Balance returns the current simulated USDC balance.
func (g *SimGateway) Balance(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

// Holdings returns the simulated share count for one asset.
func (g *SimGateway) Holdings(assetID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holdings[assetID]
}
