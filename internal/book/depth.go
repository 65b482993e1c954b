// Package book evaluates order-book depth for candidate orders. All functions
// are pure: they read a snapshot and compute, with no mutation and no I/O.
package book

import (
	"fmt"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// DepthQuote describes how a target order size would execute against the
// visible levels of one side of the book.
type DepthQuote struct {
	Side       domain.OrderSide
	BestPrice  float64
	VWAP       float64 // volume-weighted average price over consumed levels
	DepthUSD   float64 // executable USD notional at that VWAP
	Shares     float64 // shares consumed
	Slippage   float64 // (VWAP-best)/best, sign-adjusted so worse is positive
	LevelsUsed int
	Filled     bool // target fully reachable within the consumed levels
}

// Evaluate walks the relevant side of the book (asks for buys, bids for
// sells), consuming up to maxLevels levels until targetUSD notional is reached
// or levels run out. The final level may be consumed partially.
func Evaluate(snap domain.OrderBookSnapshot, side domain.OrderSide, targetUSD float64, maxLevels int) (DepthQuote, error) {
	if targetUSD <= 0 {
		return DepthQuote{}, fmt.Errorf("book: target notional must be > 0, got %f", targetUSD)
	}
	levels := sideLevels(snap, side)
	if len(levels) == 0 {
		return DepthQuote{}, fmt.Errorf("book: no %s depth for %s: %w", side, snap.AssetID, domain.ErrLiquidityInsufficient)
	}

	q := DepthQuote{Side: side, BestPrice: levels[0].Price}
	remaining := targetUSD
	for _, lvl := range levels {
		if q.LevelsUsed >= maxLevels || remaining <= 0 {
			break
		}
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		levelUSD := lvl.Price * lvl.Size
		takeUSD := levelUSD
		if takeUSD > remaining {
			takeUSD = remaining
		}
		q.DepthUSD += takeUSD
		q.Shares += takeUSD / lvl.Price
		q.LevelsUsed++
		remaining -= takeUSD
	}
	if q.Shares <= 0 {
		return DepthQuote{}, fmt.Errorf("book: no usable %s levels for %s: %w", side, snap.AssetID, domain.ErrLiquidityInsufficient)
	}
	q.VWAP = q.DepthUSD / q.Shares
	q.Slippage = slippage(side, q.BestPrice, q.VWAP)
	q.Filled = remaining <= 1e-9
	return q, nil
}

// EvaluateShares is the share-denominated variant used when liquidating a
// position: it consumes levels until targetShares are placed or levels run
// out.
func EvaluateShares(snap domain.OrderBookSnapshot, side domain.OrderSide, targetShares float64, maxLevels int) (DepthQuote, error) {
	if targetShares <= 0 {
		return DepthQuote{}, fmt.Errorf("book: target shares must be > 0, got %f", targetShares)
	}
	levels := sideLevels(snap, side)
	if len(levels) == 0 {
		return DepthQuote{}, fmt.Errorf("book: no %s depth for %s: %w", side, snap.AssetID, domain.ErrLiquidityInsufficient)
	}

	q := DepthQuote{Side: side, BestPrice: levels[0].Price}
	remaining := targetShares
	for _, lvl := range levels {
		if q.LevelsUsed >= maxLevels || remaining <= 0 {
			break
		}
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		q.Shares += take
		q.DepthUSD += take * lvl.Price
		q.LevelsUsed++
		remaining -= take
	}
	if q.Shares <= 0 {
		return DepthQuote{}, fmt.Errorf("book: no usable %s levels for %s: %w", side, snap.AssetID, domain.ErrLiquidityInsufficient)
	}
	q.VWAP = q.DepthUSD / q.Shares
	q.Slippage = slippage(side, q.BestPrice, q.VWAP)
	q.Filled = remaining <= 1e-9
	return q, nil
}

// sideLevels returns the levels to consume for the given order side: buys
// lift asks, sells hit bids. Levels are assumed best-first.
func sideLevels(snap domain.OrderBookSnapshot, side domain.OrderSide) []domain.PriceLevel {
	if side == domain.OrderSideBuy {
		return snap.Asks
	}
	return snap.Bids
}

// slippage returns the relative deviation of VWAP from the best price,
// sign-adjusted per side so that a worse execution is always positive.
func slippage(side domain.OrderSide, best, vwap float64) float64 {
	if best <= 0 {
		return 0
	}
	if side == domain.OrderSideBuy {
		return (vwap - best) / best
	}
	return (best - vwap) / best
}
