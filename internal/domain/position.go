package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle. Transitions are
// strictly Open -> ExitPending -> Closed; the risk manager is the only writer.
type PositionStatus string

const (
	PositionStatusOpen        PositionStatus = "open"
	PositionStatusExitPending PositionStatus = "exit_pending"
	PositionStatusClosed      PositionStatus = "closed"
)

// ExitReason records which exit condition fired for a closed position.
type ExitReason string

const (
	ExitReasonTakeProfit  ExitReason = "take_profit"
	ExitReasonStopLoss    ExitReason = "stop_loss"
	ExitReasonCashProfit  ExitReason = "cash_profit"
	ExitReasonCashLoss    ExitReason = "cash_loss"
	ExitReasonHoldingTime ExitReason = "holding_time"
	ExitReasonDownSpike   ExitReason = "down_spike"
)

// Position represents one held lot of an outcome token. At most one Position
// per asset may be non-Closed at any time.
type Position struct {
	ID         string
	Asset      Asset
	EntryPrice float64 // fill VWAP of the opening buy
	EntryTime  time.Time
	Shares     float64 // shares currently held
	CostUSD    float64 // notional spent on entry
	Status     PositionStatus
	ExitReason ExitReason
	ExitPrice  *float64
	ClosedAt   *time.Time
}

// UnrealizedPnL returns the cash and percentage PnL of the position marked at
// the given sellable price.
func (p Position) UnrealizedPnL(mark float64) (cashPnL, pctPnL float64) {
	cashPnL = (mark - p.EntryPrice) * p.Shares
	if p.EntryPrice > 0 {
		pctPnL = (mark - p.EntryPrice) / p.EntryPrice
	}
	return cashPnL, pctPnL
}

// HoldingTime returns how long the position has been held as of now.
func (p Position) HoldingTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Account is the trading balance the risk manager draws on. In simulation it
// is purely in-memory; in live mode it mirrors the on-chain USDC balance.
type Account struct {
	Balance  float64
	Currency string
}

// Snapshot is a point-in-time view of all open positions and the account
// balance, suitable for throttled emission to an external observer.
type Snapshot struct {
	At        time.Time
	Balance   float64
	Positions []Position
}
