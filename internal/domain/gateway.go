package domain

import "context"

// OrderSide indicates whether an order buys or sells the outcome token.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest describes a marketable order. Buys are sized in USD notional,
// sells in shares. ClientID makes retries idempotent at the venue.
type OrderRequest struct {
	ClientID    string
	AssetID     string
	Side        OrderSide
	NotionalUSD float64 // buy size
	Shares      float64 // sell size
	LimitPrice  float64 // worst acceptable price
}

// Fill reports the executed part of an order.
type Fill struct {
	Shares   float64
	AvgPrice float64
}

// Notional returns the USD value of the fill.
func (f Fill) Notional() float64 { return f.Shares * f.AvgPrice }

// QuoteSource supplies best bid/ask and order-book depth per asset. Fetch
// errors map to ErrDataUnavailable or ErrTransport; callers tolerate missing
// data rather than aborting the cycle.
type QuoteSource interface {
	// FetchQuote returns the current best bid/ask for one asset.
	FetchQuote(ctx context.Context, assetID string) (Quote, error)
	// FetchOrderBook returns the full order book for one asset.
	FetchOrderBook(ctx context.Context, assetID string) (OrderBookSnapshot, error)
	// FetchOrderBooks batch-fetches order books. Partial failures return
	// entries only for the assets that succeeded.
	FetchOrderBooks(ctx context.Context, assetIDs []string) (map[string]OrderBookSnapshot, error)
}

// ExecutionGateway places orders against a venue, real or simulated. PlaceOrder
// must be idempotent-safe under retry; the caller never retries automatically
// within one decision cycle. A declined order returns ErrOrderRejected.
type ExecutionGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// Balance returns the available account balance in USD.
	Balance(ctx context.Context) (float64, error)
}

// PositionStore durably records positions. The orchestrator flushes every open
// position through this interface before shutdown completes.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetOpen(ctx context.Context) ([]Position, error)
	ListClosedBefore(ctx context.Context, cutoff int64, limit int) ([]Position, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// SnapshotPublisher emits throttled state snapshots to external observers.
// Implementations must tolerate being called concurrently with trading.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snap Snapshot) error
}
