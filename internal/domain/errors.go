package domain

import "errors"

var (
	// ErrDataUnavailable marks a stale or missing quote; the asset is skipped
	// for the cycle, never retried within it.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrLiquidityInsufficient marks a failed depth or slippage check.
	ErrLiquidityInsufficient = errors.New("insufficient liquidity")
	// ErrBalanceInsufficient marks a failed pre-trade balance check.
	ErrBalanceInsufficient = errors.New("insufficient balance")
	// ErrOrderRejected marks a gateway decline; the asset becomes eligible
	// again only after the retry cooldown elapses.
	ErrOrderRejected = errors.New("order rejected")
	// ErrTransport marks a network or API failure. Callers treat it as
	// ErrDataUnavailable for quotes and ErrOrderRejected for orders.
	ErrTransport = errors.New("transport error")

	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
	ErrPriceOutOfBand = errors.New("price outside configured band")
	ErrPositionLimit  = errors.New("max concurrent positions reached")
	ErrCooldown       = errors.New("asset in cooldown")
)
