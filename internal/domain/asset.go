package domain

import "time"

// Asset identifies one tradable outcome token of a Polymarket market.
// Assets are immutable after discovery.
type Asset struct {
	ID            string // ERC-1155 token ID (76-digit string)
	MarketSlug    string // market/event grouping key
	ConditionID   string
	PairedAssetID string // token ID of the opposite outcome, empty if unknown
	Outcome       string // e.g. "Yes" or "No"
}

// Quote is a single best bid/ask observation for an asset.
type Quote struct {
	AssetID   string
	Bid       float64
	Ask       float64
	Mid       float64
	Timestamp time.Time
}

// PriceSample is one entry in an asset's rolling price history.
type PriceSample struct {
	Timestamp time.Time
	Mid       float64
	Bid       float64
	Ask       float64
}

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a point-in-time snapshot of bids and asks for an asset.
// Bids are ordered best-first (descending price), asks best-first (ascending).
type OrderBookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 if there is no bid depth.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if there is no ask depth.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Mid returns the bid/ask midpoint. When one side is empty it returns the
// other side's best price; 0 when the book is empty.
func (s OrderBookSnapshot) Mid() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

// Spread returns best ask minus best bid, or 0 when either side is empty.
func (s OrderBookSnapshot) Spread() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask - bid
}
