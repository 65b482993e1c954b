package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is a single price level as the CLOB API encodes it.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the order book returned by GET /book and POST /books. The CLOB
// sends bids ascending and asks descending; conversion normalizes both sides
// to best-first.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
}

// ToSnapshot converts an APIBook to a domain snapshot with best-first level
// ordering. Levels that fail to parse are dropped.
func (b *APIBook) ToSnapshot() domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		AssetID:   b.AssetID,
		Bids:      parseLevels(b.Bids),
		Asks:      parseLevels(b.Asks),
		Timestamp: parseBookTimestamp(b.Timestamp),
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

func parseLevels(levels []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil || p <= 0 || s <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseBookTimestamp accepts the millisecond epoch strings the CLOB sends and
// falls back to now for anything unparseable.
func parseBookTimestamp(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

// bookParams is one entry of the POST /books request body.
type bookParams struct {
	TokenID string `json:"token_id"`
}

// APIPrice is the response of GET /price.
type APIPrice struct {
	Price string `json:"price"`
}

// SignedOrder carries the EIP-712 signed fields posted to POST /order.
// Amounts are fixed-point base-10 strings in the token's smallest unit.
type SignedOrder struct {
	Salt          string
	TokenID       string
	MakerAmount   string
	TakerAmount   string
	Side          string // "BUY" or "SELL"
	Maker         string
	Signature     string
	Expiration    string
	Nonce         string
	SignatureType int
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	MakerAmount string `json:"makingAmount,omitempty"`
	TakerAmount string `json:"takingAmount,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIBalanceAllowance is the response of GET /balance-allowance.
type APIBalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Outcome names and token IDs arrive as JSON-encoded strings inside strings.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	ConditionID     string   `json:"conditionId"`
	Slug            string   `json:"slug"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	Outcomes        string   `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices   string   `json:"outcomePrices"` // e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs    string   `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	Volume          string   `json:"volume"`
	EnableOrderBook bool     `json:"enableOrderBook"`
	EndDateISO      string   `json:"endDateIso"`
}

// ToAssets expands the market into its outcome tokens, each linked to its
// paired opposite so a down spike on one side can be read as an up spike on
// the other.
func (m *APIMarket) ToAssets() []domain.Asset {
	var tokenIDs, outcomes []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return nil
	}
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)

	assets := make([]domain.Asset, 0, len(tokenIDs))
	for i, tokenID := range tokenIDs {
		a := domain.Asset{
			ID:          tokenID,
			MarketSlug:  m.Slug,
			ConditionID: m.ConditionID,
		}
		if i < len(outcomes) {
			a.Outcome = outcomes[i]
		}
		if len(tokenIDs) == 2 {
			a.PairedAssetID = tokenIDs[1-i]
		}
		assets = append(assets, a)
	}
	return assets
}

// Tradeable reports whether the market still accepts orders.
func (m *APIMarket) Tradeable() bool {
	return bool(m.Active) && !m.Closed && m.EnableOrderBook
}
