package polymarket

import (
	"testing"
)

func TestAPIBookToSnapshotNormalizesOrdering(t *testing.T) {
	b := APIBook{
		AssetID:   "tok1",
		Timestamp: "1756500000000",
		// CLOB sends bids ascending and asks descending.
		Bids: []APIBookLevel{
			{Price: "0.40", Size: "10"},
			{Price: "0.48", Size: "5"},
		},
		Asks: []APIBookLevel{
			{Price: "0.61", Size: "8"},
			{Price: "0.52", Size: "3"},
		},
	}
	snap := b.ToSnapshot()
	if snap.BestBid() != 0.48 {
		t.Errorf("best bid = %v, want 0.48", snap.BestBid())
	}
	if snap.BestAsk() != 0.52 {
		t.Errorf("best ask = %v, want 0.52", snap.BestAsk())
	}
	if snap.Timestamp.UnixMilli() != 1756500000000 {
		t.Errorf("timestamp = %v, want epoch millis preserved", snap.Timestamp)
	}
}

func TestAPIBookToSnapshotDropsBadLevels(t *testing.T) {
	b := APIBook{
		AssetID: "tok1",
		Bids: []APIBookLevel{
			{Price: "garbage", Size: "10"},
			{Price: "0.45", Size: "0"},
			{Price: "0.44", Size: "7"},
		},
	}
	snap := b.ToSnapshot()
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 0.44 {
		t.Errorf("bids = %+v, want only the 0.44 level", snap.Bids)
	}
}

func TestAPIMarketToAssetsPairsOutcomes(t *testing.T) {
	m := APIMarket{
		Slug:         "will-it-rain",
		ConditionID:  "0xcond",
		Outcomes:     `["Yes","No"]`,
		ClobTokenIDs: `["111","222"]`,
	}
	assets := m.ToAssets()
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}
	if assets[0].ID != "111" || assets[0].PairedAssetID != "222" || assets[0].Outcome != "Yes" {
		t.Errorf("first asset = %+v", assets[0])
	}
	if assets[1].ID != "222" || assets[1].PairedAssetID != "111" || assets[1].Outcome != "No" {
		t.Errorf("second asset = %+v", assets[1])
	}
	if assets[0].MarketSlug != "will-it-rain" {
		t.Errorf("slug = %q", assets[0].MarketSlug)
	}
}

func TestAPIMarketToAssetsBadTokenJSON(t *testing.T) {
	m := APIMarket{ClobTokenIDs: "not-json"}
	if got := m.ToAssets(); got != nil {
		t.Errorf("assets = %+v, want nil for malformed token IDs", got)
	}
}
