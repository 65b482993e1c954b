package book

import (
	"errors"
	"math"
	"testing"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

func snapWithAsks(asks ...domain.PriceLevel) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{AssetID: "tok", Asks: asks}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEvaluate_ExactNotionalAtBest(t *testing.T) {
	// Asks [(0.60,5),(0.61,10)] and target $3 consume 5 units at 0.60 exactly.
	snap := snapWithAsks(
		domain.PriceLevel{Price: 0.60, Size: 5},
		domain.PriceLevel{Price: 0.61, Size: 10},
	)

	q, err := Evaluate(snap, domain.OrderSideBuy, 3.0, 10)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !almostEqual(q.VWAP, 0.60) {
		t.Errorf("VWAP = %f, want 0.60", q.VWAP)
	}
	if !almostEqual(q.DepthUSD, 3.0) {
		t.Errorf("DepthUSD = %f, want 3.0", q.DepthUSD)
	}
	if !almostEqual(q.Slippage, 0) {
		t.Errorf("Slippage = %f, want 0", q.Slippage)
	}
	if !q.Filled {
		t.Error("Filled = false, want true")
	}
	if q.LevelsUsed != 1 {
		t.Errorf("LevelsUsed = %d, want 1", q.LevelsUsed)
	}
}

func TestEvaluate_VWAPWithinConsumedRange(t *testing.T) {
	snap := snapWithAsks(
		domain.PriceLevel{Price: 0.50, Size: 4},
		domain.PriceLevel{Price: 0.55, Size: 10},
		domain.PriceLevel{Price: 0.60, Size: 20},
	)

	q, err := Evaluate(snap, domain.OrderSideBuy, 5.0, 10)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if q.VWAP < 0.50 || q.VWAP > 0.55 {
		t.Errorf("VWAP = %f, want within [0.50, 0.55]", q.VWAP)
	}
	if q.Slippage <= 0 {
		t.Errorf("Slippage = %f, want > 0 for a multi-level buy", q.Slippage)
	}
}

func TestEvaluate_DepthMonotonicInLevels(t *testing.T) {
	snap := snapWithAsks(
		domain.PriceLevel{Price: 0.40, Size: 2},
		domain.PriceLevel{Price: 0.45, Size: 2},
		domain.PriceLevel{Price: 0.50, Size: 2},
		domain.PriceLevel{Price: 0.55, Size: 2},
	)

	prev := 0.0
	for maxLevels := 1; maxLevels <= 4; maxLevels++ {
		q, err := Evaluate(snap, domain.OrderSideBuy, 1000, maxLevels)
		if err != nil {
			t.Fatalf("Evaluate(maxLevels=%d) error = %v", maxLevels, err)
		}
		if q.DepthUSD < prev {
			t.Errorf("DepthUSD decreased from %f to %f at maxLevels=%d", prev, q.DepthUSD, maxLevels)
		}
		prev = q.DepthUSD
	}
}

func TestEvaluate_LevelsExhausted(t *testing.T) {
	snap := snapWithAsks(domain.PriceLevel{Price: 0.50, Size: 2})

	q, err := Evaluate(snap, domain.OrderSideBuy, 100, 10)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if q.Filled {
		t.Error("Filled = true, want false when the book cannot cover the target")
	}
	if !almostEqual(q.DepthUSD, 1.0) {
		t.Errorf("DepthUSD = %f, want 1.0", q.DepthUSD)
	}
}

func TestEvaluate_EmptySide(t *testing.T) {
	_, err := Evaluate(domain.OrderBookSnapshot{AssetID: "tok"}, domain.OrderSideBuy, 5, 10)
	if !errors.Is(err, domain.ErrLiquidityInsufficient) {
		t.Errorf("Evaluate() error = %v, want ErrLiquidityInsufficient", err)
	}
}

func TestEvaluateShares_SellHitsBids(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		AssetID: "tok",
		Bids: []domain.PriceLevel{
			{Price: 0.58, Size: 3},
			{Price: 0.56, Size: 10},
		},
	}

	q, err := EvaluateShares(snap, domain.OrderSideSell, 5, 10)
	if err != nil {
		t.Fatalf("EvaluateShares() error = %v", err)
	}
	wantUSD := 3*0.58 + 2*0.56
	if !almostEqual(q.DepthUSD, wantUSD) {
		t.Errorf("DepthUSD = %f, want %f", q.DepthUSD, wantUSD)
	}
	if q.VWAP > 0.58 || q.VWAP < 0.56 {
		t.Errorf("VWAP = %f, want within [0.56, 0.58]", q.VWAP)
	}
	// Selling below the best bid is positive slippage.
	if q.Slippage <= 0 {
		t.Errorf("Slippage = %f, want > 0", q.Slippage)
	}
	if !q.Filled {
		t.Error("Filled = false, want true")
	}
}

func TestEvaluateShares_PartialWhenShallow(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		AssetID: "tok",
		Bids:    []domain.PriceLevel{{Price: 0.50, Size: 1}},
	}

	q, err := EvaluateShares(snap, domain.OrderSideSell, 10, 10)
	if err != nil {
		t.Fatalf("EvaluateShares() error = %v", err)
	}
	if q.Filled {
		t.Error("Filled = true, want false")
	}
	if !almostEqual(q.Shares, 1) {
		t.Errorf("Shares = %f, want 1", q.Shares)
	}
}
