package detect

import (
	"errors"
	"testing"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

type fakeSamples struct {
	samples map[string][]domain.PriceSample
}

func (f *fakeSamples) Samples(assetID string) []domain.PriceSample {
	return f.samples[assetID]
}

type fakeBooks struct {
	books map[string]domain.OrderBookSnapshot
}

func (f *fakeBooks) StaleBook(assetID string) (domain.OrderBookSnapshot, bool) {
	snap, ok := f.books[assetID]
	return snap, ok
}

func mids(base time.Time, step time.Duration, values ...float64) []domain.PriceSample {
	out := make([]domain.PriceSample, len(values))
	for i, v := range values {
		out[i] = domain.PriceSample{Timestamp: base.Add(time.Duration(i) * step), Mid: v}
	}
	return out
}

func testConfig() Config {
	return Config{
		Mode:           ModeTwoPoint,
		UpThreshold:    0.02,
		DownThreshold:  0.02,
		MinTriggerGap:  5 * time.Second,
		FreshnessBound: 10 * time.Second,
	}
}

func TestEvaluateTwoPointTrigger(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.50, 0.56),
	}}
	d := New(testConfig(), src, &fakeBooks{})
	asset := domain.Asset{ID: "a1"}

	now := base.Add(3 * time.Second)
	cand, triggered, err := d.Evaluate(asset, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !triggered {
		t.Fatalf("expected trigger, got delta=%v threshold=%v", cand.Delta, cand.Threshold)
	}
	if cand.Direction != domain.DirectionUp {
		t.Errorf("direction = %v, want up", cand.Direction)
	}
	wantDelta := (0.56 - 0.50) / 0.50
	if diff := cand.Delta - wantDelta; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("delta = %v, want %v", cand.Delta, wantDelta)
	}
	if cand.Mid != 0.56 {
		t.Errorf("mid = %v, want 0.56", cand.Mid)
	}
}

func TestEvaluateDownSpike(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.44),
	}}
	d := New(testConfig(), src, &fakeBooks{})

	cand, triggered, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !triggered {
		t.Fatal("expected down trigger")
	}
	if cand.Direction != domain.DirectionDown {
		t.Errorf("direction = %v, want down", cand.Direction)
	}
	if cand.Delta >= 0 {
		t.Errorf("delta = %v, want negative", cand.Delta)
	}
}

func TestEvaluateBelowThresholdNoTrigger(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.505),
	}}
	d := New(testConfig(), src, &fakeBooks{})

	_, triggered, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if triggered {
		t.Error("1% move must not trigger with 2% threshold")
	}
}

func TestCooldownBlocksSecondTrigger(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.56),
	}}
	d := New(testConfig(), src, &fakeBooks{})
	asset := domain.Asset{ID: "a1"}

	_, triggered, err := d.Evaluate(asset, base.Add(2*time.Second))
	if err != nil || !triggered {
		t.Fatalf("first Evaluate: triggered=%v err=%v", triggered, err)
	}

	// New sample, still a big move, but inside the 5s trigger gap.
	src.samples["a1"] = mids(base, time.Second, 0.50, 0.56, 0.63)
	_, triggered, err = d.Evaluate(asset, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if triggered {
		t.Error("trigger inside min trigger gap")
	}

	// Past the gap with a fresh sample it fires again.
	src.samples["a1"] = mids(base, time.Second, 0.50, 0.56, 0.63, 0.70, 0.70, 0.70, 0.70, 0.78)
	_, triggered, err = d.Evaluate(asset, base.Add(8*time.Second))
	if err != nil {
		t.Fatalf("third Evaluate: %v", err)
	}
	if !triggered {
		t.Error("expected re-trigger after cooldown expiry")
	}
}

func TestRearmClearsCooldown(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.56),
	}}
	d := New(testConfig(), src, &fakeBooks{})
	asset := domain.Asset{ID: "a1"}

	if _, triggered, _ := d.Evaluate(asset, base.Add(2*time.Second)); !triggered {
		t.Fatal("setup trigger did not fire")
	}
	d.Rearm("a1")

	src.samples["a1"] = mids(base, time.Second, 0.50, 0.56, 0.63)
	_, triggered, err := d.Evaluate(asset, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("Evaluate after rearm: %v", err)
	}
	if !triggered {
		t.Error("expected trigger immediately after rearm")
	}
}

func TestStaleSampleDisqualifies(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.56),
	}}
	d := New(testConfig(), src, &fakeBooks{})

	_, _, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(time.Minute))
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestInsufficientHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50),
	}}
	d := New(testConfig(), src, &fakeBooks{})

	_, _, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(time.Second))
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestSameSampleNotReevaluated(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.505),
	}}
	cfg := testConfig()
	cfg.MinTriggerGap = 0
	d := New(cfg, src, &fakeBooks{})
	asset := domain.Asset{ID: "a1"}

	if _, triggered, err := d.Evaluate(asset, base.Add(2*time.Second)); triggered || err != nil {
		t.Fatalf("first: triggered=%v err=%v", triggered, err)
	}
	// Same newest sample, bigger nominal move would now pass, but nothing new
	// arrived so the detector must stay quiet.
	_, triggered, err := d.Evaluate(asset, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if triggered {
		t.Error("re-evaluated an already-seen sample")
	}
}

func TestAdaptiveThresholdFloors(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{
		"a1": {
			AssetID: "a1",
			Bids:    []domain.PriceLevel{{Price: 0.48, Size: 10}},
			Asks:    []domain.PriceLevel{{Price: 0.56, Size: 10}},
		},
	}}
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.50, 0.49, 0.51, 0.52),
	}}
	cfg := testConfig()
	cfg.SigmaMultiplier = 2.0
	cfg.SpreadBuffer = 0.005
	d := New(cfg, src, books)

	cand, _, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if cand.Threshold < cfg.UpThreshold {
		t.Errorf("threshold %v below static floor %v", cand.Threshold, cfg.UpThreshold)
	}
	wantSpreadFloor := cand.Spread + cfg.SpreadBuffer
	if cand.Threshold < wantSpreadFloor {
		t.Errorf("threshold %v below spread floor %v", cand.Threshold, wantSpreadFloor)
	}
	if cand.Threshold < cfg.SigmaMultiplier*cand.Sigma {
		t.Errorf("threshold %v below sigma term %v", cand.Threshold, cfg.SigmaMultiplier*cand.Sigma)
	}
	if cand.Spread != 0.56-0.48 {
		t.Errorf("spread = %v, want 0.08", cand.Spread)
	}
}

func TestWindowCountMode(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		// The last pair alone is quiet; the 4-sample window endpoints are not.
		"a1": mids(base, time.Second, 0.50, 0.52, 0.55, 0.555),
	}}
	cfg := testConfig()
	cfg.Mode = ModeWindowCount
	cfg.WindowSamples = 4
	d := New(cfg, src, &fakeBooks{})

	cand, triggered, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(4*time.Second))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !triggered {
		t.Fatalf("expected window trigger, delta=%v threshold=%v", cand.Delta, cand.Threshold)
	}
	wantDelta := (0.555 - 0.50) / 0.50
	if diff := cand.Delta - wantDelta; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("delta = %v, want %v", cand.Delta, wantDelta)
	}
}

func TestWindowSigmaIgnoresHistoryOutsideWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		// Wild early swings, then a calm 3-sample window ending in a 6% move.
		"a1": mids(base, time.Second, 0.30, 0.60, 0.30, 0.60, 0.50, 0.50, 0.53),
	}}
	cfg := testConfig()
	cfg.Mode = ModeWindowCount
	cfg.WindowSamples = 3
	cfg.SigmaMultiplier = 1.0
	d := New(cfg, src, &fakeBooks{})

	cand, triggered, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(7*time.Second))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !triggered {
		t.Fatalf("expected trigger: the old swings are outside the window, delta=%v threshold=%v sigma=%v",
			cand.Delta, cand.Threshold, cand.Sigma)
	}
	// sigma over window returns [0, 0.06] is 0.03; the full history would
	// have put it above 0.5 and suppressed the trigger.
	if cand.Sigma < 0.029 || cand.Sigma > 0.031 {
		t.Errorf("sigma = %v, want ~0.03 (window-scoped)", cand.Sigma)
	}
}

func TestWindowCountNeedsFullWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		"a1": mids(base, time.Second, 0.50, 0.56),
	}}
	cfg := testConfig()
	cfg.Mode = ModeWindowCount
	cfg.WindowSamples = 5
	d := New(cfg, src, &fakeBooks{})

	_, _, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(2*time.Second))
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestWindowTimeMode(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSamples{samples: map[string][]domain.PriceSample{
		// Oldest sample falls outside the 3s span and must be excluded.
		"a1": mids(base, time.Second, 0.40, 0.50, 0.51, 0.53),
	}}
	cfg := testConfig()
	cfg.Mode = ModeWindowTime
	cfg.WindowSpan = 3 * time.Second
	d := New(cfg, src, &fakeBooks{})

	cand, triggered, err := d.Evaluate(domain.Asset{ID: "a1"}, base.Add(3500*time.Millisecond))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !triggered {
		t.Fatalf("expected trigger, delta=%v threshold=%v", cand.Delta, cand.Threshold)
	}
	wantDelta := (0.53 - 0.50) / 0.50
	if diff := cand.Delta - wantDelta; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("delta = %v, want %v (0.40 sample must be outside window)", cand.Delta, wantDelta)
	}
}
