package feed

import (
	"testing"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

func TestHistory_CapacityFIFO(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		h.Append("tok", domain.PriceSample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Mid:       0.50 + float64(i)*0.01,
		})
	}

	got := h.Samples("tok")
	if len(got) != 3 {
		t.Fatalf("len(Samples()) = %d, want capacity 3", len(got))
	}
	// Oldest two were evicted; remaining samples are 2, 3, 4 in order.
	for i, want := range []float64{0.52, 0.53, 0.54} {
		if got[i].Mid != want {
			t.Errorf("Samples()[%d].Mid = %f, want %f", i, got[i].Mid, want)
		}
	}
}

func TestHistory_LatestAndFresh(t *testing.T) {
	h := NewHistory(5)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, ok := h.Latest("tok"); ok {
		t.Fatal("Latest() on empty history returned ok")
	}
	if h.Fresh("tok", now, time.Minute) {
		t.Error("Fresh() on empty history = true")
	}

	h.Append("tok", domain.PriceSample{Timestamp: now.Add(-3 * time.Second), Mid: 0.5})

	latest, ok := h.Latest("tok")
	if !ok || latest.Mid != 0.5 {
		t.Fatalf("Latest() = %+v, %v", latest, ok)
	}
	if !h.Fresh("tok", now, 5*time.Second) {
		t.Error("Fresh() = false for a 3s old sample with a 5s bound")
	}
	if h.Fresh("tok", now, 2*time.Second) {
		t.Error("Fresh() = true for a 3s old sample with a 2s bound")
	}
}

func TestHistory_SamplesReturnsCopy(t *testing.T) {
	h := NewHistory(5)
	h.Append("tok", domain.PriceSample{Mid: 0.5})

	got := h.Samples("tok")
	got[0].Mid = 99

	if again := h.Samples("tok"); again[0].Mid != 0.5 {
		t.Errorf("mutating the returned slice changed the buffer: Mid = %f", again[0].Mid)
	}
}

func TestBookCache_TTL(t *testing.T) {
	c := NewBookCache(time.Second, true)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.OrderBookSnapshot{
		AssetID: "tok",
		Asks:    []domain.PriceLevel{{Price: 0.6, Size: 5}},
	}

	c.Put(snap, now)

	if _, ok := c.Get("tok", now.Add(500*time.Millisecond)); !ok {
		t.Error("Get() within TTL missed")
	}
	if _, ok := c.Get("tok", now.Add(2*time.Second)); ok {
		t.Error("Get() after TTL hit")
	}
	if _, ok := c.Peek("tok"); !ok {
		t.Error("Peek() after TTL missed; expired entries should remain peekable")
	}
}

func TestBookCache_Disabled(t *testing.T) {
	c := NewBookCache(time.Minute, false)
	now := time.Now()
	c.Put(domain.OrderBookSnapshot{AssetID: "tok"}, now)

	if _, ok := c.Get("tok", now); ok {
		t.Error("Get() hit on a disabled cache")
	}
}
