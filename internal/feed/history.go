package feed

import (
	"sync"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// History holds a fixed-capacity rolling buffer of price samples per asset.
// The oldest sample is evicted first when a buffer is full. The aggregator is
// the only writer; readers get copies.
type History struct {
	capacity int
	mu       sync.RWMutex
	buffers  map[string][]domain.PriceSample
}

// NewHistory creates a History whose per-asset buffers hold at most capacity
// samples.
func NewHistory(capacity int) *History {
	return &History{
		capacity: capacity,
		buffers:  make(map[string][]domain.PriceSample),
	}
}

// Append records a sample for the asset, evicting the oldest sample when the
// buffer is at capacity.
func (h *History) Append(assetID string, sample domain.PriceSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := h.buffers[assetID]
	if len(buf) >= h.capacity {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	h.buffers[assetID] = append(buf, sample)
}

// Samples returns a copy of the asset's buffer, oldest first. Nil when the
// asset has no samples.
func (h *History) Samples(assetID string) []domain.PriceSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.buffers[assetID]
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.PriceSample, len(src))
	copy(out, src)
	return out
}

// Latest returns the most recent sample for the asset.
func (h *History) Latest(assetID string) (domain.PriceSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.buffers[assetID]
	if len(buf) == 0 {
		return domain.PriceSample{}, false
	}
	return buf[len(buf)-1], true
}

// Fresh reports whether the asset's latest sample is no older than bound
// relative to now.
func (h *History) Fresh(assetID string, now time.Time, bound time.Duration) bool {
	latest, ok := h.Latest(assetID)
	if !ok {
		return false
	}
	return now.Sub(latest.Timestamp) <= bound
}

// Len returns the number of samples currently buffered for the asset.
func (h *History) Len(assetID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buffers[assetID])
}

// AssetIDs returns the IDs of all assets with at least one sample.
func (h *History) AssetIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.buffers))
	for id, buf := range h.buffers {
		if len(buf) > 0 {
			out = append(out, id)
		}
	}
	return out
}
