// Package detect computes adaptive spike thresholds over the rolling price
// history and emits directional candidates. It makes no trading decision.
package detect

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// Mode selects how the spike delta is computed.
type Mode string

const (
	// ModeTwoPoint compares the two most recent samples.
	ModeTwoPoint Mode = "two_point"
	// ModeWindowCount compares the endpoints of the most recent N samples.
	ModeWindowCount Mode = "window_count"
	// ModeWindowTime compares the endpoints of a fixed time span.
	ModeWindowTime Mode = "window_time"
)

// Config holds the detector's tuning knobs. The three modes are mutually
// exclusive; config validation rejects conflicting window settings before the
// detector is built.
type Config struct {
	Mode            Mode
	WindowSamples   int           // window_count mode
	WindowSpan      time.Duration // window_time mode
	UpThreshold     float64       // static threshold for upward moves
	DownThreshold   float64       // static threshold for downward moves
	SigmaMultiplier float64       // k in max(static, k*sigma, spread+buffer)
	SpreadBuffer    float64
	MinTriggerGap   time.Duration // per-asset re-trigger cooldown
	FreshnessBound  time.Duration // samples older than this disqualify the asset
}

// SampleSource is the read side of the aggregator's price history.
type SampleSource interface {
	Samples(assetID string) []domain.PriceSample
}

// BookSource supplies the last known order book, used for the spread term.
type BookSource interface {
	StaleBook(assetID string) (domain.OrderBookSnapshot, bool)
}

// assetState is the per-asset anti-chatter record.
type assetState struct {
	lastTrigger   time.Time
	lastEvaluated time.Time // timestamp of the newest sample already evaluated
}

// Detector evaluates assets independently. It is safe for concurrent use.
type Detector struct {
	cfg     Config
	samples SampleSource
	books   BookSource

	mu    sync.Mutex
	state map[string]*assetState
}

// New creates a Detector reading from the given history and book sources.
func New(cfg Config, samples SampleSource, books BookSource) *Detector {
	return &Detector{
		cfg:     cfg,
		samples: samples,
		books:   books,
		state:   make(map[string]*assetState),
	}
}

// Evaluate computes the spike decision for one asset at time now. It returns
// the candidate and true when a trigger fires; false with a nil error when
// the move is below threshold, the asset is in cooldown, or there is no new
// sample; and ErrDataUnavailable when the history is missing or stale.
func (d *Detector) Evaluate(asset domain.Asset, now time.Time) (domain.Candidate, bool, error) {
	samples := d.samples.Samples(asset.ID)
	if len(samples) < 2 {
		return domain.Candidate{}, false, fmt.Errorf("detect: %s has %d samples: %w", asset.ID, len(samples), domain.ErrDataUnavailable)
	}
	latest := samples[len(samples)-1]
	if now.Sub(latest.Timestamp) > d.cfg.FreshnessBound {
		return domain.Candidate{}, false, fmt.Errorf("detect: %s latest sample is %s old: %w",
			asset.ID, now.Sub(latest.Timestamp).Truncate(time.Millisecond), domain.ErrDataUnavailable)
	}

	st := d.assetState(asset.ID)
	d.mu.Lock()
	alreadySeen := !latest.Timestamp.After(st.lastEvaluated)
	inCooldown := !st.lastTrigger.IsZero() && now.Sub(st.lastTrigger) < d.cfg.MinTriggerGap
	if !alreadySeen {
		st.lastEvaluated = latest.Timestamp
	}
	d.mu.Unlock()
	if alreadySeen || inCooldown {
		return domain.Candidate{}, false, nil
	}

	window := d.window(samples, now)
	if len(window) < 2 {
		return domain.Candidate{}, false, fmt.Errorf("detect: %s lookback window too short: %w", asset.ID, domain.ErrDataUnavailable)
	}
	oldMid := window[0].Mid
	newMid := window[len(window)-1].Mid
	if oldMid <= 0 || newMid <= 0 {
		return domain.Candidate{}, false, fmt.Errorf("detect: %s has zero price in window: %w", asset.ID, domain.ErrDataUnavailable)
	}

	delta := (newMid - oldMid) / oldMid

	// The volatility term spans the lookback window. A two-point window holds
	// a single return, so that mode measures the full retained history
	// instead.
	sigmaSamples := window
	if d.cfg.Mode == ModeTwoPoint || d.cfg.Mode == "" {
		sigmaSamples = samples
	}
	sigma := returnStddev(sigmaSamples)

	var spread float64
	if snap, ok := d.books.StaleBook(asset.ID); ok {
		spread = snap.Spread()
	}

	static := d.cfg.UpThreshold
	direction := domain.DirectionUp
	if delta < 0 {
		static = d.cfg.DownThreshold
		direction = domain.DirectionDown
	}
	threshold := adaptiveThreshold(static, d.cfg.SigmaMultiplier*sigma, spread+d.cfg.SpreadBuffer)

	cand := domain.Candidate{
		Asset:     asset,
		Direction: direction,
		Delta:     delta,
		Threshold: threshold,
		Spread:    spread,
		Sigma:     sigma,
		Mid:       newMid,
		At:        now,
	}
	if math.Abs(delta) < threshold {
		return cand, false, nil
	}

	d.mu.Lock()
	st.lastTrigger = now
	d.mu.Unlock()
	return cand, true, nil
}

// Rearm clears the asset's trigger cooldown. The risk manager calls it after
// a position on the asset is closed.
func (d *Detector) Rearm(assetID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.state[assetID]; ok {
		st.lastTrigger = time.Time{}
	}
}

func (d *Detector) assetState(assetID string) *assetState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[assetID]
	if !ok {
		st = &assetState{}
		d.state[assetID] = st
	}
	return st
}

// window selects the lookback samples for the configured mode, oldest first.
func (d *Detector) window(samples []domain.PriceSample, now time.Time) []domain.PriceSample {
	switch d.cfg.Mode {
	case ModeWindowCount:
		if len(samples) < d.cfg.WindowSamples {
			return nil
		}
		return samples[len(samples)-d.cfg.WindowSamples:]
	case ModeWindowTime:
		cutoff := now.Add(-d.cfg.WindowSpan)
		i := 0
		for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
			i++
		}
		return samples[i:]
	default: // ModeTwoPoint
		return samples[len(samples)-2:]
	}
}

// adaptiveThreshold is max(static, sigmaTerm, spreadTerm).
func adaptiveThreshold(static, sigmaTerm, spreadTerm float64) float64 {
	t := static
	if sigmaTerm > t {
		t = sigmaTerm
	}
	if spreadTerm > t {
		t = spreadTerm
	}
	return t
}

// returnStddev computes the population standard deviation of consecutive
// mid-price returns. Fewer than three samples yield 0.
func returnStddev(samples []domain.PriceSample) float64 {
	returns := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].Mid
		if prev <= 0 {
			continue
		}
		returns = append(returns, (samples[i].Mid-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}
