package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

type fakeFeed struct{}

func (f *fakeFeed) RunLoop(ctx context.Context, _ []domain.Asset) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeDetector struct {
	mu       sync.Mutex
	triggers map[string]domain.Candidate // assets that trigger
	stale    map[string]bool             // assets returning ErrDataUnavailable
	calls    map[string]int
}

func (d *fakeDetector) Evaluate(asset domain.Asset, _ time.Time) (domain.Candidate, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[asset.ID]++
	if d.stale[asset.ID] {
		return domain.Candidate{}, false, fmt.Errorf("detect: stale: %w", domain.ErrDataUnavailable)
	}
	if cand, ok := d.triggers[asset.ID]; ok {
		return cand, true, nil
	}
	return domain.Candidate{}, false, nil
}

type fakeRisk struct {
	mu         sync.Mutex
	candidates []domain.Candidate
	exitChecks map[string]int
	open       []domain.Position
}

func (r *fakeRisk) HandleCandidate(_ context.Context, cand domain.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, cand)
	return nil
}

func (r *fakeRisk) CheckExit(_ context.Context, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exitChecks == nil {
		r.exitChecks = make(map[string]int)
	}
	r.exitChecks[assetID]++
	return nil
}

func (r *fakeRisk) OpenPositions() []domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Position(nil), r.open...)
}

func (r *fakeRisk) Snapshot(context.Context) (domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Snapshot{At: time.Now(), Balance: 100, Positions: r.open}, nil
}

func (r *fakeRisk) candidateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}

type fakeStore struct {
	mu       sync.Mutex
	upserted []domain.Position
}

func (s *fakeStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, pos)
	return nil
}

func (s *fakeStore) GetOpen(context.Context) ([]domain.Position, error) { return nil, nil }
func (s *fakeStore) ListClosedBefore(context.Context, int64, int) ([]domain.Position, error) {
	return nil, nil
}
func (s *fakeStore) DeleteByIDs(context.Context, []string) (int64, error) { return 0, nil }

type fakePublisher struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (p *fakePublisher) PublishSnapshot(_ context.Context, snap domain.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func testEngineConfig() Config {
	return Config{
		DetectInterval:      5 * time.Millisecond,
		MaxConcurrentChecks: 2,
		ExitCheckInterval:   5 * time.Millisecond,
		MaxConcurrentExits:  2,
		SnapshotInterval:    10 * time.Millisecond,
		ShutdownTimeout:     time.Second,
		Execute:             true,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunRoutesCandidatesAndSkipsStale(t *testing.T) {
	assets := []domain.Asset{{ID: "fresh"}, {ID: "stale"}}
	det := &fakeDetector{
		triggers: map[string]domain.Candidate{
			"fresh": {Asset: domain.Asset{ID: "fresh"}, Direction: domain.DirectionUp, Delta: 0.1},
			"stale": {Asset: domain.Asset{ID: "stale"}, Direction: domain.DirectionUp, Delta: 0.2},
		},
		stale: map[string]bool{"stale": true},
	}
	risk := &fakeRisk{}
	o := New(testEngineConfig(), assets, &fakeFeed{}, det, risk, nil, nil, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	risk.mu.Lock()
	defer risk.mu.Unlock()
	if len(risk.candidates) == 0 {
		t.Fatal("no candidates reached the risk manager")
	}
	for _, cand := range risk.candidates {
		if cand.Asset.ID == "stale" {
			t.Fatal("stale asset produced a candidate")
		}
	}
}

func TestRunMonitorModeNeverTrades(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Execute = false
	det := &fakeDetector{
		triggers: map[string]domain.Candidate{
			"a1": {Asset: domain.Asset{ID: "a1"}, Direction: domain.DirectionUp, Delta: 0.1},
		},
	}
	risk := &fakeRisk{}
	o := New(cfg, []domain.Asset{{ID: "a1"}}, &fakeFeed{}, det, risk, nil, nil, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if risk.candidateCount() != 0 {
		t.Error("monitor mode forwarded candidates to the risk manager")
	}
}

func TestExitSweepChecksEveryOpenPosition(t *testing.T) {
	risk := &fakeRisk{
		open: []domain.Position{
			{ID: "p1", Asset: domain.Asset{ID: "a1"}, Status: domain.PositionStatusOpen},
			{ID: "p2", Asset: domain.Asset{ID: "a2"}, Status: domain.PositionStatusOpen},
			{ID: "p3", Asset: domain.Asset{ID: "a3"}, Status: domain.PositionStatusOpen},
		},
	}
	o := New(testEngineConfig(), nil, &fakeFeed{}, &fakeDetector{}, risk, nil, nil, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	risk.mu.Lock()
	defer risk.mu.Unlock()
	for _, id := range []string{"a1", "a2", "a3"} {
		if risk.exitChecks[id] == 0 {
			t.Errorf("asset %s never exit-checked", id)
		}
	}
}

func TestShutdownFlushPersistsOpenPositions(t *testing.T) {
	risk := &fakeRisk{
		open: []domain.Position{
			{ID: "p1", Asset: domain.Asset{ID: "a1"}, Status: domain.PositionStatusOpen},
			{ID: "p2", Asset: domain.Asset{ID: "a2"}, Status: domain.PositionStatusOpen},
		},
	}
	store := &fakeStore{}
	pub := &fakePublisher{}
	o := New(testEngineConfig(), nil, &fakeFeed{}, &fakeDetector{}, risk, store, pub, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.upserted) < 2 {
		t.Fatalf("flushed %d positions, want at least 2", len(store.upserted))
	}
	if pub.count() == 0 {
		t.Error("no final snapshot published")
	}
}
