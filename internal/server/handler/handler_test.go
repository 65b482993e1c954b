package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

type fakeSnapshots struct {
	snap domain.Snapshot
	err  error
}

func (f *fakeSnapshots) Snapshot(context.Context) (domain.Snapshot, error) {
	return f.snap, f.err
}

type fakePositions struct {
	open []domain.Position
}

func (f *fakePositions) OpenPositions() []domain.Position { return f.open }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetStatusReportsBalanceAndOpenCount(t *testing.T) {
	snaps := &fakeSnapshots{snap: domain.Snapshot{
		At:        time.Now(),
		Balance:   123.45,
		Positions: []domain.Position{{ID: "p1"}, {ID: "p2"}},
	}}
	h := NewStatusHandler("sim", time.Now().Add(-time.Minute), snaps, discardLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["mode"] != "sim" {
		t.Errorf("mode = %v, want sim", body["mode"])
	}
	if body["balance"] != 123.45 {
		t.Errorf("balance = %v, want 123.45", body["balance"])
	}
	if body["open_positions"] != float64(2) {
		t.Errorf("open_positions = %v, want 2", body["open_positions"])
	}
	if body["uptime_seconds"].(float64) < 59 {
		t.Errorf("uptime_seconds = %v, want at least a minute", body["uptime_seconds"])
	}
}

func TestGetStatusSnapshotFailure(t *testing.T) {
	snaps := &fakeSnapshots{err: errors.New("gateway down")}
	h := NewStatusHandler("trade", time.Now(), snaps, discardLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestListPositionsRendersRows(t *testing.T) {
	entry := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	positions := &fakePositions{open: []domain.Position{{
		ID:         "pos-1",
		Asset:      domain.Asset{ID: "token-1", MarketSlug: "will-it-rain", Outcome: "Yes"},
		EntryPrice: 0.50,
		EntryTime:  entry,
		Shares:     20,
		CostUSD:    10,
		Status:     domain.PositionStatusOpen,
	}}}
	h := NewPositionHandler(positions, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body listPositionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Positions) != 1 {
		t.Fatalf("got %d rows, want 1", len(body.Positions))
	}
	row := body.Positions[0]
	if row.MarketSlug != "will-it-rain" || row.Status != "open" {
		t.Errorf("row = %+v, want will-it-rain / open", row)
	}
	if row.EntryTime != "2026-08-30T10:00:00Z" {
		t.Errorf("entry_time = %q, want RFC3339 UTC", row.EntryTime)
	}
}

func TestListPositionsEmptyIsEmptyArray(t *testing.T) {
	h := NewPositionHandler(&fakePositions{}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != `{"positions":[]}` {
		t.Errorf("body = %s, want empty positions array", got)
	}
}
