package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// SnapshotSource supplies the current account snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// StatusHandler serves the bot status endpoint for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler reporting the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, snapshots SnapshotSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		snapshots: snapshots,
		logger:    logger,
	}
}

// GetStatus responds with the run mode, uptime, balance, and open position
// count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: status snapshot failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read bot state")
		return
	}

	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"balance":        snap.Balance,
		"open_positions": len(snap.Positions),
	})
}
