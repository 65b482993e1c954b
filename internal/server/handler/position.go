package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// PositionSource supplies the currently held positions.
type PositionSource interface {
	OpenPositions() []domain.Position
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionSource
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given source.
func NewPositionHandler(positions PositionSource, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type positionRow struct {
	ID         string  `json:"id"`
	AssetID    string  `json:"asset_id"`
	MarketSlug string  `json:"market_slug"`
	Outcome    string  `json:"outcome"`
	EntryPrice float64 `json:"entry_price"`
	EntryTime  string  `json:"entry_time"`
	Shares     float64 `json:"shares"`
	CostUSD    float64 `json:"cost_usd"`
	Status     string  `json:"status"`
}

type listPositionsResponse struct {
	Positions []positionRow `json:"positions"`
}

// ListPositions returns all currently open positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	open := h.positions.OpenPositions()

	rows := make([]positionRow, 0, len(open))
	for _, p := range open {
		rows = append(rows, positionRow{
			ID:         p.ID,
			AssetID:    p.Asset.ID,
			MarketSlug: p.Asset.MarketSlug,
			Outcome:    p.Asset.Outcome,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime.UTC().Format(time.RFC3339),
			Shares:     p.Shares,
			CostUSD:    p.CostUSD,
			Status:     string(p.Status),
		})
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: rows})
}
