package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	s3blob "github.com/mathidot/polymarket-bot/internal/blob/s3"
)

// ArchiveLister enumerates objects in the archive bucket.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]s3blob.ObjectInfo, error)
}

// ArchiveHandler exposes the closed-position archive inventory.
type ArchiveHandler struct {
	archives ArchiveLister
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given lister.
func NewArchiveHandler(archives ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		archives: archives,
		logger:   logger,
	}
}

type archiveRow struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

type listArchivesResponse struct {
	Archives []archiveRow `json:"archives"`
}

// ListArchives returns metadata for all archived position batches.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.archives.List(r.Context(), "archive/positions/")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	rows := make([]archiveRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, archiveRow{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: rows})
}
