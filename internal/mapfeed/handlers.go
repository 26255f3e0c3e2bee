package mapfeed

import (
	"log/slog"
	"net/http"
	"time"

	"starlane-server/internal/shared/errors"
	"starlane-server/internal/shared/response"
)

type SnapshotHandler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewSnapshotHandler(repo *Repository, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{repo: repo, logger: logger}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("handler", "map_snapshot", "remote_addr", r.RemoteAddr)

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	snap, err := h.repo.Snapshot(r.Context())
	if err != nil {
		response.ErrorWithMessage(w, r, logger, errors.WrapInternal("failed to build snapshot", err), "Map is unavailable")
		return
	}
	snap.GeneratedAt = time.Now().UTC()

	response.Success(w, http.StatusOK, snap)
}
