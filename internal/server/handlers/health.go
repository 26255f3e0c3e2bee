package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"starlane-server/internal/shared/response"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Bridges   int    `json:"bridges"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type BridgeCounter interface {
	Connected() int
}

type HealthHandler struct {
	db      Pinger
	bridges BridgeCounter
}

func NewHealthHandler(db Pinger, bridges BridgeCounter) *HealthHandler {
	return &HealthHandler{db: db, bridges: bridges}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "health")

	dbStatus := "disconnected"
	if err := h.db.Ping(r.Context()); err == nil {
		dbStatus = "connected"
	} else {
		logger.Warn("Database ping failed", "error", err)
	}

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  dbStatus,
		Bridges:   h.bridges.Connected(),
	}

	response.Success(w, http.StatusOK, resp)
}
