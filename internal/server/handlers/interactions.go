package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"starlane-server/internal/gateway"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/shared/response"
)

const maxFrameBytes = 64 << 10

type FrameValidator interface {
	ValidateFrame(raw []byte) error
}

type Responder interface {
	Respond(ctx context.Context, in gateway.Interaction) gateway.Reply
}

// InteractionHandler accepts one interaction frame per POST and answers
// with the reply in the body.
type InteractionHandler struct {
	frames    FrameValidator
	responder Responder
}

func NewInteractionHandler(frames FrameValidator, responder Responder) *InteractionHandler {
	return &InteractionHandler{frames: frames, responder: responder}
}

func (h *InteractionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "interactions", "remote_addr", r.RemoteAddr)

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		response.Error(w, r, logger, errors.WrapValidation("failed to read request body", err))
		return
	}
	if err := h.frames.ValidateFrame(raw); err != nil {
		response.Error(w, r, logger, errors.WrapValidation("invalid interaction frame", err))
		return
	}

	var frame struct {
		Op          string               `json:"op"`
		Interaction *gateway.Interaction `json:"interaction"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		response.Error(w, r, logger, errors.WrapValidation("invalid interaction frame", err))
		return
	}
	if frame.Op != "interaction" || frame.Interaction == nil {
		response.Error(w, r, logger, errors.Validationf("expected an interaction frame, got %q", frame.Op))
		return
	}

	logger.Debug("Interaction received",
		"interaction_id", frame.Interaction.ID,
		"user_id", frame.Interaction.UserID,
		"group", frame.Interaction.Group)

	reply := h.responder.Respond(r.Context(), *frame.Interaction)
	response.Success(w, http.StatusOK, reply)
}
