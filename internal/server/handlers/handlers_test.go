package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"starlane-server/internal/gateway"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeBridges int

func (b fakeBridges) Connected() int { return int(b) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"up", nil, "connected"},
		{"down", fmt.Errorf("boom"), "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(fakePinger{tt.err}, fakeBridges(2)).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/server/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var got HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Database != tt.want || got.Bridges != 2 {
				t.Errorf("health = %+v", got)
			}
		})
	}
}

type acceptAll struct{}

func (acceptAll) ValidateFrame([]byte) error { return nil }

type rejectAll struct{}

func (rejectAll) ValidateFrame([]byte) error { return fmt.Errorf("missing group") }

type echo struct{ seen []gateway.Interaction }

func (e *echo) Respond(_ context.Context, in gateway.Interaction) gateway.Reply {
	e.seen = append(e.seen, in)
	return gateway.Reply{Content: "rolled for " + in.UserName, Ephemeral: true}
}

func TestInteractionHandlerAnswersInBody(t *testing.T) {
	responder := &echo{}
	h := NewInteractionHandler(acceptAll{}, responder)

	body := `{"op":"interaction","interaction":{"id":"i-1","user_id":7,"user_name":"Ada","group":"roll"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/interactions", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var reply gateway.Reply
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Content != "rolled for Ada" || !reply.Ephemeral {
		t.Errorf("reply = %+v", reply)
	}
	if len(responder.seen) != 1 || responder.seen[0].UserID != 7 || responder.seen[0].Group != "roll" {
		t.Errorf("seen = %+v", responder.seen)
	}
}

func TestInteractionHandlerRejects(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		validator FrameValidator
		body      string
		want      int
	}{
		{"wrong method", http.MethodGet, acceptAll{}, "", http.StatusMethodNotAllowed},
		{"schema failure", http.MethodPost, rejectAll{}, `{"op":"interaction"}`, http.StatusBadRequest},
		{"not an interaction", http.MethodPost, acceptAll{}, `{"op":"hello"}`, http.StatusBadRequest},
		{"garbage", http.MethodPost, acceptAll{}, `{"op":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responder := &echo{}
			rec := httptest.NewRecorder()
			NewInteractionHandler(tt.validator, responder).
				ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/gateway/interactions", strings.NewReader(tt.body)))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(responder.seen) != 0 {
				t.Errorf("responder called for a rejected request")
			}
		})
	}
}
