package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agimpel/vcs-automat-core/internal/mdb"
	"github.com/agimpel/vcs-automat-core/internal/orchestrator"
	"github.com/agimpel/vcs-automat-core/internal/provider"
)

// SessionSource is the read/write surface the admin API needs from the
// Orchestrator: current session status and an operator display push.
type SessionSource interface {
	CurrentSession() *orchestrator.Session
	PushDisplay(req mdb.DisplayRequest)
}

// ProviderInfoer is the read surface needed from the provider chain: a
// single named provider's self-reported metadata.
type ProviderInfoer interface {
	Info(ctx context.Context, tag string) (*provider.Info, error)
}

// UsageSetter is the store surface the refill endpoint adjusts.
type UsageSetter interface {
	SetLocalUsage(ctx context.Context, rfid string, usage uint32) error
}

// Handlers wires the admin API's HTTP surface to the daemon's internals.
type Handlers struct {
	sessions SessionSource
	info     ProviderInfoer
	usage    UsageSetter
}

// NewHandlers constructs a Handlers instance.
func NewHandlers(sessions SessionSource, info ProviderInfoer, usage UsageSetter) *Handlers {
	return &Handlers{sessions: sessions, info: info, usage: usage}
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	SessionActive bool   `json:"session_active"`
	CardID        string `json:"card_id,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// Status handles GET /status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.CurrentSession()
	resp := statusResponse{SessionActive: sess != nil}
	if sess != nil {
		resp.CardID = sess.CardID
		resp.Provider = sess.WinningProvider
	}
	WriteJSONOK(w, resp)
}

// sessionResponse is the body of GET /sessions/current.
type sessionResponse struct {
	CardID           string    `json:"card_id"`
	CreditsRemaining uint32    `json:"credits_remaining"`
	Provider         string    `json:"provider"`
	StartedAt        time.Time `json:"started_at"`
}

// CurrentSession handles GET /sessions/current.
func (h *Handlers) CurrentSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.CurrentSession()
	if sess == nil {
		NotFound(w, "no session is currently active")
		return
	}
	WriteJSONOK(w, sessionResponse{
		CardID:           sess.CardID,
		CreditsRemaining: sess.CreditsRemaining,
		Provider:         sess.WinningProvider,
		StartedAt:        sess.StartedAt,
	})
}

// displayRequestBody is the body of POST /display.
type displayRequestBody struct {
	Top      string `json:"top"`
	Bottom   string `json:"bottom"`
	Duration string `json:"duration"`
	Priority bool   `json:"priority"`
}

// Display handles POST /display.
func (h *Handlers) Display(w http.ResponseWriter, r *http.Request) {
	var body displayRequestBody
	if !decodeJSONBody(w, r, &body) {
		return
	}

	duration := 3 * time.Second
	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil {
			BadRequest(w, "duration must be a valid Go duration string, e.g. \"3s\"")
			return
		}
		duration = d
	}

	h.sessions.PushDisplay(mdb.DisplayRequest{
		Top:      body.Top,
		Bottom:   body.Bottom,
		Duration: duration,
		Priority: body.Priority,
	})
	WriteJSONOK(w, map[string]string{"status": "queued"})
}

// refillRequestBody is the body of POST /refill.
type refillRequestBody struct {
	RFID         string `json:"rfid"`
	UsageCounter uint32 `json:"usage_counter"`
}

// Refill handles POST /refill: overwrites the local fallback provider's
// usage counter for a card, correcting bookkeeping drift after a physical
// restock (§9).
func (h *Handlers) Refill(w http.ResponseWriter, r *http.Request) {
	var body refillRequestBody
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.RFID == "" {
		BadRequest(w, "rfid is required")
		return
	}

	if err := h.usage.SetLocalUsage(r.Context(), body.RFID, body.UsageCounter); err != nil {
		InternalServerError(w, err.Error())
		return
	}
	WriteJSONOK(w, map[string]string{"status": "updated"})
}

// ProviderInfo handles GET /provider/{tag}/info.
func (h *Handlers) ProviderInfo(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	info, err := h.info.Info(r.Context(), tag)
	if err != nil {
		NotFound(w, err.Error())
		return
	}
	WriteJSONOK(w, info)
}
