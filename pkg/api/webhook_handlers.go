package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/httputil"
)

// Webhook response bodies
const (
	webhookOK     = "OK"
	webhookNoData = "NO_DATA"
	webhookError  = "ERROR"
)

// EventHandler reconciles processor notifications
type EventHandler interface {
	HandleEvent(ctx context.Context, ev billing.Event) (billing.Outcome, error)
}

// WebhookHandlers receives payment processor notifications
type WebhookHandlers struct {
	events   EventHandler
	recorder *audit.Recorder
}

// NewWebhookHandlers creates a new WebhookHandlers. recorder may be nil.
func NewWebhookHandlers(events EventHandler, recorder *audit.Recorder) *WebhookHandlers {
	return &WebhookHandlers{events: events, recorder: recorder}
}

// RegisterRoutes registers webhook routes on a router rooted at /webhooks
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/mercadopago", h.MercadoPago).Methods(http.MethodPost)
}

// MercadoPago handles a notification. It always answers 200.
func (h *WebhookHandlers) MercadoPago(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.recorder.Error(ctx, audit.CategoryWebhook, "Failed to read notification body", err, nil)
		httputil.WriteText(w, http.StatusOK, webhookError)
		return
	}

	ev, err := billing.ParseEvent(body, r.URL.Query())
	if err != nil {
		fields := map[string]any{"body_bytes": len(body), "query": r.URL.RawQuery}
		if len(body) == 0 && r.URL.RawQuery == "" {
			h.recorder.Warn(ctx, audit.CategoryWebhook, "Empty notification received", fields)
			httputil.WriteText(w, http.StatusOK, webhookNoData)
			return
		}
		fields["error"] = err.Error()
		h.recorder.Warn(ctx, audit.CategoryWebhook, "Unusable notification received", fields)
		httputil.WriteText(w, http.StatusOK, webhookNoData)
		return
	}

	if _, err := h.events.HandleEvent(ctx, ev); err != nil {
		httputil.WriteText(w, http.StatusOK, webhookError)
		return
	}
	httputil.WriteText(w, http.StatusOK, webhookOK)
}
