package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"warmer/internal/events"
)

const maxWebhookBody = 4 << 20

// handleWebhook records every provider callback and hands message payloads
// to the router. Providers always get 200 so they never retry on our errors.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	switch kind {
	case events.TypeMessage, events.TypeStatus, events.TypeConnect, events.TypeQRCode:
	default:
		writeErr(w, http.StatusNotFound, "unknown webhook")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.logger.Warn("read webhook body", zap.String("kind", kind), zap.Error(err))
		a.Events.Record(kind, nil, r.RemoteAddr, false)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	a.Events.Record(kind, body, r.RemoteAddr, true)
	if kind == events.TypeMessage {
		if msg := a.Inbound.Submit(body, r.Header); msg != nil {
			a.logger.Debug("message webhook accepted", zap.String("from", msg.From), zap.String("device", msg.DeviceToken))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
