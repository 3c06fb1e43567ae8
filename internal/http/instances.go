package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"warmer/internal/model"
	"warmer/internal/monitor"
)

type instanceView struct {
	model.Instance
	Warming bool `json:"warming"`
}

func (a *API) view(in model.Instance) instanceView {
	return instanceView{Instance: in, Warming: a.Warming.IsWarming(in.ID)}
}

func (a *API) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := a.Store.ListInstances(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]instanceView, 0, len(list))
	for _, in := range list {
		out = append(out, a.view(in))
	}
	writeJSON(w, http.StatusOK, out)
}

type createInstanceReq struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Provider    string `json:"provider"`
	DeviceToken string `json:"device_token"`
}

func (a *API) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "name required")
		return
	}
	in := &model.Instance{
		Name:        req.Name,
		Phone:       model.NormalizePhone(req.Phone),
		Provider:    req.Provider,
		DeviceToken: strings.TrimSpace(req.DeviceToken),
	}
	switch in.Provider {
	case "":
		in.Provider = model.ProviderWPP
	case model.ProviderWPP, model.ProviderBaileys:
	case model.ProviderWhatsmeow:
		// Local devices are addressed by instance id.
		in.ID = uuid.NewString()
		in.DeviceToken = in.ID
	default:
		writeErr(w, http.StatusBadRequest, "unknown provider")
		return
	}
	if err := a.Store.CreateInstance(r.Context(), in); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info("instance created", zap.String("id", in.ID), zap.String("provider", in.Provider))
	writeJSON(w, http.StatusCreated, a.view(*in))
}

func (a *API) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	in, err := a.Store.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(*in))
}

type updateInstanceReq struct {
	Name        *string `json:"name"`
	Phone       *string `json:"phone"`
	Provider    *string `json:"provider"`
	DeviceToken *string `json:"device_token"`
}

// handleUpdateInstance edits name, phone, provider and device token. Local
// devices keep their instance id as device token.
func (a *API) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	in, err := a.Store.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req updateInstanceReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name != nil {
		in.Name = strings.TrimSpace(*req.Name)
		if in.Name == "" {
			writeErr(w, http.StatusBadRequest, "name required")
			return
		}
	}
	if req.Phone != nil {
		in.Phone = model.NormalizePhone(*req.Phone)
	}
	if req.DeviceToken != nil {
		in.DeviceToken = strings.TrimSpace(*req.DeviceToken)
	}
	if req.Provider != nil {
		switch *req.Provider {
		case model.ProviderWPP, model.ProviderBaileys, model.ProviderWhatsmeow:
			in.Provider = *req.Provider
		default:
			writeErr(w, http.StatusBadRequest, "unknown provider")
			return
		}
	}
	if in.Provider == model.ProviderWhatsmeow {
		in.DeviceToken = in.ID
	}
	if err := a.Store.UpdateInstance(r.Context(), in); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info("instance updated", zap.String("id", in.ID), zap.String("provider", in.Provider))
	writeJSON(w, http.StatusOK, a.view(*in))
}

func (a *API) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Store.GetInstance(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	if a.Warming.IsWarming(id) {
		if err := a.Warming.PauseWarming(r.Context(), id); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	if err := a.Store.DeleteInstance(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

func (a *API) handleStartWarming(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Warming.StartWarming(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "warming": true})
}

func (a *API) handlePauseWarming(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Warming.PauseWarming(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "warming": false})
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Store.GetInstance(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	days, err := a.Store.ListSchedule(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if days == nil {
		days = []model.ScheduleEntry{}
	}
	writeJSON(w, http.StatusOK, days)
}

func (a *API) handlePairQR(w http.ResponseWriter, r *http.Request) {
	in, err := a.Store.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if in.Provider != model.ProviderWhatsmeow || a.Pairing == nil {
		writeErr(w, http.StatusBadRequest, "QR pairing is only available for whatsmeow instances")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()
	png, _, err := a.Pairing.StartPairing(ctx, in.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// Stale QR codes must never be served from a cache.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// handleConnect reconnects a paired local device, or starts a gateway
// session and returns its QR code.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	in, err := a.Store.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if in.Provider == model.ProviderWhatsmeow {
		if a.Pairing == nil {
			writeErr(w, http.StatusServiceUnavailable, "local devices are disabled")
			return
		}
		if err := a.Pairing.ConnectIfPaired(r.Context(), in.ID); err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": in.ID, "connecting": true})
		return
	}

	if in.DeviceToken == "" {
		writeErr(w, http.StatusUnprocessableEntity, "instance has no device token")
		return
	}
	if a.Sessions == nil {
		writeErr(w, http.StatusServiceUnavailable, "gateway is not configured")
		return
	}
	qr, err := a.Sessions.StartSession(r.Context(), in.DeviceToken, in.Provider, in.Name)
	if err != nil {
		a.logger.Warn("start gateway session", zap.String("instance", in.ID), zap.Error(err))
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := a.Store.UpdateInstanceStatus(r.Context(), in.ID, model.StatusConnecting); err != nil {
		a.logger.Warn("mark instance connecting", zap.String("instance", in.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": in.ID, "qrcode": qr})
}

func (a *API) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if a.Status == nil {
		writeErr(w, http.StatusServiceUnavailable, "status monitor is disabled")
		return
	}
	updates := a.Status.CheckAll(r.Context())
	if updates == nil {
		updates = []monitor.Update{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates, "count": len(updates)})
}
