package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"warmer/internal/ai"
	"warmer/internal/model"
)

const (
	defaultBotTemperature     = 0.7
	defaultBotMaxTokens       = 500
	defaultBotContextMessages = 10
)

func (a *API) handleListBots(w http.ResponseWriter, r *http.Request) {
	list, err := a.Store.ListBots(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Bot{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetBot(w http.ResponseWriter, r *http.Request) {
	b, err := a.Store.GetBot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// botReq carries both create and partial update bodies.
type botReq struct {
	Name            *string  `json:"name"`
	InstanceID      *string  `json:"instance_id"`
	SystemPrompt    *string  `json:"system_prompt"`
	Model           *string  `json:"model"`
	Temperature     *float64 `json:"temperature"`
	MaxTokens       *int     `json:"max_tokens"`
	Active          *bool    `json:"active"`
	ReplyDelay      *int     `json:"reply_delay"`
	ContextMessages *int     `json:"context_messages"`
	ReplyGroups     *bool    `json:"reply_groups"`
}

// apply copies the present fields onto b and normalises the result. It
// returns a client error message, or "" when b is valid.
func (req botReq) apply(b *model.Bot) string {
	if req.Name != nil {
		b.Name = strings.TrimSpace(*req.Name)
	}
	if req.InstanceID != nil {
		b.InstanceID = strings.TrimSpace(*req.InstanceID)
	}
	if req.SystemPrompt != nil {
		b.SystemPrompt = *req.SystemPrompt
	}
	if req.Model != nil {
		b.Model = *req.Model
	}
	if req.Temperature != nil {
		b.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		b.MaxTokens = *req.MaxTokens
	}
	if req.Active != nil {
		b.Active = *req.Active
	}
	if req.ReplyDelay != nil {
		b.ReplyDelay = *req.ReplyDelay
	}
	if req.ContextMessages != nil {
		b.ContextMessages = *req.ContextMessages
	}
	if req.ReplyGroups != nil {
		b.ReplyGroups = *req.ReplyGroups
	}

	if b.Name == "" || strings.TrimSpace(b.SystemPrompt) == "" {
		return "name and system_prompt required"
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = defaultBotMaxTokens
	}
	if b.ContextMessages <= 0 {
		b.ContextMessages = defaultBotContextMessages
	}
	if b.ReplyDelay < 0 {
		b.ReplyDelay = 0
	}
	return ""
}

func (a *API) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req botReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	b := &model.Bot{Temperature: defaultBotTemperature, Active: true}
	if msg := req.apply(b); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	if !a.botInstanceExists(w, r, b) {
		return
	}
	if err := a.Store.CreateBot(r.Context(), b); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	b, err := a.Store.GetBot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req botReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.apply(b); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	if !a.botInstanceExists(w, r, b) {
		return
	}
	if err := a.Store.UpdateBot(r.Context(), b); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) botInstanceExists(w http.ResponseWriter, r *http.Request, b *model.Bot) bool {
	if b.InstanceID == "" {
		return true
	}
	if _, err := a.Store.GetInstance(r.Context(), b.InstanceID); err != nil {
		a.fail(w, r, err)
		return false
	}
	return true
}

func (a *API) handleToggleBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, err := a.Store.ToggleBot(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info("bot toggled", zap.String("id", id), zap.Bool("active", active))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

func (a *API) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteBot(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

type testBotReq struct {
	Message string `json:"message"`
}

// handleTestBot runs one completion with the bot's prompt without sending
// anything to WhatsApp.
func (a *API) handleTestBot(w http.ResponseWriter, r *http.Request) {
	b, err := a.Store.GetBot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req testBotReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeErr(w, http.StatusBadRequest, "message required")
		return
	}
	if a.Completer == nil {
		writeErr(w, http.StatusServiceUnavailable, "AI completion is not configured")
		return
	}
	reply, err := a.Completer.Complete(r.Context(), ai.CompletionRequest{
		SystemPrompt: b.SystemPrompt,
		UserText:     req.Message,
		Model:        b.Model,
		Temperature:  b.Temperature,
		MaxTokens:    b.MaxTokens,
	})
	if err != nil {
		a.logger.Warn("bot test completion", zap.String("bot", b.ID), zap.Error(err))
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": reply})
}
