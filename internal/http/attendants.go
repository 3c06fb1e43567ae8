package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"warmer/internal/model"
)

func (a *API) handleListAttendants(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		active = &b
	}
	list, err := a.Store.ListAttendants(r.Context(), active)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Attendant{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetAttendant(w http.ResponseWriter, r *http.Request) {
	at, err := a.Store.GetAttendant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, at)
}

type attendantReq struct {
	Name   *string `json:"name"`
	Sector *string `json:"sector"`
	Email  *string `json:"email"`
	Active *bool   `json:"active"`
}

func (req attendantReq) apply(at *model.Attendant) bool {
	if req.Name != nil {
		at.Name = strings.TrimSpace(*req.Name)
	}
	if req.Sector != nil {
		at.Sector = strings.TrimSpace(*req.Sector)
	}
	if req.Email != nil {
		at.Email = strings.TrimSpace(*req.Email)
	}
	if req.Active != nil {
		at.Active = *req.Active
	}
	return at.Name != "" && at.Sector != ""
}

func (a *API) handleCreateAttendant(w http.ResponseWriter, r *http.Request) {
	var req attendantReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	at := &model.Attendant{Active: true}
	if !req.apply(at) {
		writeErr(w, http.StatusBadRequest, "name and sector required")
		return
	}
	if err := a.Store.CreateAttendant(r.Context(), at); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, at)
}

func (a *API) handleUpdateAttendant(w http.ResponseWriter, r *http.Request) {
	at, err := a.Store.GetAttendant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req attendantReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.apply(at) {
		writeErr(w, http.StatusBadRequest, "name and sector required")
		return
	}
	if err := a.Store.UpdateAttendant(r.Context(), at); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, at)
}

func (a *API) handleDeleteAttendant(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteAttendant(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}
