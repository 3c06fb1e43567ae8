package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"warmer/internal/model"
)

const defaultContactCategory = "general"

func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	list, err := a.Store.ListContacts(r.Context(), activeOnly)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, err := a.Store.GetContact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type createContactReq struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	IsBot    bool   `json:"is_bot"`
	Category string `json:"category"`
	Active   *bool  `json:"active"`
}

func (a *API) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	phone := model.NormalizePhone(req.Phone)
	if phone == "" {
		writeErr(w, http.StatusBadRequest, "phone required")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	c := &model.Contact{
		Phone:    phone,
		Name:     strings.TrimSpace(req.Name),
		IsBot:    req.IsBot,
		Category: req.Category,
		Active:   active,
	}
	if c.Category == "" {
		c.Category = defaultContactCategory
	}
	if err := a.Store.CreateContact(r.Context(), c); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type updateContactReq struct {
	Phone    *string `json:"phone"`
	Name     *string `json:"name"`
	IsBot    *bool   `json:"is_bot"`
	Category *string `json:"category"`
	Active   *bool   `json:"active"`
}

// handleUpdateContact applies only the fields present in the body.
func (a *API) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	c, err := a.Store.GetContact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req updateContactReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Phone != nil {
		phone := model.NormalizePhone(*req.Phone)
		if phone == "" {
			writeErr(w, http.StatusBadRequest, "phone required")
			return
		}
		c.Phone = phone
	}
	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsBot != nil {
		c.IsBot = *req.IsBot
	}
	if req.Category != nil {
		c.Category = *req.Category
		if c.Category == "" {
			c.Category = defaultContactCategory
		}
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if err := a.Store.UpdateContact(r.Context(), c); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteContact(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}
