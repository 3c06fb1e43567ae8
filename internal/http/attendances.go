package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"warmer/internal/attendance"
	"warmer/internal/model"
)

func (a *API) handleListAttendances(w http.ResponseWriter, r *http.Request) {
	list, err := a.Attendance.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Attendance{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	att, err := a.Attendance.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (a *API) handleCreateAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendance.OpenInput
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	att, err := a.Attendance.Open(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

type attendanceStatusReq struct {
	Status        string `json:"status"`
	AttendantName string `json:"attendant_name"`
	ClosedBy      string `json:"closed_by"`
}

func (a *API) handleAttendanceStatus(w http.ResponseWriter, r *http.Request) {
	var req attendanceStatusReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	att, err := a.Attendance.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, req.AttendantName, req.ClosedBy)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (a *API) handleDeleteAttendance(w http.ResponseWriter, r *http.Request) {
	if err := a.Attendance.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

func (a *API) handleAttendanceMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.Attendance.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.AttendanceMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendAttendanceMessageReq struct {
	Content string `json:"content"`
}

func (a *API) handleSendAttendanceMessage(w http.ResponseWriter, r *http.Request) {
	var req sendAttendanceMessageReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	msg, err := a.Attendance.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type attendanceSettings struct {
	WelcomeMessage    *string `json:"welcome_message"`
	ClosingMessage    *string `json:"closing_message"`
	ShowAttendantName *bool   `json:"show_attendant_name"`
}

func (a *API) attendanceSettings(r *http.Request) (attendanceSettings, error) {
	ctx := r.Context()
	welcome, ok, err := a.Store.GetSetting(ctx, attendance.SettingWelcome)
	if err != nil {
		return attendanceSettings{}, err
	}
	if !ok {
		welcome = attendance.DefaultWelcome
	}
	closing, ok, err := a.Store.GetSetting(ctx, attendance.SettingClosing)
	if err != nil {
		return attendanceSettings{}, err
	}
	if !ok {
		closing = attendance.DefaultClosing
	}
	show, ok, err := a.Store.GetSetting(ctx, attendance.SettingShowAttendantName)
	if err != nil {
		return attendanceSettings{}, err
	}
	showName := !ok || show == "true"
	return attendanceSettings{WelcomeMessage: &welcome, ClosingMessage: &closing, ShowAttendantName: &showName}, nil
}

func (a *API) handleGetAttendanceSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.attendanceSettings(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// handleUpdateAttendanceSettings stores only the fields present in the body.
func (a *API) handleUpdateAttendanceSettings(w http.ResponseWriter, r *http.Request) {
	var req attendanceSettings
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ctx := r.Context()
	set := func(key, value string) bool {
		if err := a.Store.SetSetting(ctx, key, value); err != nil {
			a.fail(w, r, err)
			return false
		}
		return true
	}
	if req.WelcomeMessage != nil && !set(attendance.SettingWelcome, *req.WelcomeMessage) {
		return
	}
	if req.ClosingMessage != nil && !set(attendance.SettingClosing, *req.ClosingMessage) {
		return
	}
	if req.ShowAttendantName != nil {
		v := "false"
		if *req.ShowAttendantName {
			v = "true"
		}
		if !set(attendance.SettingShowAttendantName, v) {
			return
		}
	}
	a.handleGetAttendanceSettings(w, r)
}
