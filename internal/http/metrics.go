package httpapi

import (
	"net/http"
	"strconv"

	"warmer/internal/model"
)

const metricDateFmt = "2006-01-02"

// handleMetrics returns one day's counters when date is given, otherwise
// the most recent days.
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instanceID := q.Get("instance_id")
	if instanceID == "" {
		writeErr(w, http.StatusBadRequest, "instance_id required")
		return
	}
	if date := q.Get("date"); date != "" {
		m, err := a.Store.GetDailyMetric(r.Context(), instanceID, date)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := a.Store.ListDailyMetrics(r.Context(), instanceID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.DailyMetric{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) today() string {
	return a.now().In(a.Location).Format(metricDateFmt)
}

func (a *API) handleMetricsToday(w http.ResponseWriter, r *http.Request) {
	list, err := a.Store.ListMetricsForDate(r.Context(), a.today())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.DailyMetric{}
	}
	writeJSON(w, http.StatusOK, list)
}

type instanceCounts struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Warming   int `json:"warming"`
}

type todayTotals struct {
	Date             string `json:"date"`
	MessagesSent     int    `json:"messages_sent"`
	MessagesReceived int    `json:"messages_received"`
	BlocksCount      int    `json:"blocks_count"`
}

// handleMetricsStats summarises instance counts and today's totals.
func (a *API) handleMetricsStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var counts instanceCounts
	var err error
	counts.Total, counts.Connected, counts.Warming, err = a.Store.CountInstances(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	totals := todayTotals{Date: a.today()}
	list, err := a.Store.ListMetricsForDate(ctx, totals.Date)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	for _, m := range list {
		totals.MessagesSent += m.MessagesSent
		totals.MessagesReceived += m.MessagesReceived
		totals.BlocksCount += m.BlocksCount
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": counts, "today": totals})
}
