package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const streamKeepAlive = 25 * time.Second

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  a.Events.Entries(limit),
		"stats": a.Events.Stats(),
	})
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	a.Events.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// handleLogsStream pushes webhook activity as server-sent events.
func (a *API) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entries, cancel := a.Events.Subscribe()
	defer cancel()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	// kick off stream
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case e, open := <-entries:
			if !open {
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + e.Type + "\ndata: ")); err != nil {
				return
			}
			_, _ = w.Write(b)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
