package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"warmer/internal/ai"
	"warmer/internal/attendance"
	"warmer/internal/events"
	"warmer/internal/model"
	"warmer/internal/monitor"
	"warmer/internal/scheduler"
	"warmer/internal/storage"
	"warmer/internal/wa"
)

// Inbound accepts raw message webhooks for background routing.
type Inbound interface {
	Submit(body []byte, headers http.Header) *model.InboundMessage
}

// Warming controls the per-instance warming loops.
type Warming interface {
	StartWarming(ctx context.Context, instanceID string) error
	PauseWarming(ctx context.Context, instanceID string) error
	IsWarming(instanceID string) bool
}

// Pairing drives local whatsmeow devices.
type Pairing interface {
	StartPairing(ctx context.Context, instanceID string) ([]byte, string, error)
	ConnectIfPaired(ctx context.Context, instanceID string) error
}

// Sessions starts hosted-gateway sessions.
type Sessions interface {
	StartSession(ctx context.Context, deviceToken, provider, instanceName string) (string, error)
}

// StatusChecker polls instance connection state on demand.
type StatusChecker interface {
	CheckAll(ctx context.Context) []monitor.Update
}

// Deps are the services behind the API. Pairing, Sessions, Status and
// Completer may be nil.
type Deps struct {
	Store      *storage.Store
	Attendance *attendance.Service
	Events     *events.Log
	Inbound    Inbound
	Warming    Warming
	Pairing    Pairing
	Sessions   Sessions
	Status     StatusChecker
	Completer  ai.Completer
	// Location decides which calendar day "today" is for metrics.
	Location *time.Location
	Logger   *zap.Logger
}

type API struct {
	Deps
	Router *chi.Mux
	logger *zap.Logger
	now    func() time.Time
}

func NewRouter(d Deps) *chi.Mux {
	if d.Location == nil {
		d.Location = time.Local
	}
	api := &API{
		Deps:   d,
		Router: chi.NewRouter(),
		logger: d.Logger.Named("http"),
		now:    time.Now,
	}
	r := api.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(api.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	api.routes()
	return r
}

func (a *API) routes() {
	// Streams are long lived and stay outside the request timeout.
	a.Router.Get("/api/logs/stream", a.handleLogsStream)

	a.Router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		r.Get("/api/health", a.handleHealth)

		// Provider webhooks
		r.Post("/api/webhooks/{kind}", a.handleWebhook)

		// Instances & warming
		r.Get("/api/instances", a.handleListInstances)
		r.Post("/api/instances", a.handleCreateInstance)
		r.Post("/api/instances/status/refresh", a.handleRefreshStatus)
		r.Get("/api/instances/{id}", a.handleGetInstance)
		r.Put("/api/instances/{id}", a.handleUpdateInstance)
		r.Delete("/api/instances/{id}", a.handleDeleteInstance)
		r.Post("/api/instances/{id}/warming/start", a.handleStartWarming)
		r.Post("/api/instances/{id}/warming/pause", a.handlePauseWarming)
		r.Get("/api/instances/{id}/schedule", a.handleSchedule)

		// Pairing & connect
		r.Get("/api/instances/{id}/pair/qr", a.handlePairQR)
		r.Post("/api/instances/{id}/connect", a.handleConnect)

		// Attendances
		r.Get("/api/attendances", a.handleListAttendances)
		r.Post("/api/attendances", a.handleCreateAttendance)
		r.Get("/api/attendances/{id}", a.handleGetAttendance)
		r.Delete("/api/attendances/{id}", a.handleDeleteAttendance)
		r.Patch("/api/attendances/{id}/status", a.handleAttendanceStatus)
		r.Get("/api/attendances/{id}/messages", a.handleAttendanceMessages)
		r.Post("/api/attendances/{id}/messages", a.handleSendAttendanceMessage)
		r.Get("/api/settings/attendance", a.handleGetAttendanceSettings)
		r.Put("/api/settings/attendance", a.handleUpdateAttendanceSettings)

		// Attendants
		r.Get("/api/attendants", a.handleListAttendants)
		r.Post("/api/attendants", a.handleCreateAttendant)
		r.Get("/api/attendants/{id}", a.handleGetAttendant)
		r.Put("/api/attendants/{id}", a.handleUpdateAttendant)
		r.Delete("/api/attendants/{id}", a.handleDeleteAttendant)

		// Contacts
		r.Get("/api/contacts", a.handleListContacts)
		r.Post("/api/contacts", a.handleCreateContact)
		r.Get("/api/contacts/{id}", a.handleGetContact)
		r.Put("/api/contacts/{id}", a.handleUpdateContact)
		r.Delete("/api/contacts/{id}", a.handleDeleteContact)

		// Bots
		r.Get("/api/bots", a.handleListBots)
		r.Post("/api/bots", a.handleCreateBot)
		r.Get("/api/bots/{id}", a.handleGetBot)
		r.Put("/api/bots/{id}", a.handleUpdateBot)
		r.Patch("/api/bots/{id}/toggle", a.handleToggleBot)
		r.Delete("/api/bots/{id}", a.handleDeleteBot)
		r.Post("/api/bots/{id}/test", a.handleTestBot)

		// Metrics
		r.Get("/api/metrics", a.handleMetrics)
		r.Get("/api/metrics/today", a.handleMetricsToday)
		r.Get("/api/metrics/stats", a.handleMetricsStats)

		// Webhook activity
		r.Get("/api/logs", a.handleLogs)
		r.Delete("/api/logs", a.handleClearLogs)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, DeviceToken")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": a.now().Format(time.RFC3339),
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, scheduler.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrAlreadyOpen),
		errors.Is(err, attendance.ErrInvalidTransition),
		errors.Is(err, scheduler.ErrInvalidState),
		errors.Is(err, wa.ErrAlreadyPaired):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrInvalidInput),
		errors.Is(err, attendance.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrNoDevice),
		errors.Is(err, wa.ErrNotPaired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrSendFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeErr(w, code, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
