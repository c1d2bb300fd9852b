// Package api exposes the coordination engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/lifecycle"
	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/metrics/usage"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/monitoring"
)

const maxBodyBytes = 1 << 20

// Options configures the router.
type Options struct {
	// Token, when set, is required as a bearer token on every /api route.
	Token string
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
	// Usage backs the daily usage endpoint. Nil disables it.
	Usage usage.Store
	// Gatherer is exposed on /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

// Response is the body of every /api reply.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type server struct {
	eng   *engine.Engine
	usage usage.Store
	log   logger.Logger
}

// NewRouter builds the HTTP routes of the engine.
func NewRouter(eng *engine.Engine, opts Options) *mux.Router {
	if opts.Logger == nil {
		opts.Logger = logger.Nop{}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &server{eng: eng, usage: opts.Usage, log: opts.Logger}

	r := mux.NewRouter()
	r.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{"status": "healthy", "timestamp": time.Now().Unix()}})
	})).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(handlers.CORS(
			handlers.AllowedOrigins(opts.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Actor", "X-Event-ID"}),
		))
		r.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodOptions)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(bearerAuth(opts.Token), maxBody)

	api.Handle("/requests", http.HandlerFunc(s.submitRequest)).Methods(http.MethodPost)
	api.Handle("/requests/{id}", http.HandlerFunc(s.getRequest)).Methods(http.MethodGet)
	api.Handle("/requests/{id}/cancel", http.HandlerFunc(s.cancelRequest)).Methods(http.MethodPost)
	api.Handle("/queue", http.HandlerFunc(s.queue)).Methods(http.MethodGet)
	api.Handle("/queue/rescore", http.HandlerFunc(s.rescore)).Methods(http.MethodPost)

	api.Handle("/tasks", http.HandlerFunc(s.listTasks)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}", http.HandlerFunc(s.getTask)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}/candidates", http.HandlerFunc(s.candidates)).Methods(http.MethodGet)
	api.Handle("/tasks/{id}/assign", http.HandlerFunc(s.assignTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/start", http.HandlerFunc(s.startTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/progress", http.HandlerFunc(s.reportProgress)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/review", http.HandlerFunc(s.submitForReview)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/complete", http.HandlerFunc(s.completeTask)).Methods(http.MethodPost)
	api.Handle("/tasks/{id}/cancel", http.HandlerFunc(s.cancelTask)).Methods(http.MethodPost)

	api.Handle("/responders", http.HandlerFunc(s.responders)).Methods(http.MethodGet)
	api.Handle("/responders/{id}", http.HandlerFunc(s.upsertResponder)).Methods(http.MethodPut)

	api.Handle("/resources", http.HandlerFunc(s.resources)).Methods(http.MethodGet)
	api.Handle("/resources", http.HandlerFunc(s.registerResource)).Methods(http.MethodPost)
	api.Handle("/resources/{id}", http.HandlerFunc(s.resource)).Methods(http.MethodGet)
	api.Handle("/resources/{id}/replenish", http.HandlerFunc(s.replenish)).Methods(http.MethodPost)
	api.Handle("/resources/{id}/usage", http.HandlerFunc(s.resourceUsage)).Methods(http.MethodGet)
	api.Handle("/consumption", http.HandlerFunc(s.consumption)).Methods(http.MethodGet)

	api.Handle("/audit", http.HandlerFunc(s.auditLog)).Methods(http.MethodGet)
	api.Handle("/stats", http.HandlerFunc(s.stats)).Methods(http.MethodGet)
	return r
}

func bearerAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeJSON(w, http.StatusUnauthorized, Response{Message: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func maxBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

// fail maps an engine error kind to an HTTP status. Errors of unknown kind
// are reported to monitoring.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		monitoring.Report(err, map[string]string{"module": "api", "route": routeName(r)})
		s.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, Response{Message: err.Error(), ErrorKind: model.KindName(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnknownReservation):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrCapacity), errors.Is(err, model.ErrContention):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientStock), errors.Is(err, model.ErrResourceUnavailable),
		errors.Is(err, model.ErrNoEligibleCandidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func routeName(r *http.Request) string {
	if rt := mux.CurrentRoute(r); rt != nil {
		if tpl, err := rt.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.Errorf(model.ErrInvalidInput, "decode body", "%v", err)
	}
	return nil
}

// meta builds the transition metadata from the X-Event-ID and X-Actor
// headers.
func meta(r *http.Request) lifecycle.Meta {
	return lifecycle.Meta{EventID: r.Header.Get("X-Event-ID"), Actor: r.Header.Get("X-Actor")}
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, model.Errorf(model.ErrInvalidInput, "query", "%s must be RFC3339", key)
	}
	return t, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, model.Errorf(model.ErrInvalidInput, "query", "%s must be a number", key)
	}
	return f, nil
}
