// Package api exposes the adoption service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"adoption-workflow/internal/adoption"
	"adoption-workflow/internal/common/auth"
	apperrors "adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/common/metrics"
	"adoption-workflow/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Deps struct {
	Service *adoption.Service
	Auth    auth.Authenticator
	Logger  logger.Logger
	// Ready reports whether dependencies are reachable; defaults to Service.Ping.
	Ready func(ctx context.Context) error
}

type handler struct {
	svc    *adoption.Service
	errors *apperrors.ErrorHandler
	log    logger.Logger
}

func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Auth == nil {
		deps.Auth = auth.HeaderAuthenticator{}
	}
	if deps.Ready == nil {
		deps.Ready = deps.Service.Ping
	}

	log := deps.Logger.WithFields(map[string]interface{}{"component": "api"})
	h := &handler{
		svc:    deps.Service,
		errors: apperrors.NewErrorHandler(log),
		log:    log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/health", handleHealth)
	r.Get("/ready", h.handleReady(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate(deps.Auth))

		r.Route("/applications", func(r chi.Router) {
			r.Get("/", h.listApplications)
			r.Post("/", h.createDraft)
			r.Post("/submit", h.submitApplication)
			r.Get("/{id}", h.getApplication)
			r.Patch("/{id}", h.saveDraft)
			r.Post("/{id}/submit", h.submitDraft)
			r.Post("/{id}/withdraw", h.withdraw)
			r.Post("/{id}/review", h.review)
			r.Get("/{id}/interviews", h.listInterviews)
			r.Post("/{id}/interviews", h.schedule)
		})

		r.Get("/shelters/{shelterId}/availability", h.availability)

		r.Route("/interviews/{id}", func(r chi.Router) {
			r.Post("/reschedule", h.reschedule)
			r.Post("/cancel", h.cancel)
			r.Post("/status", h.updateStatus)
			r.Post("/respond", h.respond)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.listNotifications)
			r.Post("/{id}/read", h.markRead)
			r.Post("/{id}/dismiss", h.dismiss)
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleReady(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			h.log.Warn("Readiness check failed", map[string]interface{}{"error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (h *handler) authenticate(a auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.Authenticate(r)
			if err != nil {
				h.errors.WriteHTTP(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// caller is always present behind authenticate.
func caller(r *http.Request) models.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewBadRequestError("invalid request body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewBadRequestError(name + " must be an integer")
	}
	return n, nil
}
