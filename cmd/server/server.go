package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/retention/actions"
	"github.com/liamcoop/retention/dispatcher"
	"github.com/liamcoop/retention/engine"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/repository"
	"github.com/liamcoop/retention/retention"
	"github.com/liamcoop/retention/rules"
)

// RoleRecordManager is required to change rules and trigger maintenance.
const RoleRecordManager = "RecordManager"

// Request headers identifying the caller.
const (
	headerPrincipal = "X-Principal"
	headerRoles     = "X-Roles"
)

// Server is the admin HTTP API.
type Server struct {
	app    *App
	router *chi.Mux
	// base outlives requests; bundles are dispatched with it after the
	// response has been written.
	base context.Context
}

// NewServer creates the router over app.
func NewServer(base context.Context, app *App) *Server {
	s := &Server{app: app, base: base}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	if s.app.metrics != nil {
		r.Method(http.MethodGet, s.app.cfg.Metrics.Path, s.app.metrics.Handler())
	}

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.With(requireRole(RoleRecordManager)).Post("/", s.handleCreateRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Group(func(r chi.Router) {
				r.Use(requireRole(RoleRecordManager))
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/enable", s.handleSetEnabled(true))
				r.Post("/disable", s.handleSetEnabled(false))
			})
		})
	})

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Use(s.bundle)
		r.Post("/", s.handleCreateDocument)

		r.Route("/{docId}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Delete("/", s.handleDeleteDocument)
			r.Post("/move", s.handleMoveDocument)
			r.Post("/retention", s.handleAttach)
			r.Post("/retention/auto", s.handleApplyAutoRules)
			r.Get("/record", s.handleGetRecord)
			r.With(requireRole(RoleRecordManager)).Post("/record/finalize", s.handleFinalize)
		})
	})

	r.Post("/api/v1/bundles", s.handleIngestBundle)

	r.Route("/api/v1/events", func(r chi.Router) {
		r.Get("/accepted", s.handleAcceptedEvents)
		r.With(requireRole(RoleRecordManager)).Post("/accepted/invalidate", s.handleInvalidateEvents)
	})

	r.With(requireRole(RoleRecordManager)).Post("/api/v1/sweep", s.handleSweep)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// bundle treats every request as one transaction: the notifications its
// repository writes produce are dispatched once the handler returns.
func (s *Server) bundle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, take := dispatcher.WithBundle(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		notes := take()
		if len(notes) == 0 {
			return
		}
		if err := s.app.dispatcher.HandleBundle(s.base, notes); err != nil {
			logger.Error(s.app.log, "failed to dispatch bundle",
				"request_id", middleware.GetReqID(r.Context()), "notifications", len(notes), "error", err)
		}
	})
}

func requestLogger(next http.Handler) http.Handler {
	log := logger.For("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.HTTPStatus(status)
		log.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// sessionFrom reads the caller identity from the request headers.
func sessionFrom(r *http.Request) actions.Session {
	principal := r.Header.Get(headerPrincipal)
	if principal == "" {
		principal = "anonymous"
	}
	var roles []string
	for _, role := range strings.Split(r.Header.Get(headerRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return actions.Session{Principal: principal, Roles: roles}
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(sessionFrom(r).Roles, role) {
				respondError(w, http.StatusForbidden, "role "+role+" required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var actionErr *actions.ActionError
	switch {
	case errors.Is(err, retention.ErrRuleDisabled), errors.Is(err, retention.ErrAlreadyRecord):
		return http.StatusConflict
	case retention.IsConfigError(err), errors.Is(err, rules.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, rules.ErrNotFound), errors.Is(err, repository.ErrNotFound), errors.Is(err, engine.ErrNotRecord):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrExists), errors.Is(err, repository.ErrUnderRetention), errors.Is(err, repository.ErrLockState):
		return http.StatusConflict
	case errors.As(err, &actionErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondErr derives the status from err.
func respondErr(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
