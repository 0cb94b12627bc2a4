// Package admin serves the local control API: identity callback routes in
// the open, flow control behind basic auth.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/loop"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/pkg/logger"
)

type Flow interface {
	State() flow.State
	Start() error
	Continue(opts models.GenerationOptions) error
	SelectPlan(planID string) error
	CopyPaymentCode() error
	Retry() error
}

type Results interface {
	List(ctx context.Context) ([]models.SavedResultRecord, error)
}

type Plans interface {
	FetchActivePlans(ctx context.Context) ([]models.CreditPlan, error)
}

// Backend reports whether the generation backend answers.
type Backend interface {
	Health(ctx context.Context) error
}

// Routes are mounted without authentication.
type Routes interface {
	Mount(r chi.Router)
}

type Deps struct {
	Flow    Flow
	Results Results
	Plans   Plans
	Backend Backend
	Public  Routes
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	flow     Flow
	results  Results
	plans    Plans
	backend  Backend
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, d Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      logger.OrDiscard(log),
		flow:     d.Flow,
		results:  d.Results,
		plans:    d.Plans,
		backend:  d.Backend,
		router:   r,
	}
	r.Get("/health", s.handleHealth)
	if d.Public != nil {
		d.Public.Mount(r)
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/plans", s.handleListPlans)
		protected.Get("/results", s.handleListResults)
		if s.flow == nil {
			return
		}
		protected.Route("/flow", func(r chi.Router) {
			r.Get("/", s.handleFlowState)
			r.Post("/start", s.handleStart)
			r.Post("/options", s.handleOptions)
			r.Post("/plan", s.handleSelectPlan)
			r.Post("/copy-code", s.handleCopyCode)
			r.Post("/retry", s.handleRetry)
		})
	})
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("control server shutdown error", "err", err)
		}
	}()

	s.log.Info("control server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server listen: %w", err)
	}
	return nil
}

func (s *Server) handleFlowState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, newStateView(s.flow.State()))
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.respondFlow(w, s.flow.Start())
}

type optionsRequest struct {
	JobContextURL  string `json:"job_context_url"`
	OutputLanguage string `json:"output_language"`
	SourceEmphasis string `json:"source_emphasis"`
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	opts := models.GenerationOptions{
		JobContextURL:  req.JobContextURL,
		OutputLanguage: models.Language(strings.ToLower(req.OutputLanguage)),
		SourceEmphasis: models.SourceEmphasis(strings.ToLower(req.SourceEmphasis)),
	}
	s.respondFlow(w, s.flow.Continue(opts))
}

type planRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) handleSelectPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.PlanID) == "" {
		http.Error(w, "plan_id required", http.StatusBadRequest)
		return
	}
	s.respondFlow(w, s.flow.SelectPlan(req.PlanID))
}

func (s *Server) handleCopyCode(w http.ResponseWriter, _ *http.Request) {
	s.respondFlow(w, s.flow.CopyPaymentCode())
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	s.respondFlow(w, s.flow.Retry())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := s.backend.Health(r.Context()); err != nil {
		s.log.Warn("backend health check failed", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "backend": apperr.MessageOf(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": "ok"})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		s.writeJSON(w, http.StatusOK, newPlanViews(nil))
		return
	}
	plans, err := s.plans.FetchActivePlans(r.Context())
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newPlanViews(plans))
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		s.writeJSON(w, http.StatusOK, []models.SavedResultRecord{})
		return
	}
	records, err := s.results.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// respondFlow answers a flow action with the resulting state, or with the
// error mapped onto a status code.
func (s *Server) respondFlow(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, newStateView(s.flow.State()))
	case errors.Is(err, flow.ErrNotAllowed):
		s.writeJSON(w, http.StatusConflict, errorBody(err))
	case errors.Is(err, apperr.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, errorBody(err))
	case errors.Is(err, loop.ErrClosed):
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody(err))
	default:
		s.internalError(w, err)
	}
}

func (s *Server) upstreamError(w http.ResponseWriter, err error) {
	s.log.Warn("upstream request failed", "err", err)
	s.writeJSON(w, http.StatusBadGateway, errorBody(err))
}

func errorBody(err error) map[string]string {
	body := map[string]string{"error": apperr.MessageOf(err)}
	if kind := apperr.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	return body
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || s.password == "" || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="flashgen"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("control handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
