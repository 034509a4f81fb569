// Package api exposes the HTTP interface of the vacancy crawler. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a search run, /v1/runs/current and
//     /v1/runs/cancel to observe and stop it.
//   - GET /v1/vacancies, /v1/statistics and /v1/export to read results.
//   - /v1/searches for the saved searches the scheduler sweeps.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/export"
	"github.com/marketscope/vacancy-crawler/internal/metrics"
	"github.com/marketscope/vacancy-crawler/internal/runner"
	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

const (
	defaultVacancyLimit = 100
	maxVacancyLimit     = 1000
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	queryTimeout        = 10 * time.Second
)

// RunController starts, observes and cancels search runs.
type RunController interface {
	Run(ctx context.Context, req scrape.SearchRequest) (runner.Summary, error)
	Start(req scrape.SearchRequest) error
	Snapshot() (runner.Status, bool)
	Cancel() bool
}

// VacancyStore is the persistence surface the handlers need.
type VacancyStore interface {
	Query(ctx context.Context, f store.Filter) ([]scrape.Vacancy, error)
	Statistics(ctx context.Context, f store.Filter) (store.Statistics, error)
	SearchHistory(ctx context.Context, limit int) ([]store.SearchRecord, error)
	SaveSearch(ctx context.Context, search store.SavedSearch) error
	SavedSearches(ctx context.Context) ([]store.SavedSearch, error)
	DeleteSavedSearch(ctx context.Context, id int64) error
	DeleteVacancy(ctx context.Context, link string) error
	Clear(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the runner and store.
type Server struct {
	router chi.Router
	runs   RunController
	store  VacancyStore
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs RunController, st VacancyStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:   runs,
		store:  st,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/current", s.currentRun)
			r.Post("/cancel", s.cancelRun)
		})
		r.Route("/vacancies", func(r chi.Router) {
			r.Get("/", s.listVacancies)
			r.Delete("/", s.deleteVacancy)
			r.Post("/clear", s.clearVacancies)
		})
		r.Get("/statistics", s.statistics)
		r.Get("/export", s.exportVacancies)
		r.Get("/history", s.history)
		r.Route("/searches", func(r chi.Router) {
			r.Get("/", s.listSavedSearches)
			r.Post("/", s.saveSearch)
			r.Delete("/{id}", s.deleteSavedSearch)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	Keyword    string `json:"keyword"`
	Location   string `json:"location"`
	Experience string `json:"experience"`
	PageLimit  int    `json:"page_limit"`
	Reimport   bool   `json:"reimport"`
}

// startRun handles POST /v1/runs. By default the run executes in the
// background and 202 is returned immediately; with ?wait=true the handler
// blocks and returns the run summary. A concurrent run yields 409.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Keyword) == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	exp := scrape.Experience(req.Experience)
	if !exp.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown experience %q", req.Experience))
		return
	}
	search := scrape.SearchRequest{
		Keyword:    strings.TrimSpace(req.Keyword),
		Location:   strings.TrimSpace(req.Location),
		Experience: exp,
		PageLimit:  req.PageLimit,
		Reimport:   req.Reimport,
	}

	if r.URL.Query().Get("wait") == "true" {
		sum, err := s.runs.Run(r.Context(), search)
		if errors.Is(err, runner.ErrBusy) {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		if err != nil {
			s.logger.Error("run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": sum})
		return
	}

	// Start claims the run slot synchronously, so the 202 is only sent for
	// a run that is actually underway.
	if err := s.runs.Start(search); err != nil {
		if errors.Is(err, runner.ErrBusy) {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"keyword": search.Keyword,
	})
}

func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	status, ok := s.runs.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no active run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": status})
}

func (s *Server) cancelRun(w http.ResponseWriter, _ *http.Request) {
	if !s.runs.Cancel() {
		writeError(w, http.StatusNotFound, "no active run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) listVacancies(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, defaultVacancyLimit, maxVacancyLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	vacancies, err := s.store.Query(ctx, filter)
	if err != nil {
		s.logger.Error("list vacancies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list vacancies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vacancies": vacancies,
		"count":     len(vacancies),
	})
}

func (s *Server) deleteVacancy(w http.ResponseWriter, r *http.Request) {
	link := strings.TrimSpace(r.URL.Query().Get("link"))
	if link == "" {
		writeError(w, http.StatusBadRequest, "link query parameter is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if err := s.store.DeleteVacancy(ctx, link); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "vacancy not found")
			return
		}
		s.logger.Error("delete vacancy failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete vacancy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearVacancies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	n, err := s.store.Clear(ctx)
	if err != nil {
		s.logger.Error("clear vacancies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear vacancies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	stats, err := s.store.Statistics(ctx, filter)
	if err != nil {
		s.logger.Error("statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) exportVacancies(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseFilter(r, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	vacancies, err := s.store.Query(ctx, filter)
	if err != nil {
		s.logger.Error("export query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load vacancies")
		return
	}

	filename := fmt.Sprintf("vacancies-%s.%s", time.Now().UTC().Format("20060102-150405"), format.Ext())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.Write(w, format, vacancies); err != nil {
		// Headers are already out; all we can do is log.
		s.logger.Error("export write failed", zap.Error(err))
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	records, err := s.store.SearchHistory(ctx, limit)
	if err != nil {
		s.logger.Error("history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"searches": records})
}

type savedSearchRequest struct {
	Keyword    string `json:"keyword"`
	Location   string `json:"location"`
	Experience string `json:"experience"`
}

func (s *Server) saveSearch(w http.ResponseWriter, r *http.Request) {
	var req savedSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Keyword) == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	exp := scrape.Experience(req.Experience)
	if !exp.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown experience %q", req.Experience))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if err := s.store.SaveSearch(ctx, store.SavedSearch{
		Keyword:    strings.TrimSpace(req.Keyword),
		Location:   strings.TrimSpace(req.Location),
		Experience: exp,
	}); err != nil {
		s.logger.Error("save search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save search")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

func (s *Server) listSavedSearches(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	searches, err := s.store.SavedSearches(ctx)
	if err != nil {
		s.logger.Error("list saved searches failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list saved searches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"searches": searches})
}

func (s *Server) deleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid search id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if err := s.store.DeleteSavedSearch(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "saved search not found")
			return
		}
		s.logger.Error("delete saved search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete saved search")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseFilter reads the shared vacancy filter query parameters. A zero
// defaultLimit disables pagination parsing.
func parseFilter(r *http.Request, defaultLimit, maxLimit int) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Keyword:  strings.TrimSpace(q.Get("keyword")),
		Location: strings.TrimSpace(q.Get("location")),
	}
	exp := scrape.Experience(q.Get("experience"))
	if !exp.Valid() {
		return store.Filter{}, fmt.Errorf("unknown experience %q", q.Get("experience"))
	}
	f.Experience = exp
	if raw := q.Get("remote"); raw != "" {
		remote, err := strconv.ParseBool(raw)
		if err != nil {
			return store.Filter{}, fmt.Errorf("invalid remote flag %q", raw)
		}
		f.RemoteOnly = remote
	}
	if defaultLimit <= 0 {
		return f, nil
	}
	f.Limit = defaultLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxLimit {
			return store.Filter{}, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
		f.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return store.Filter{}, fmt.Errorf("offset must be >= 0")
		}
		f.Offset = offset
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
