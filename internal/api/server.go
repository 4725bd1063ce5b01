// Package api exposes the dashboard's read-only HTTP surface: job queries,
// job details, stats, workers, a server-sent-event stats stream, and
// health/metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"arq-dashboard/internal/arqerrors"
	"arq-dashboard/internal/config"
	"arq-dashboard/internal/models"
	"arq-dashboard/internal/repo"
	"arq-dashboard/internal/stats"
	"arq-dashboard/internal/telemetry"
	"arq-dashboard/internal/workers"
)

// Server wires HTTP handlers for the dashboard API.
type Server struct {
	cfg     config.Config
	repo    *repo.Repository
	stats   *stats.Aggregator
	workers *workers.Registry
	ping    Pinger
}

// Pinger measures store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// New constructs the API server.
func New(cfg config.Config, r *repo.Repository, agg *stats.Aggregator, reg *workers.Registry, ping Pinger) *Server {
	return &Server{cfg: cfg, repo: r, stats: agg, workers: reg, ping: ping}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/api/jobs", s.handleListJobs)
	r.Get("/api/jobs/{id}", s.handleJobDetails)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/workers", s.handleWorkers)
	r.Get("/api/events", s.handleEvents)
	return r
}

type jobListPayload struct {
	models.JobListResponse
	Queues []string `json:"queues"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := models.JobFilters{
		Queue:    q.Get("queue"),
		Function: q.Get("function"),
		Search:   q.Get("search"),
	}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if st, ok := parseStatus(strings.TrimSpace(part)); ok {
				filters.Statuses = append(filters.Statuses, st)
			}
		}
	}
	if t, ok := parseTime(q.Get("from")); ok {
		filters.StartDate = &t
	}
	if t, ok := parseTime(q.Get("to")); ok {
		filters.EndDate = &t
	}

	sortReq := models.JobSort{
		Field:      parseSortField(q.Get("sort")),
		Descending: q.Get("dir") != "asc",
	}
	page := parseIntDefault(q.Get("page"), 1)
	pageSize := parseIntDefault(q.Get("pageSize"), s.cfg.DefaultPageSize)

	resp, err := s.repo.Query(r.Context(), filters, sortReq, page, pageSize)
	if err != nil {
		log.Printf("api: job query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch jobs")
		return
	}
	queues, err := s.repo.Queues(r.Context())
	if err != nil {
		log.Printf("api: queue discovery failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch jobs")
		return
	}
	writeJSON(w, http.StatusOK, jobListPayload{JobListResponse: resp, Queues: queues})
}

func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.repo.JobDetails(r.Context(), id)
	if errors.Is(err, arqerrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("api: job details failed for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.ComputeStats(r.Context()))
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	list, err := s.workers.ListWorkers(r.Context())
	if err != nil {
		log.Printf("api: worker listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch workers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": list})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := models.RedisStatus{Addr: s.cfg.RedisAddr}
	if s.cfg.RedisURL != "" {
		status.Addr = s.cfg.RedisURL
	}
	if latency, err := s.ping.Ping(r.Context()); err != nil {
		status.Error = "redis unreachable"
	} else {
		status.Connected = true
		status.LatencyMS = latency.Milliseconds()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "redis": status})
}

func parseStatus(v string) (models.JobStatus, bool) {
	switch models.JobStatus(v) {
	case models.StatusQueued, models.StatusInProgress, models.StatusComplete, models.StatusFailed:
		return models.JobStatus(v), true
	}
	return "", false
}

func parseSortField(v string) models.SortField {
	switch models.SortField(v) {
	case models.SortByID, models.SortByFunction, models.SortByQueue, models.SortByStatus, models.SortByDuration:
		return models.SortField(v)
	default:
		return models.SortByEnqueuedAt
	}
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
