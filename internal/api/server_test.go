package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"arq-dashboard/internal/config"
	"arq-dashboard/internal/decode"
	"arq-dashboard/internal/keyspace"
	"arq-dashboard/internal/models"
	"arq-dashboard/internal/repo"
	"arq-dashboard/internal/stats"
	"arq-dashboard/internal/workers"
)

func newServer(t *testing.T) (*Server, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Config{
		RedisAddr:       mr.Addr(),
		DefaultPageSize: 50,
		SSEPollInterval: time.Hour, // ticks never fire in tests
	}
	acc := keyspace.New(client, 100)
	dec := decode.NewDecoder(nil)
	keys := repo.Keys{Prefix: "arq:", DefaultQueue: "default"}
	r := repo.New(acc, dec, keys, 1000)
	agg := stats.New(acc, dec, r, keys)
	reg := workers.New(acc, "arq:", time.Minute)
	return New(cfg, r, agg, reg, acc), mr
}

func seedJob(t *testing.T, mr *miniredis.Miniredis, id string, et float64) {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"function":     "send_email",
		"enqueue_time": et,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mr.ZAdd("arq:queue", et, id)
	mr.Set("arq:job:"+id, string(b))
}

func TestListJobsEndpoint(t *testing.T) {
	srv, mr := newServer(t)
	seedJob(t, mr, "j1", 1700000000)
	seedJob(t, mr, "j2", 1700000100)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?sort=enqueuedAt&dir=desc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		models.JobListResponse
		Queues []string `json:"queues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Total != 2 || len(payload.Jobs) != 2 {
		t.Fatalf("payload = %+v", payload.JobListResponse)
	}
	if payload.Jobs[0].ID != "j2" {
		t.Fatalf("first job = %s, want newest", payload.Jobs[0].ID)
	}
	if len(payload.Queues) != 1 || payload.Queues[0] != "default" {
		t.Fatalf("queues = %v", payload.Queues)
	}
}

func TestJobDetailsNotFound(t *testing.T) {
	srv, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("404 body must carry an error message")
	}
}

func TestJobDetailsFound(t *testing.T) {
	srv, mr := newServer(t)
	seedJob(t, mr, "j1", 1700000000)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/j1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var job models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.ID != "j1" || job.Status != models.StatusQueued {
		t.Fatalf("job = %+v", job)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, mr := newServer(t)
	seedJob(t, mr, "j1", 1700000000)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snapshot models.DashboardStats
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snapshot.Queued != 1 {
		t.Fatalf("queued = %d, want 1", snapshot.Queued)
	}
	if snapshot.SuccessRate.Hour != 100 {
		t.Fatalf("hourly rate = %v, want 100", snapshot.SuccessRate.Hour)
	}
}

func TestWorkersEndpoint(t *testing.T) {
	srv, mr := newServer(t)
	hb, _ := json.Marshal(map[string]any{
		"hostname":  "host-1",
		"pid":       1,
		"timestamp": float64(time.Now().Unix()),
	})
	mr.Set("arq:health-check:w1", string(hb))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Workers []models.Worker `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Workers) != 1 || payload.Workers[0].ID != "w1" {
		t.Fatalf("workers = %+v", payload.Workers)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string             `json:"status"`
		Redis  models.RedisStatus `json:"redis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || !body.Redis.Connected {
		t.Fatalf("health body = %+v", body)
	}
}

func TestEventsStreamSendsConnectionAndStats(t *testing.T) {
	srv, _ := newServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(events) != 2 || events[0] != "connection" || events[1] != "stats-update" {
		t.Fatalf("events = %v, want [connection stats-update]", events)
	}
	cancel() // disconnect; the handler's poll loop must stop
}

func TestEventsStreamReportsStatsFailure(t *testing.T) {
	srv, mr := newServer(t)
	mr.Close() // recomputation cannot reach the store
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(events) != 2 || events[0] != "connection" || events[1] != "error" {
		t.Fatalf("events = %v, want [connection error]", events)
	}
}
