package models

import (
	"time"
)

// JobStatus enumerates the lifecycle states reconstructed from the keyspace.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in-progress"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// AllStatuses is the default status set for queries.
var AllStatuses = []JobStatus{StatusQueued, StatusInProgress, StatusComplete, StatusFailed}

// RawJobRecord is a decoded job blob before domain mapping. Times are epoch
// seconds as the producing runtime stores them; optional fields are nil when
// the record did not carry them.
type RawJobRecord struct {
	ID          string
	Function    string
	Queue       string
	Args        []any
	Kwargs      map[string]any
	EnqueueTime float64
	StartTime   *float64
	FinishTime  *float64
	Result      any
	Success     *bool
	Error       string
	Traceback   string
	Retry       int
	Expires     *float64
}

// Job is the domain entity surfaced to callers. Duration is milliseconds.
type Job struct {
	ID          string         `json:"id"`
	Function    string         `json:"function"`
	Queue       string         `json:"queue"`
	Status      JobStatus      `json:"status"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Duration    *int64         `json:"duration,omitempty"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StackTrace  string         `json:"stackTrace,omitempty"`
	RetryCount  int            `json:"retryCount"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
}

// QueueStats carries per-queue counters for one observation window.
type QueueStats struct {
	Name       string `json:"name"`
	Depth      int64  `json:"depth"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
}

// SuccessRate holds rolling-window success percentages.
type SuccessRate struct {
	Hour float64 `json:"hour"`
	Day  float64 `json:"day"`
}

// DashboardStats is the aggregate snapshot produced by the stats scan.
type DashboardStats struct {
	Queued      int64        `json:"queued"`
	InProgress  int64        `json:"inProgress"`
	Complete    int64        `json:"complete"`
	Failed      int64        `json:"failed"`
	Total       int64        `json:"total"`
	SuccessRate SuccessRate  `json:"successRate"`
	Queues      []QueueStats `json:"queues"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// Worker describes one heartbeating worker process.
type Worker struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Queues        []string  `json:"queues"`
	CurrentJob    string    `json:"currentJob,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	StartedAt     time.Time `json:"startedAt"`
	JobsProcessed int64     `json:"jobsProcessed"`
	IsStale       bool      `json:"isStale"`
}

// JobFilters narrows a job query. Zero values mean "no filter".
type JobFilters struct {
	Statuses  []JobStatus
	Queue     string
	Function  string
	Search    string
	StartDate *time.Time
	EndDate   *time.Time
}

// SortField names a sortable Job attribute.
type SortField string

const (
	SortByID         SortField = "id"
	SortByFunction   SortField = "function"
	SortByQueue      SortField = "queue"
	SortByStatus     SortField = "status"
	SortByEnqueuedAt SortField = "enqueuedAt"
	SortByDuration   SortField = "duration"
)

// JobSort is a sort request over one field.
type JobSort struct {
	Field      SortField
	Descending bool
}

// JobListResponse is one page of query results.
type JobListResponse struct {
	Jobs     []Job `json:"jobs"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	HasMore  bool  `json:"hasMore"`
}

// RedisStatus reports connection health for the dashboard.
type RedisStatus struct {
	Connected bool   `json:"connected"`
	Addr      string `json:"addr"`
	LatencyMS int64  `json:"latency,omitempty"`
	Error     string `json:"error,omitempty"`
}
