// Package workers derives worker liveness from heartbeat keys.
package workers

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"arq-dashboard/internal/keyspace"
	"arq-dashboard/internal/models"
)

// Registry reads heartbeat records. Heartbeats are always JSON text; the
// binary decode chain never applies here.
type Registry struct {
	acc        *keyspace.Accessor
	prefix     string
	staleAfter time.Duration
}

// New constructs a registry. staleAfter <= 0 falls back to one minute.
func New(acc *keyspace.Accessor, prefix string, staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &Registry{acc: acc, prefix: prefix, staleAfter: staleAfter}
}

type heartbeat struct {
	Hostname      string   `json:"hostname"`
	PID           int      `json:"pid"`
	Queues        []string `json:"queues"`
	CurrentJob    string   `json:"current_job"`
	Timestamp     float64  `json:"timestamp"`
	StartTime     float64  `json:"start_time"`
	JobsProcessed int64    `json:"jobs_processed"`
}

// ListWorkers scans the heartbeat namespace. Records that fail to parse are
// skipped; only a scan-level transport failure aborts the listing.
func (r *Registry) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	pattern := r.prefix + "health-check:*"
	now := time.Now()

	out := []models.Worker{}
	err := r.acc.ScanKeys(ctx, pattern, 0, func(key string) error {
		data, err := r.acc.RawBytes(ctx, key)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}

		var hb heartbeat
		if err := json.Unmarshal(data, &hb); err != nil {
			return nil // invalid heartbeat, skip
		}

		workerID := strings.TrimPrefix(key, r.prefix+"health-check:")
		hostname := hb.Hostname
		if hostname == "" {
			hostname = strings.SplitN(workerID, ":", 2)[0]
		}
		queues := hb.Queues
		if len(queues) == 0 {
			queues = []string{"default"}
		}

		last := time.UnixMilli(int64(hb.Timestamp * 1000)).UTC()
		out = append(out, models.Worker{
			ID:            workerID,
			Hostname:      hostname,
			PID:           hb.PID,
			Queues:        queues,
			CurrentJob:    hb.CurrentJob,
			LastHeartbeat: last,
			StartedAt:     time.UnixMilli(int64(hb.StartTime * 1000)).UTC(),
			JobsProcessed: hb.JobsProcessed,
			IsStale:       now.Sub(last) > r.staleAfter,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
