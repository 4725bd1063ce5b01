// Package stats computes the dashboard snapshot: queue depths, in-progress
// count, and rolling success-rate windows over the result keyspace.
package stats

import (
	"context"
	"log"
	"time"

	"arq-dashboard/internal/arqerrors"
	"arq-dashboard/internal/decode"
	"arq-dashboard/internal/jobs"
	"arq-dashboard/internal/keyspace"
	"arq-dashboard/internal/models"
	"arq-dashboard/internal/repo"
	"arq-dashboard/internal/telemetry"
)

// Aggregator runs the one full result-space scan the core permits itself.
type Aggregator struct {
	acc  *keyspace.Accessor
	dec  *decode.Decoder
	repo *repo.Repository
	keys repo.Keys
}

// New constructs an aggregator sharing the repository's key layout.
func New(acc *keyspace.Accessor, dec *decode.Decoder, r *repo.Repository, keys repo.Keys) *Aggregator {
	return &Aggregator{acc: acc, dec: dec, repo: r, keys: keys}
}

// ComputeStats builds a point-in-time snapshot. Individual result records
// that fail to decode are skipped; a transport failure aborts the whole
// computation and the caller receives a structurally valid zeroed snapshot.
func (a *Aggregator) ComputeStats(ctx context.Context) models.DashboardStats {
	snapshot, err := a.Snapshot(ctx)
	if err != nil {
		log.Printf("stats: aborting scan: %v", err)
		return Zero()
	}
	return snapshot
}

// Snapshot is ComputeStats without the zeroed fallback: callers that can
// report a failed recomputation (the event stream) get the error instead.
func (a *Aggregator) Snapshot(ctx context.Context) (models.DashboardStats, error) {
	start := time.Now()
	defer func() {
		telemetry.StatsScanSeconds.Observe(time.Since(start).Seconds())
	}()
	return a.compute(ctx)
}

func (a *Aggregator) compute(ctx context.Context) (models.DashboardStats, error) {
	queues, err := a.repo.Queues(ctx)
	if err != nil {
		return models.DashboardStats{}, err
	}

	perQueue := make([]models.QueueStats, 0, len(queues))
	queueIndex := make(map[string]int, len(queues))
	var totalQueued int64
	for _, q := range queues {
		depth, err := a.acc.Depth(ctx, a.keys.Queue(q))
		if err != nil {
			return models.DashboardStats{}, err
		}
		totalQueued += depth
		queueIndex[q] = len(perQueue)
		perQueue = append(perQueue, models.QueueStats{Name: q, Depth: depth})
	}

	inProgress, err := a.acc.HashSize(ctx, a.keys.InProgress())
	if err != nil {
		return models.DashboardStats{}, err
	}

	now := time.Now()
	hourAgo := now.Add(-time.Hour).UnixMilli()
	dayAgo := now.Add(-24 * time.Hour).UnixMilli()

	var completed, failed int64
	var completedHour, failedHour, completedDay, failedDay int64

	err = a.acc.ScanKeys(ctx, a.keys.ResultPattern(), 0, func(key string) error {
		data, err := a.acc.RawBytes(ctx, key)
		if err != nil {
			if arqerrors.IsTransport(err) {
				return err
			}
			return nil // record-scoped failure, skip
		}
		if data == nil {
			return nil
		}
		fields, err := a.dec.Decode(ctx, data)
		if err != nil {
			return nil // undecodable record, skip
		}
		raw := jobs.Reconcile(fields)

		var finishedAt int64
		if raw.FinishTime != nil {
			finishedAt = int64(*raw.FinishTime * 1000)
		}
		isFailed := raw.Success != nil && !*raw.Success

		if isFailed {
			failed++
			if finishedAt > hourAgo {
				failedHour++
			}
			if finishedAt > dayAgo {
				failedDay++
			}
		} else {
			completed++
			if finishedAt > hourAgo {
				completedHour++
			}
			if finishedAt > dayAgo {
				completedDay++
			}
		}

		if idx, ok := queueIndex[raw.Queue]; ok {
			if isFailed {
				perQueue[idx].Failed++
			} else {
				perQueue[idx].Completed++
			}
		}
		return nil
	})
	if err != nil {
		return models.DashboardStats{}, err
	}

	return models.DashboardStats{
		Queued:     totalQueued,
		InProgress: inProgress,
		Complete:   completed,
		Failed:     failed,
		Total:      totalQueued + inProgress + completed + failed,
		SuccessRate: models.SuccessRate{
			Hour: rate(completedHour, failedHour),
			Day:  rate(completedDay, failedDay),
		},
		Queues:      perQueue,
		LastUpdated: now.UTC(),
	}, nil
}

// rate is the completed share of a window as a percentage, 100 by
// convention for an empty window.
func rate(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return 100
	}
	return float64(completed) / float64(total) * 100
}

// Zero is the defaulted snapshot returned when aggregation cannot proceed.
func Zero() models.DashboardStats {
	return models.DashboardStats{
		SuccessRate: models.SuccessRate{Hour: 100, Day: 100},
		Queues:      []models.QueueStats{},
		LastUpdated: time.Now().UTC(),
	}
}
