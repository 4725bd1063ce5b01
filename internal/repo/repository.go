// Package repo reconstructs job entities from the three disjoint key spaces
// the queue runtime writes: per-queue member sets, the in-progress hash,
// and per-job result keys. All reads are best-effort snapshots; the queue
// mutates underneath and no cross-key atomicity is assumed.
package repo

import (
	"context"
	"errors"
	"sort"
	"strings"

	"arq-dashboard/internal/arqerrors"
	"arq-dashboard/internal/decode"
	"arq-dashboard/internal/jobs"
	"arq-dashboard/internal/keyspace"
	"arq-dashboard/internal/models"
)

// Keys builds the key names and patterns of the observed layout.
type Keys struct {
	Prefix       string
	DefaultQueue string
}

func (k Keys) Queue(name string) string {
	if name == k.DefaultQueue {
		// The unnamed default queue lives at the bare queue key.
		return k.Prefix + "queue"
	}
	return k.Prefix + "queue:" + name
}

func (k Keys) QueuePattern() string    { return k.Prefix + "queue:*" }
func (k Keys) Job(id string) string    { return k.Prefix + "job:" + id }
func (k Keys) Result(id string) string { return k.Prefix + "result:" + id }
func (k Keys) ResultPattern() string   { return k.Prefix + "result:*" }
func (k Keys) ResultID(key string) string {
	return strings.TrimPrefix(key, k.Prefix+"result:")
}
func (k Keys) QueueName(key string) string {
	return strings.TrimPrefix(key, k.Prefix+"queue:")
}
func (k Keys) InProgress() string { return k.Prefix + "in-progress" }

// Repository orchestrates accessor, decoder, reconciler, and materializer.
type Repository struct {
	acc          *keyspace.Accessor
	dec          *decode.Decoder
	keys         Keys
	completedMax int
}

// New constructs a repository. completedMax bounds how many result keys a
// full query is willing to visit.
func New(acc *keyspace.Accessor, dec *decode.Decoder, keys Keys, completedMax int) *Repository {
	if keys.DefaultQueue == "" {
		keys.DefaultQueue = "default"
	}
	if completedMax <= 0 {
		completedMax = 1000
	}
	return &Repository{acc: acc, dec: dec, keys: keys, completedMax: completedMax}
}

// Queues discovers queue names from the keyspace plus the conventional
// default queue, falling back to ["default"] when none exist.
func (r *Repository) Queues(ctx context.Context) ([]string, error) {
	var names []string
	err := r.acc.ScanKeys(ctx, r.keys.QueuePattern(), 0, func(key string) error {
		names = append(names, r.keys.QueueName(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	defaultExists, err := r.acc.Exists(ctx, r.keys.Queue(r.keys.DefaultQueue))
	if err != nil {
		return nil, err
	}
	if defaultExists && !contains(names, r.keys.DefaultQueue) {
		names = append([]string{r.keys.DefaultQueue}, names...)
	}
	if len(names) == 0 {
		names = []string{r.keys.DefaultQueue}
	}
	return names, nil
}

// QueuedJobs lists queued jobs for one queue, or for every discovered queue
// when queue is empty. Queue members are job ids in current producers and
// whole payload blobs in older ones; both are handled. Records that fail to
// decode are skipped.
func (r *Repository) QueuedJobs(ctx context.Context, queue string) ([]models.Job, error) {
	queues := []string{queue}
	if queue == "" {
		var err error
		queues, err = r.Queues(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := []models.Job{}
	for _, q := range queues {
		members, err := r.acc.Members(ctx, r.keys.Queue(q))
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			job, err := r.queuedJob(ctx, q, member)
			if err != nil {
				if arqerrors.IsTransport(err) {
					return nil, err
				}
				continue // record-scoped failure, keep scanning
			}
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *Repository) queuedJob(ctx context.Context, queue, member string) (models.Job, error) {
	fields, err := r.decodeKey(ctx, r.keys.Job(member))
	byID := err == nil
	if err != nil {
		if arqerrors.IsTransport(err) {
			return models.Job{}, err
		}
		if !errors.Is(err, arqerrors.ErrNotFound) {
			return models.Job{}, err
		}
		// No job key for this member; older producers push the payload
		// blob itself.
		fields, err = r.dec.Decode(ctx, []byte(member))
		if err != nil {
			return models.Job{}, &arqerrors.RecordError{Key: r.keys.Queue(queue), Err: err}
		}
	}
	raw := jobs.Reconcile(fields)
	if byID {
		raw.ID = member
	}
	raw.Queue = queue
	return jobs.Materialize(raw, models.StatusQueued), nil
}

// decodeKey fetches and decodes one record key. A missing key surfaces as a
// RecordError wrapping ErrNotFound, an undecodable payload as a RecordError
// wrapping the decode failure; transport errors keep their identity.
func (r *Repository) decodeKey(ctx context.Context, key string) (map[string]any, error) {
	data, err := r.acc.RawBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &arqerrors.RecordError{Key: key, Err: arqerrors.ErrNotFound}
	}
	fields, err := r.dec.Decode(ctx, data)
	if err != nil {
		return nil, &arqerrors.RecordError{Key: key, Err: err}
	}
	return fields, nil
}

// InProgressJobs lists currently executing jobs from the in-progress hash.
func (r *Repository) InProgressJobs(ctx context.Context) ([]models.Job, error) {
	entries, err := r.acc.HashContents(ctx, r.keys.InProgress())
	if err != nil {
		return nil, err
	}
	out := []models.Job{}
	for jobID := range entries {
		fields, err := r.decodeKey(ctx, r.keys.Job(jobID))
		if err != nil {
			if arqerrors.IsTransport(err) {
				return nil, err
			}
			continue // hash entry whose job key is gone or garbled
		}
		raw := jobs.Reconcile(fields)
		raw.ID = jobID
		out = append(out, jobs.Materialize(raw, models.StatusInProgress))
	}
	return out, nil
}

// JobResult fetches a finished job by id, nil when no result key exists. An
// undecodable record comes back as a RecordError so batch callers can skip
// it. Status is failed only when the record's success flag is explicitly
// false.
func (r *Repository) JobResult(ctx context.Context, jobID string) (*models.Job, error) {
	fields, err := r.decodeKey(ctx, r.keys.Result(jobID))
	if err != nil {
		if errors.Is(err, arqerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	raw := jobs.Reconcile(fields)
	raw.ID = jobID
	status := models.StatusComplete
	if raw.Success != nil && !*raw.Success {
		status = models.StatusFailed
	}
	job := jobs.Materialize(raw, status)
	return &job, nil
}

// CompletedJobs scans the result namespace up to limit keys and resolves
// each to a finished job.
func (r *Repository) CompletedJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = r.completedMax
	}
	var keys []string
	err := r.acc.ScanKeys(ctx, r.keys.ResultPattern(), limit, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := []models.Job{}
	for _, key := range keys {
		job, err := r.JobResult(ctx, r.keys.ResultID(key))
		if err != nil {
			if arqerrors.IsTransport(err) {
				return nil, err
			}
			continue // undecodable result record
		}
		if job == nil {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

// JobDetails resolves a job id against all three key spaces: result first
// (the cheap, common case for a terminal job), then the in-progress hash,
// then queue membership. A job in none of them returns ErrNotFound; the
// runtime may have purged or expired it.
func (r *Repository) JobDetails(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := r.JobResult(ctx, jobID)
	if err != nil && arqerrors.IsTransport(err) {
		return nil, err
	}
	if job != nil {
		return job, nil
	}

	_, running, err := r.acc.HashField(ctx, r.keys.InProgress(), jobID)
	if err != nil {
		return nil, err
	}
	if running {
		job, err := r.jobByID(ctx, jobID, "", models.StatusInProgress)
		if err != nil {
			if arqerrors.IsTransport(err) {
				return nil, err
			}
		} else {
			return job, nil
		}
	}

	queues, err := r.Queues(ctx)
	if err != nil {
		return nil, err
	}
	for _, q := range queues {
		key := r.keys.Queue(q)
		found, err := r.acc.ZScore(ctx, key, jobID)
		if err != nil {
			return nil, err
		}
		if !found {
			// List-backed queues have no member index; fall back to a
			// full read.
			members, err := r.acc.Members(ctx, key)
			if err != nil {
				return nil, err
			}
			found = contains(members, jobID)
		}
		if found {
			job, err := r.jobByID(ctx, jobID, q, models.StatusQueued)
			if err != nil {
				if arqerrors.IsTransport(err) {
					return nil, err
				}
				continue
			}
			return job, nil
		}
	}
	return nil, arqerrors.ErrNotFound
}

func (r *Repository) jobByID(ctx context.Context, jobID, queue string, status models.JobStatus) (*models.Job, error) {
	fields, err := r.decodeKey(ctx, r.keys.Job(jobID))
	if err != nil {
		return nil, err
	}
	raw := jobs.Reconcile(fields)
	raw.ID = jobID
	if queue != "" {
		raw.Queue = queue
	}
	job := jobs.Materialize(raw, status)
	return &job, nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
