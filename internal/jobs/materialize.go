package jobs

import (
	"time"

	"arq-dashboard/internal/models"
)

// Materialize converts a canonical raw record plus a known lifecycle status
// into the domain Job. Raw epoch-seconds fields become millisecond instants.
// Duration (ms) is completed-started when both exist, now-started for an
// in-progress job with a start time, and absent otherwise; the in-progress
// branch is a live value, not persisted state.
func Materialize(raw models.RawJobRecord, status models.JobStatus) models.Job {
	enqueuedAt := epochToTime(raw.EnqueueTime)
	startedAt := epochPtrToTime(raw.StartTime)
	completedAt := epochPtrToTime(raw.FinishTime)

	var duration *int64
	switch {
	case startedAt != nil && completedAt != nil:
		d := completedAt.UnixMilli() - startedAt.UnixMilli()
		duration = &d
	case startedAt != nil && status == models.StatusInProgress:
		d := time.Now().UnixMilli() - startedAt.UnixMilli()
		duration = &d
	}

	return models.Job{
		ID:          raw.ID,
		Function:    raw.Function,
		Queue:       raw.Queue,
		Status:      status,
		EnqueuedAt:  enqueuedAt,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    duration,
		Args:        raw.Args,
		Kwargs:      raw.Kwargs,
		Result:      raw.Result,
		Error:       raw.Error,
		StackTrace:  raw.Traceback,
		RetryCount:  raw.Retry,
		ExpiresAt:   epochPtrToTime(raw.Expires),
	}
}

func epochToTime(sec float64) time.Time {
	return time.UnixMilli(int64(sec * 1000)).UTC()
}

func epochPtrToTime(sec *float64) *time.Time {
	if sec == nil {
		return nil
	}
	t := epochToTime(*sec)
	return &t
}
