package jobs

import (
	"reflect"
	"testing"
	"time"

	"arq-dashboard/internal/models"
)

func TestReconcileFullNamesAndAliasesAgree(t *testing.T) {
	full := map[string]any{
		"function":     "send_email",
		"queue":        "mail",
		"args":         []any{"a", float64(1)},
		"kwargs":       map[string]any{"to": "x@example.com"},
		"enqueue_time": float64(1700000000),
		"start_time":   float64(1700000010),
		"finish_time":  float64(1700000020),
		"success":      true,
		"result":       "ok",
		"error":        "",
		"retry":        float64(2),
	}
	aliased := map[string]any{
		"f":  "send_email",
		"q":  "mail",
		"a":  []any{"a", float64(1)},
		"kw": map[string]any{"to": "x@example.com"},
		"et": float64(1700000000),
		"st": float64(1700000010),
		"ft": float64(1700000020),
		"s":  true,
		"r":  "ok",
		"e":  "",
		"t":  float64(2),
	}

	a := Materialize(Reconcile(full), models.StatusComplete)
	b := Materialize(Reconcile(aliased), models.StatusComplete)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("full-name job != aliased job:\n%#v\n%#v", a, b)
	}
}

func TestReconcileDefaults(t *testing.T) {
	raw := Reconcile(map[string]any{})
	if raw.Function != "" {
		t.Fatalf("function default = %q, want empty", raw.Function)
	}
	if raw.Queue != "default" {
		t.Fatalf("queue default = %q, want default", raw.Queue)
	}
	if raw.Args == nil || len(raw.Args) != 0 {
		t.Fatalf("args default = %v, want empty slice", raw.Args)
	}
	if raw.Kwargs == nil || len(raw.Kwargs) != 0 {
		t.Fatalf("kwargs default = %v, want empty map", raw.Kwargs)
	}
	if raw.Retry != 0 {
		t.Fatalf("retry default = %d, want 0", raw.Retry)
	}
	if raw.StartTime != nil || raw.FinishTime != nil || raw.Success != nil || raw.Expires != nil {
		t.Fatal("optional fields must stay absent")
	}
	now := float64(time.Now().Unix())
	if raw.EnqueueTime < now-5 || raw.EnqueueTime > now+5 {
		t.Fatalf("enqueue_time default = %v, want ~now", raw.EnqueueTime)
	}
}

func TestReconcileSynthesizesStableID(t *testing.T) {
	fields := map[string]any{
		"function":     "cleanup",
		"enqueue_time": float64(1700000000),
	}
	a := Reconcile(fields)
	b := Reconcile(fields)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("synthesized ids differ: %q vs %q", a.ID, b.ID)
	}
	if a.ID != "cleanup:1700000000" {
		t.Fatalf("synthesized id = %q", a.ID)
	}
}

func TestReconcileWrongShapesFallBack(t *testing.T) {
	raw := Reconcile(map[string]any{
		"function": 42,
		"args":     "not a list",
		"kwargs":   []any{"not", "a", "map"},
		"retry":    "three",
	})
	if raw.Function != "" {
		t.Fatalf("function = %q, want default", raw.Function)
	}
	if len(raw.Args) != 0 || len(raw.Kwargs) != 0 || raw.Retry != 0 {
		t.Fatalf("wrong shapes not defaulted: %+v", raw)
	}
}

func TestMaterializeDuration(t *testing.T) {
	start := float64(1700000000)
	finish := start + 0.5

	raw := models.RawJobRecord{ID: "j1", EnqueueTime: start, StartTime: &start, FinishTime: &finish}
	job := Materialize(raw, models.StatusComplete)
	if job.Duration == nil || *job.Duration != 500 {
		t.Fatalf("duration = %v, want 500", job.Duration)
	}

	raw = models.RawJobRecord{ID: "j2", EnqueueTime: start, StartTime: &start}
	startWall := time.Now()
	job = Materialize(raw, models.StatusInProgress)
	if job.Duration == nil {
		t.Fatal("in-progress duration must be live")
	}
	want := startWall.UnixMilli() - int64(start*1000)
	if diff := *job.Duration - want; diff < -1000 || diff > 1000 {
		t.Fatalf("live duration = %d, want ~%d", *job.Duration, want)
	}

	raw = models.RawJobRecord{ID: "j3", EnqueueTime: start}
	job = Materialize(raw, models.StatusQueued)
	if job.Duration != nil {
		t.Fatalf("duration = %v, want absent without start time", job.Duration)
	}
}

func TestMaterializeDoesNotRewriteQueue(t *testing.T) {
	// Queue defaulting belongs to Reconcile; Materialize projects the raw
	// record as-is, including a queue name a caller has overridden.
	raw := models.RawJobRecord{ID: "j1", EnqueueTime: 1700000000, Queue: "mail"}
	if job := Materialize(raw, models.StatusQueued); job.Queue != "mail" {
		t.Fatalf("queue = %q, want mail", job.Queue)
	}
	raw.Queue = ""
	if job := Materialize(raw, models.StatusQueued); job.Queue != "" {
		t.Fatalf("queue = %q, want passthrough of empty", job.Queue)
	}
}

func TestMaterializeTimestamps(t *testing.T) {
	start := float64(1700000010)
	expires := float64(1700000100)
	raw := models.RawJobRecord{
		ID:          "j1",
		EnqueueTime: 1700000000,
		StartTime:   &start,
		Expires:     &expires,
	}
	job := Materialize(raw, models.StatusInProgress)
	if job.EnqueuedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("enqueuedAt = %v", job.EnqueuedAt)
	}
	if job.StartedAt == nil || job.StartedAt.UnixMilli() != 1700000010000 {
		t.Fatalf("startedAt = %v", job.StartedAt)
	}
	if job.CompletedAt != nil {
		t.Fatalf("completedAt = %v, want absent", job.CompletedAt)
	}
	if job.ExpiresAt == nil || job.ExpiresAt.UnixMilli() != 1700000100000 {
		t.Fatalf("expiresAt = %v", job.ExpiresAt)
	}
}
