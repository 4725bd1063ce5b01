package repo

import (
	"context"
	"sort"
	"strings"

	"arq-dashboard/internal/models"
)

// Query builds the union of the job subsets selected by the status filter,
// applies the remaining filters, sorts, and slices one page.
func (r *Repository) Query(ctx context.Context, filters models.JobFilters, s models.JobSort, page, pageSize int) (models.JobListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	statuses := filters.Statuses
	if len(statuses) == 0 {
		statuses = models.AllStatuses
	}

	all := []models.Job{}
	if hasStatus(statuses, models.StatusQueued) {
		queued, err := r.QueuedJobs(ctx, filters.Queue)
		if err != nil {
			return models.JobListResponse{}, err
		}
		all = append(all, queued...)
	}
	if hasStatus(statuses, models.StatusInProgress) {
		running, err := r.InProgressJobs(ctx)
		if err != nil {
			return models.JobListResponse{}, err
		}
		all = append(all, running...)
	}
	if hasStatus(statuses, models.StatusComplete) || hasStatus(statuses, models.StatusFailed) {
		finished, err := r.CompletedJobs(ctx, r.completedMax)
		if err != nil {
			return models.JobListResponse{}, err
		}
		for _, j := range finished {
			if hasStatus(statuses, j.Status) {
				all = append(all, j)
			}
		}
	}

	all = applyFilters(all, filters)
	sortJobs(all, s)

	total := len(all)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return models.JobListResponse{
		Jobs:     all[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  (page-1)*pageSize+pageSize < total,
	}, nil
}

func applyFilters(all []models.Job, filters models.JobFilters) []models.Job {
	out := all[:0]
	for _, j := range all {
		if filters.Queue != "" && j.Queue != filters.Queue {
			continue
		}
		if filters.Function != "" && !containsFold(j.Function, filters.Function) {
			continue
		}
		if filters.Search != "" && !containsFold(j.ID, filters.Search) && !containsFold(j.Function, filters.Search) {
			continue
		}
		if filters.StartDate != nil && j.EnqueuedAt.Before(*filters.StartDate) {
			continue
		}
		if filters.EndDate != nil && j.EnqueuedAt.After(*filters.EndDate) {
			continue
		}
		out = append(out, j)
	}
	return out
}

// sortJobs orders jobs by one field. Jobs with an undefined sort value go
// after defined ones when ascending and before them when descending; ties
// keep their relative order.
func sortJobs(all []models.Job, s models.JobSort) {
	sort.SliceStable(all, func(i, j int) bool {
		return compareJobs(all[i], all[j], s) < 0
	})
}

func compareJobs(a, b models.Job, s models.JobSort) int {
	c, aok, bok := compareField(a, b, s.Field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		if s.Descending {
			return -1
		}
		return 1
	case !bok:
		if s.Descending {
			return 1
		}
		return -1
	}
	if s.Descending {
		return -c
	}
	return c
}

// compareField returns the field ordering plus whether each side has a
// defined value for it. Only duration can be undefined.
func compareField(a, b models.Job, field models.SortField) (cmp int, aok, bok bool) {
	switch field {
	case models.SortByID:
		return compareFold(a.ID, b.ID), true, true
	case models.SortByFunction:
		return compareFold(a.Function, b.Function), true, true
	case models.SortByQueue:
		return compareFold(a.Queue, b.Queue), true, true
	case models.SortByStatus:
		return compareFold(string(a.Status), string(b.Status)), true, true
	case models.SortByDuration:
		if a.Duration == nil || b.Duration == nil {
			return 0, a.Duration != nil, b.Duration != nil
		}
		switch {
		case *a.Duration < *b.Duration:
			return -1, true, true
		case *a.Duration > *b.Duration:
			return 1, true, true
		default:
			return 0, true, true
		}
	default: // enqueuedAt
		am, bm := a.EnqueuedAt.UnixMilli(), b.EnqueuedAt.UnixMilli()
		switch {
		case am < bm:
			return -1, true, true
		case am > bm:
			return 1, true, true
		default:
			return 0, true, true
		}
	}
}

// compareFold orders strings case-insensitively, falling back to a byte
// compare so unequal casings still order deterministically.
func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func hasStatus(statuses []models.JobStatus, status models.JobStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
