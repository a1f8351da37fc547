package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"finsync/internal/domain/dashboard"
)

// RefreshJob syncs one user's items against the provider and rebuilds their
// dashboard payload, warming the cache so the next read is fresh.
type RefreshJob struct {
	userID  int64
	service *dashboard.Service
}

// NewRefreshJob creates a refresh job for the given user.
func NewRefreshJob(userID int64, service *dashboard.Service) *RefreshJob {
	return &RefreshJob{userID: userID, service: service}
}

// Execute runs the refresh. Per-item sync failures are reported inside the
// payload and don't fail the job; a job error means even the aggregate pass
// could not run.
func (j *RefreshJob) Execute(ctx context.Context) error {
	payload, err := j.service.RefreshAndFetch(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	failed := 0
	for _, result := range payload.SyncResults {
		if result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("Refresh for user %d completed with %d/%d items failing",
			j.userID, failed, len(payload.SyncResults))
	} else {
		log.Printf("Refresh for user %d completed: %d items synced",
			j.userID, len(payload.SyncResults))
	}
	return nil
}

// UserID returns the user ID associated with this job.
func (j *RefreshJob) UserID() string {
	return strconv.FormatInt(j.userID, 10)
}

// Description returns a human-readable description of the job.
func (j *RefreshJob) Description() string {
	return fmt.Sprintf("Dashboard refresh for user %d", j.userID)
}

// UserLister enumerates the users that have linked items, typically backed
// by the item repository.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// RefreshJobProvider builds the scheduler's job batch: one refresh job per
// user with at least one linked item.
func RefreshJobProvider(users UserLister, service *dashboard.Service) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		ids, err := users.ListUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users for refresh: %w", err)
		}

		jobs := make([]Job, 0, len(ids))
		for _, id := range ids {
			jobs = append(jobs, NewRefreshJob(id, service))
		}
		return jobs, nil
	}
}
