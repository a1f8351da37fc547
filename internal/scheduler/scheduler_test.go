package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{"05:00", ScheduleTime{Hour: 5, Minute: 0}, false},
		{"23:59", ScheduleTime{Hour: 23, Minute: 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScheduleTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScheduler_ShouldRunOncePerMinute(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"05:00"},
		WorkerCount:   1,
		QueueSize:     1,
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	at := time.Date(2026, time.August, 15, 5, 0, 30, 0, time.UTC)
	if !s.shouldRun(at) {
		t.Error("shouldRun = false at the scheduled minute")
	}
	if s.shouldRun(at.Add(10 * time.Second)) {
		t.Error("shouldRun = true twice within the same minute")
	}
	if s.shouldRun(at.Add(time.Hour)) {
		t.Error("shouldRun = true outside the schedule")
	}
}

func TestNewScheduler_JobFetchTimeout(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"05:00"},
		WorkerCount:   1,
		QueueSize:     1,
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if s.jobFetchTimeout != 5*time.Minute {
		t.Errorf("default job fetch timeout = %v, want 5m", s.jobFetchTimeout)
	}

	s, err = NewScheduler(SchedulerConfig{
		ScheduleTimes:   []string{"05:00"},
		WorkerCount:     1,
		QueueSize:       1,
		JobFetchTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	if s.jobFetchTimeout != 30*time.Second {
		t.Errorf("job fetch timeout = %v, want 30s", s.jobFetchTimeout)
	}
}

type countingJob struct {
	executions int32
}

func (j *countingJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&j.executions, 1)
	return nil
}
func (j *countingJob) UserID() string      { return "1" }
func (j *countingJob) Description() string { return "counting job" }

func TestWorkerPool_ProcessesSubmittedJobs(t *testing.T) {
	pool := NewWorkerPool(2, 0, 10)
	pool.Start()

	jobs := make([]*countingJob, 5)
	for i := range jobs {
		jobs[i] = &countingJob{}
		if err := pool.Submit(jobs[i]); err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
	}

	pool.Shutdown()

	for i, job := range jobs {
		if got := atomic.LoadInt32(&job.executions); got != 1 {
			t.Errorf("job %d executed %d times, want 1", i, got)
		}
	}
}

type staticUserLister struct {
	ids []int64
	err error
}

func (s *staticUserLister) ListUserIDs(ctx context.Context) ([]int64, error) {
	return s.ids, s.err
}

func TestRefreshJobProvider(t *testing.T) {
	provider := RefreshJobProvider(&staticUserLister{ids: []int64{1, 2, 3}}, nil)

	jobs, err := provider(context.Background())
	if err != nil {
		t.Fatalf("provider failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[1].UserID() != "2" {
		t.Errorf("jobs[1].UserID() = %s, want 2", jobs[1].UserID())
	}
}

func TestRefreshJobProvider_ListError(t *testing.T) {
	provider := RefreshJobProvider(&staticUserLister{err: errors.New("db down")}, nil)

	if _, err := provider(context.Background()); err == nil {
		t.Fatal("expected error when user listing fails")
	}
}
