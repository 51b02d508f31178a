package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dianvu/MayaProject/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.GenerateReportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last state: %+v", jobID, want, job)
	return nil
}

func TestQueueProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 2, store)
	defer q.Close()

	var mu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		handled = append(handled, job.GetID())
		mu.Unlock()
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.GenerateReportJob{UserID: "u1", Year: 2025, Month: time.April}
	if err := q.PublishGenerateReport(context.Background(), job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("publish should assign a job ID")
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.CompletedAt == nil {
		t.Error("completed job should record completion time")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != job.JobID {
		t.Errorf("handled = %v, want exactly the published job", handled)
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	q.retryBase = time.Millisecond
	defer q.Close()

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("generator overloaded")
		}
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.GenerateReportJob{UserID: "u1", Year: 2025, Month: time.April, MaxRetries: 3}
	if err := q.PublishGenerateReport(context.Background(), job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", done.RetryCount)
	}
	if done.Error != "" {
		t.Errorf("completed job should clear the error, got %q", done.Error)
	}
}

func TestQueueFailsJobAfterMaxRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	q.retryBase = time.Millisecond
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return errors.New("always failing")
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.GenerateReportJob{UserID: "u1", Year: 2025, Month: time.April, MaxRetries: 2}
	if err := q.PublishGenerateReport(context.Background(), job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if done.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", done.RetryCount)
	}
	if done.Error == "" {
		t.Error("failed job should keep its last error")
	}
}

func TestQueueDoesNotRetryPermanentFailure(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	q.retryBase = time.Millisecond
	defer q.Close()

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return jobs.Permanent(errors.New("report blocked by safety gate"))
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.GenerateReportJob{UserID: "u1", Year: 2025, Month: time.April, MaxRetries: 5}
	if err := q.PublishGenerateReport(context.Background(), job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 for a permanent failure", calls)
	}
}

func TestQueueRejectsPublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := q.PublishGenerateReport(context.Background(), &jobs.GenerateReportJob{UserID: "u1"})
	if err == nil {
		t.Fatal("expected publish on a closed queue to fail")
	}
}
