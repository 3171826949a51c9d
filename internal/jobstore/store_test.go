package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Create(ctx, "job-1", "fal-ai/fast-sdxl", "A cat"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	job, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusPending || job.Prompt != "A cat" || job.Endpoint != "fal-ai/fast-sdxl" {
		t.Errorf("unexpected job after create: %+v", job)
	}

	if err := s.IncrementAttempts(ctx, "job-1"); err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}
	if err := s.SetRequestID(ctx, "job-1", "r1"); err != nil {
		t.Fatalf("SetRequestID() error = %v", err)
	}
	if err := s.UpdateStatus(ctx, "job-1", StatusRunning); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := s.Complete(ctx, "job-1", `{"seed":1}`); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	job, err = s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusCompleted || job.RequestID != "r1" || job.Result != `{"seed":1}` || job.Attempts != 1 {
		t.Errorf("unexpected job after complete: %+v", job)
	}
	if job.UpdatedAt.Before(job.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", job.UpdatedAt, job.CreatedAt)
	}
}

func TestStore_Fail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Create(ctx, "job-2", "demo/model", "A dog"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Fail(ctx, "job-2", "queue.status: HTTP 503: unavailable"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	job, err := s.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusFailed || job.Error == "" {
		t.Errorf("unexpected job after fail: %+v", job)
	}
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateStatus(ctx, "missing", StatusRunning); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus() expected ErrNotFound, got %v", err)
	}
}

func TestStore_DuplicateCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Create(ctx, "job-3", "demo/model", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, "job-3", "demo/model", ""); err == nil {
		t.Error("expected error on duplicate id")
	}
}

func TestStore_Timestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return created }
	if err := s.Create(ctx, "job-4", "demo/model", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	s.now = func() time.Time { return created.Add(time.Minute) }
	if err := s.UpdateStatus(ctx, "job-4", StatusQueued); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	job, err := s.Get(ctx, "job-4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !job.CreatedAt.Equal(created) || !job.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Errorf("unexpected timestamps created=%v updated=%v", job.CreatedAt, job.UpdatedAt)
	}
}

func TestStore_Ready(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ready(context.Background()); err != nil {
		t.Errorf("Ready() error = %v", err)
	}

	s.Close()
	if err := s.Ready(context.Background()); err == nil {
		t.Error("expected Ready() to fail after Close")
	}
}
