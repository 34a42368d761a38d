package storage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	"mediagrab/internal/storage"
	"mediagrab/pkg/gen"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStorer(t *testing.T) storage.Storer {
	t.Helper()

	cfg := &config.Config{Storage: config.Storage{CleanupInterval: 0}}

	return storage.New(t.Context(), discardLogger(), cfg, nil)
}

func TestGetJob(t *testing.T) {
	ctx := t.Context()
	storer := newStorer(t)

	uuid := gen.JobID("https://example.com/view?v=1", "clip")

	storer.SetJob(ctx, &entity.Job{UUID: uuid, Status: entity.JobStatusStarting})

	job := storer.GetJobByID(ctx, uuid)
	if job == nil {
		t.Fatal("failed to get job")
	}

	got := storer.GetJobByURLAndTitle(ctx, "  https://example.com/view?v=1 ", "clip")
	if got == nil {
		t.Fatal("expected job to be found by url and title")
	}

	if got.UUID != job.UUID {
		t.Errorf("expected job UUID to match")
	}

	// returned jobs are copies
	got.Status = entity.JobStatusFinished
	if again := storer.GetJobByID(ctx, uuid); again.Status != entity.JobStatusStarting {
		t.Errorf("stored job was modified through a returned copy: %v", again.Status)
	}

	if storer.GetJobByID(ctx, "missing") != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestGetJobs(t *testing.T) {
	ctx := t.Context()
	storer := newStorer(t)

	if _, err := storer.GetJobs(ctx); !errors.Is(err, errs.ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs, got %v", err)
	}

	now := time.Now()
	storer.SetJob(ctx, &entity.Job{UUID: "b", CreatedAt: now.Add(time.Second)})
	storer.SetJob(ctx, &entity.Job{UUID: "a", CreatedAt: now.Add(time.Second)})
	storer.SetJob(ctx, &entity.Job{UUID: "c", CreatedAt: now})

	jobs, err := storer.GetJobs(ctx)
	if err != nil {
		t.Fatalf("GetJobs: %v", err)
	}

	var order []string
	for _, job := range jobs {
		order = append(order, job.UUID)
	}

	if want := []string{"c", "a", "b"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	storer := newStorer(t)

	tests := []struct {
		name      string
		job       entity.Job
		status    entity.JobStatus
		progress  int
		msg       string
		wantError string
		wantMsg   string
	}{
		{
			name:     "finished",
			job:      entity.Job{UUID: gen.JobID("a", "b"), Status: entity.JobStatusStarting},
			status:   entity.JobStatusFinished,
			progress: 100,
		},
		{
			name:      "error message goes to error field",
			job:       entity.Job{UUID: gen.JobID("c", "d"), Status: entity.JobStatusDownloading},
			status:    entity.JobStatusError,
			msg:       "fetch failed",
			wantError: "fetch failed",
		},
		{
			name:     "status message",
			job:      entity.Job{UUID: gen.JobID("e", "f"), Status: entity.JobStatusStarting},
			status:   entity.JobStatusDownloading,
			progress: 40,
			msg:      "downloading",
			wantMsg:  "downloading",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()

			job := tt.job
			storer.SetJob(ctx, &job)

			storer.UpdateJobStatus(ctx, tt.job.UUID, tt.status, tt.progress, tt.msg)

			got := storer.GetJobByID(ctx, tt.job.UUID)
			if got == nil {
				t.Fatal("expected job to be found")
			}

			if got.Status != tt.status {
				t.Errorf("status = %v, want %v", got.Status, tt.status)
			}

			if got.Progress != tt.progress {
				t.Errorf("progress = %d, want %d", got.Progress, tt.progress)
			}

			if got.Error != tt.wantError {
				t.Errorf("error = %q, want %q", got.Error, tt.wantError)
			}

			if got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}

			if got.UpdatedAt.IsZero() {
				t.Error("expected UpdatedAt to be set")
			}
		})
	}
}

func TestUpdateJob_Errors(t *testing.T) {
	ctx := t.Context()
	storer := newStorer(t)

	if err := storer.UpdateJob(ctx, "", func(*entity.Job) {}); !errors.Is(err, errs.ErrJobIDEmpty) {
		t.Errorf("expected ErrJobIDEmpty, got %v", err)
	}

	if err := storer.UpdateJob(ctx, "nope", func(*entity.Job) {}); !errors.Is(err, errs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestNotify(t *testing.T) {
	ctx := t.Context()
	storer := newStorer(t)

	id := gen.JobID("https://example.com/v", "t")
	storer.SetJob(ctx, &entity.Job{UUID: id, Status: entity.JobStatusStarting, CreatedAt: time.Now()})

	em := events.NewEmitter(id, storer)

	steps := []struct {
		emit         func()
		wantStatus   entity.JobStatus
		wantProgress int
		wantMessage  string
	}{
		{func() { em.Status("analyzing") }, entity.JobStatusStarting, 0, "analyzing"},
		{func() { em.Download(30) }, entity.JobStatusDownloading, 30, "analyzing"},
		{func() { em.Conversion(60) }, entity.JobStatusConverting, 60, "analyzing"},
		{func() { em.Upload(10) }, entity.JobStatusUploading, 10, "analyzing"},
		{func() { em.Finished(true, "") }, entity.JobStatusFinished, 100, "analyzing"},
		// terminal status is final
		{func() { em.Finished(false, "late failure") }, entity.JobStatusFinished, 100, "analyzing"},
	}

	for i, step := range steps {
		step.emit()

		got := storer.GetJobByID(ctx, id)
		if got.Status != step.wantStatus || got.Progress != step.wantProgress || got.Message != step.wantMessage {
			t.Fatalf("step %d: got (%v, %d, %q), want (%v, %d, %q)", i,
				got.Status, got.Progress, got.Message,
				step.wantStatus, step.wantProgress, step.wantMessage)
		}
	}

	// events without a job id are global and ignored by storage
	storer.Notify(events.Event{Kind: events.KindStatus, Message: "installing ffmpeg"})
}

func TestNotify_Failure(t *testing.T) {
	ctx := t.Context()
	storer := newStorer(t)

	storer.SetJob(ctx, &entity.Job{UUID: "job", Status: entity.JobStatusDownloading})

	storer.Notify(events.Event{JobID: "job", Kind: events.KindFinished, Message: "fetch failed: 403"})

	got := storer.GetJobByID(ctx, "job")
	if got.Status != entity.JobStatusError {
		t.Errorf("status = %v, want error", got.Status)
	}

	if got.Error != "fetch failed: 403" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestCancelJob(t *testing.T) {
	ctx := t.Context()
	storer := newStorer(t)

	if err := storer.CancelJob(ctx, "missing"); !errors.Is(err, errs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	storer.SetJob(ctx, &entity.Job{UUID: "running", Status: entity.JobStatusDownloading})

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	storer.RegisterCancelFunc("running", cancel)

	if err := storer.CancelJob(ctx, "running"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	if attemptCtx.Err() == nil {
		t.Error("expected attempt context to be cancelled")
	}

	// the attempt reports its own failure afterwards
	storer.Notify(events.Event{JobID: "running", Kind: events.KindFinished, Message: "context canceled"})

	if got := storer.GetJobByID(ctx, "running"); got.Status != entity.JobStatusCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}

	if err := storer.CancelJob(ctx, "running"); !errors.Is(err, errs.ErrJobCancelled) {
		t.Errorf("second cancel: expected ErrJobCancelled, got %v", err)
	}

	storer.UnregisterCancelFunc("running")

	// queued jobs have no cancel func yet
	storer.SetJob(ctx, &entity.Job{UUID: "queued", Status: entity.JobStatusStarting})

	if err := storer.CancelJob(ctx, "queued"); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}

	if got := storer.GetJobByID(ctx, "queued"); got.Status != entity.JobStatusCancelled {
		t.Errorf("queued status = %v, want cancelled", got.Status)
	}
}
