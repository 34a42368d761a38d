// Package storage keeps job records in memory and removes them, with their
// files, once they expire.
package storage

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	"mediagrab/internal/observability"
	"mediagrab/pkg/calc"
	"mediagrab/pkg/gen"
	"mediagrab/pkg/urls"
)

// Storer defines the interface for storage operations.
type Storer interface {
	events.Notifier

	SetJob(ctx context.Context, job *entity.Job)
	GetJobByURLAndTitle(ctx context.Context, url, title string) *entity.Job
	GetJobByID(ctx context.Context, id string) *entity.Job
	GetJobs(ctx context.Context) ([]*entity.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status entity.JobStatus, progress int, msg string)
	// UpdateJob applies fn to the stored job under the storage lock.
	UpdateJob(ctx context.Context, jobID string, fn func(job *entity.Job)) error

	// CancelJob marks a job cancelled and calls its cancel function, if one is registered.
	CancelJob(ctx context.Context, jobID string) error

	// RegisterCancelFunc stores a cancel function for a job.
	RegisterCancelFunc(jobID string, cancelFunc context.CancelFunc)

	// UnregisterCancelFunc removes the cancel function for a job.
	UnregisterCancelFunc(jobID string)

	// Cleanup runs one cleanup pass and returns the removed job and file counts.
	Cleanup(ctx context.Context) (jobs, files int)
	CleanupExpiredJobs(ctx context.Context, interval time.Duration)
}

type storage struct {
	log     *slog.Logger
	cfg     *config.Config
	metrics *observability.Metrics

	mu   sync.RWMutex
	jobs map[string]*entity.Job // job UUID : job

	cancelMu    sync.RWMutex
	cancelFuncs map[string]context.CancelFunc // job UUID : cancel func
}

// New creates a new in-memory storage instance and starts its cleanup loop.
// metrics may be nil.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) Storer {
	storage := &storage{
		log:         log.With(slog.String("package", "storage")),
		cfg:         cfg,
		metrics:     metrics,
		jobs:        make(map[string]*entity.Job),
		cancelFuncs: make(map[string]context.CancelFunc),
	}

	if cfg.Storage.CleanupInterval > 0 {
		go storage.CleanupExpiredJobs(ctx, cfg.Storage.CleanupInterval)
	}

	return storage
}

func (stg *storage) SetJob(ctx context.Context, job *entity.Job) {
	if job == nil || job.UUID == "" {
		stg.log.ErrorContext(ctx, "set job: nil job")

		return
	}

	stg.mu.Lock()
	stg.jobs[job.UUID] = job
	count := len(stg.jobs)
	stg.mu.Unlock()

	stg.reportStored(count)
}

// GetJobByURLAndTitle returns a copy of the job with the id derived from url and title.
func (stg *storage) GetJobByURLAndTitle(ctx context.Context, url, title string) *entity.Job {
	return stg.GetJobByID(ctx, gen.JobID(urls.Normalize(url), title))
}

// GetJobByID returns a copy of the job, or nil.
func (stg *storage) GetJobByID(_ context.Context, id string) *entity.Job {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	job, ok := stg.jobs[id]
	if !ok {
		return nil
	}

	snapshot := *job

	return &snapshot
}

// GetJobs returns copies of all jobs, oldest first.
func (stg *storage) GetJobs(_ context.Context) ([]*entity.Job, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	if len(stg.jobs) == 0 {
		return nil, errs.ErrNoJobs
	}

	jobs := make([]*entity.Job, 0, len(stg.jobs))
	for _, job := range stg.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}

	slices.SortFunc(jobs, func(a, b *entity.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.UUID, b.UUID)
	})

	return jobs, nil
}

func (stg *storage) UpdateJobStatus(ctx context.Context,
	jobID string,
	status entity.JobStatus,
	progress int,
	msg string) {
	err := stg.UpdateJob(ctx, jobID, func(job *entity.Job) {
		job.Status = status

		if progress != 0 {
			job.Progress = progress
		}

		if msg != "" {
			if status == entity.JobStatusError {
				job.Error = msg
			} else {
				job.Message = msg
			}
		}
	})
	if err != nil {
		stg.log.ErrorContext(ctx, "update job status", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

func (stg *storage) UpdateJob(ctx context.Context, jobID string, fn func(job *entity.Job)) error {
	if jobID == "" {
		return errs.ErrJobIDEmpty
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	job, ok := stg.jobs[jobID]
	if !ok {
		return errs.ErrJobNotFound
	}

	fn(job)
	job.UpdatedAt = time.Now()

	if job.Progress < 100 && !job.Status.IsTerminal() {
		job.EstimatedETA = calc.ETA(int64(job.Progress), 100, job.CreatedAt)
	} else {
		job.EstimatedETA = 0
	}

	stg.log.DebugContext(ctx, "job updated", "job", job)

	return nil
}

// Notify folds pipeline events into the job record. Events without a job id
// and events for unknown jobs are ignored. Terminal statuses are never left.
func (stg *storage) Notify(e events.Event) {
	if e.JobID == "" {
		return
	}

	_ = stg.UpdateJob(context.Background(), e.JobID, func(job *entity.Job) {
		if job.Status.IsTerminal() {
			return
		}

		switch e.Kind {
		case events.KindDownloadProgress:
			job.Status, job.Progress = entity.JobStatusDownloading, e.Percent
		case events.KindConversionProgress:
			job.Status, job.Progress = entity.JobStatusConverting, e.Percent
		case events.KindUploadProgress:
			job.Status, job.Progress = entity.JobStatusUploading, e.Percent
		case events.KindStatus:
			job.Message = e.Message
		case events.KindFinished:
			if e.Success {
				job.Status, job.Progress = entity.JobStatusFinished, 100
			} else {
				job.Status, job.Error = entity.JobStatusError, e.Message
			}
		}
	})
}

// CancelJob marks a job cancelled and calls its cancel function, if one is registered.
func (stg *storage) CancelJob(ctx context.Context, jobID string) error {
	stg.mu.Lock()

	job, ok := stg.jobs[jobID]
	if !ok {
		stg.mu.Unlock()

		return errs.ErrJobNotFound
	}

	if job.Status.IsTerminal() {
		stg.mu.Unlock()

		return errs.ErrJobCancelled
	}

	// mark first so the attempt's own Finished(false) cannot overwrite it.
	// A queued job has no cancel func yet; the worker skips it once marked.
	job.Status = entity.JobStatusCancelled
	job.UpdatedAt = time.Now()
	stg.mu.Unlock()

	stg.cancelMu.RLock()
	cancelFunc := stg.cancelFuncs[jobID]
	stg.cancelMu.RUnlock()

	if cancelFunc != nil {
		cancelFunc()
	}

	stg.log.InfoContext(ctx, "job cancelled", slog.String("job_id", jobID))

	return nil
}

// RegisterCancelFunc stores a cancel function for a job.
func (stg *storage) RegisterCancelFunc(jobID string, cancelFunc context.CancelFunc) {
	stg.cancelMu.Lock()
	defer stg.cancelMu.Unlock()

	stg.cancelFuncs[jobID] = cancelFunc
}

// UnregisterCancelFunc removes the cancel function for a job.
func (stg *storage) UnregisterCancelFunc(jobID string) {
	stg.cancelMu.Lock()
	defer stg.cancelMu.Unlock()

	delete(stg.cancelFuncs, jobID)
}

func (stg *storage) reportStored(count int) {
	if stg.metrics != nil {
		stg.metrics.SetStoredJobs(count)
	}
}
