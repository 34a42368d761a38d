// Package service queues download jobs and runs them one at a time.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/downloader"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	"mediagrab/internal/observability"
	"mediagrab/internal/storage"
	"mediagrab/internal/uploader"
	"mediagrab/pkg/gen"
	"mediagrab/pkg/urls"
)

// Uploader is the part of uploader.Manager the service exposes.
type Uploader interface {
	Configure(ctx context.Context, req uploader.ConfigureRequest) error
	UploadExisting(ctx context.Context, path string, meta *uploader.Metadata, em *events.Emitter) (*entity.UploadResult, error)
	Status() uploader.Status
}

// Job is the application service behind the HTTP layer.
type Job interface {
	Start(ctx context.Context)
	Stop(timeout time.Duration) error

	Enqueue(ctx context.Context, url string, req entity.DownloadRequest) (*entity.Job, error)

	GetByID(ctx context.Context, id string) *entity.Job
	GetAll(ctx context.Context) ([]*entity.Job, error)
	Cancel(ctx context.Context, id string) error

	ConfigureUpload(ctx context.Context, req uploader.ConfigureRequest) error
	UploadExisting(ctx context.Context, path string, meta *uploader.Metadata) (*entity.UploadResult, error)
	UploadStatus() uploader.Status
}

type job struct {
	log        *slog.Logger
	cfg        *config.Config
	jobQueue   chan *entity.Job
	downloader downloader.Downloader
	storer     storage.Storer
	notifier   events.Notifier
	uploader   Uploader
	metrics    *observability.Metrics

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	cancel    context.CancelFunc
}

var _ Job = (*job)(nil)

// New creates the service. notifier receives every attempt event; storage is
// expected to be attached to it. up and metrics may be nil.
func New(
	cfg *config.Config,
	log *slog.Logger,
	dl downloader.Downloader,
	storer storage.Storer,
	notifier events.Notifier,
	up Uploader,
	metrics *observability.Metrics,
) Job {
	return &job{
		jobQueue:   make(chan *entity.Job, max(cfg.Job.QueueSize, 1)),
		downloader: dl,
		storer:     storer,
		notifier:   notifier,
		uploader:   up,
		metrics:    metrics,
		cfg:        cfg,
		log:        log.With(slog.String("package", "service")),
		stop:       make(chan struct{}),
		cancel:     func() {},
	}
}

// Start launches the single worker. Downloads never run in parallel.
func (svc *job) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		svc.cancel = cancel

		svc.wg.Add(1)

		go svc.worker(ctx)
	})
}

// Stop refuses new jobs and waits up to timeout for the running attempt.
// On timeout the attempt is cancelled.
func (svc *job) Stop(timeout time.Duration) error {
	svc.closed.Store(true)
	svc.stopOnce.Do(func() { close(svc.stop) })

	done := make(chan struct{})

	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svc.cancel()

		return nil
	case <-time.After(timeout):
		svc.cancel()
		<-done

		return fmt.Errorf("stop service: worker still busy after %s: %w", timeout, context.DeadlineExceeded)
	}
}

func (svc *job) Enqueue(ctx context.Context, url string, req entity.DownloadRequest) (*entity.Job, error) {
	if svc.closed.Load() {
		return nil, errs.ErrServiceClosed
	}

	url = urls.Normalize(url)
	req.SourceURL = url

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = consts.DefaultTitle
	}

	req.Title = title

	id := gen.JobID(url, title)

	existing := svc.storer.GetJobByID(ctx, id)
	if existing != nil && existing.Status != entity.JobStatusError && existing.Status != entity.JobStatusCancelled {
		return existing, errs.ErrJobAlreadyExists
	}

	ttl := svc.cfg.Storage.TTL
	if ttl <= 0 {
		ttl = consts.DefaultJobTTL
	}

	now := time.Now()
	job := &entity.Job{
		UUID:      id,
		URL:       url,
		Request:   req,
		Status:    entity.JobStatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	svc.log.DebugContext(ctx, "enqueue job", slog.Any("job", job))
	svc.storer.SetJob(ctx, job)

	select {
	case svc.jobQueue <- job:
		if svc.metrics != nil {
			svc.metrics.RecordJobCreated()
		}

		return svc.storer.GetJobByID(ctx, id), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("enqueue job canceled: %w", ctx.Err())
	default:
		svc.storer.UpdateJobStatus(ctx, job.UUID, entity.JobStatusError, 0, errs.ErrJobQueueFull.Error())

		return nil, fmt.Errorf("%w: %d/%d", errs.ErrJobQueueFull, len(svc.jobQueue), cap(svc.jobQueue))
	}
}

func (svc *job) worker(ctx context.Context) {
	defer svc.wg.Done()

	log := svc.log.With(slog.String("func", "worker"))

	for {
		select {
		case job, ok := <-svc.jobQueue:
			if !ok {
				log.WarnContext(ctx, "job queue closed")

				return
			}

			if job == nil {
				log.WarnContext(ctx, "received nil job")

				continue
			}

			svc.processJob(ctx, job)
		case <-svc.stop:
			log.InfoContext(ctx, "worker stopped")

			return
		case <-ctx.Done():
			svc.closed.Store(true)
			log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))

			return
		}
	}
}

func (svc *job) processJob(ctx context.Context, job *entity.Job) {
	log := svc.log.With(slog.String("func", "processJob"), slog.String("job_id", job.UUID))

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)

	if svc.cfg.Job.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, svc.cfg.Job.Timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	svc.storer.RegisterCancelFunc(job.UUID, cancel)
	defer svc.storer.UnregisterCancelFunc(job.UUID)

	// read after registering, so a concurrent cancel is seen here or hits jobCtx.
	// The queued pointer is owned by storage; work on a snapshot.
	current := svc.storer.GetJobByID(ctx, job.UUID)

	// cancelled while queued
	if current == nil || current.Status.IsTerminal() {
		log.InfoContext(ctx, "skipping job no longer pending")

		if current != nil && current.Status == entity.JobStatusCancelled && svc.metrics != nil {
			svc.metrics.RecordJobCancelled()
		}

		return
	}

	if svc.metrics != nil {
		defer svc.metrics.JobTimer()()
	}

	em := events.NewEmitter(job.UUID, svc.notifier)

	result, err := svc.downloader.Process(jobCtx, current, em)
	if result != nil {
		svc.applyResult(ctx, job.UUID, result)
	}

	if err != nil {
		svc.finishFailed(ctx, job.UUID, err)

		return
	}

	if svc.metrics != nil {
		svc.metrics.RecordJobCompleted()
	}

	log.InfoContext(ctx, "job processed", slog.Any("result", result))
}

func (svc *job) applyResult(ctx context.Context, id string, result *downloader.Result) {
	err := svc.storer.UpdateJob(ctx, id, func(job *entity.Job) {
		job.Quality = result.Quality
		job.Format = result.Format
		job.OutputPath = result.OutputPath
		job.Upload = result.Upload
	})
	if err != nil {
		svc.log.WarnContext(ctx, "apply result", slog.String("job_id", id), slog.Any("error", err))
	}
}

func (svc *job) finishFailed(ctx context.Context, id string, err error) {
	current := svc.storer.GetJobByID(ctx, id)
	if current != nil && current.Status == entity.JobStatusCancelled {
		svc.log.InfoContext(ctx, "job cancelled", slog.String("job_id", id))

		if svc.metrics != nil {
			svc.metrics.RecordJobCancelled()
		}

		return
	}

	svc.log.ErrorContext(ctx, "downloader process", slog.String("job_id", id), slog.Any("error", err))

	// the downloader reports Finished(false) itself; this covers one that did not
	if current != nil && !current.Status.IsTerminal() {
		svc.storer.UpdateJobStatus(ctx, id, entity.JobStatusError, 0, err.Error())
	}

	if svc.metrics != nil {
		svc.metrics.RecordJobFailed()
	}
}

func (svc *job) GetByID(ctx context.Context, id string) *entity.Job {
	return svc.storer.GetJobByID(ctx, id)
}

func (svc *job) GetAll(ctx context.Context) ([]*entity.Job, error) {
	jobs, err := svc.storer.GetJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}

	return jobs, nil
}

func (svc *job) Cancel(ctx context.Context, id string) error {
	if err := svc.storer.CancelJob(ctx, id); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}

	return nil
}

func (svc *job) ConfigureUpload(ctx context.Context, req uploader.ConfigureRequest) error {
	if svc.uploader == nil {
		return errs.ErrUploaderNotConfigured
	}

	if err := svc.uploader.Configure(ctx, req); err != nil {
		return fmt.Errorf("configure upload: %w", err)
	}

	return nil
}

// UploadExisting uploads a local file outside of any job. Progress events carry
// no job id and reach websocket listeners only.
func (svc *job) UploadExisting(ctx context.Context, path string, meta *uploader.Metadata) (*entity.UploadResult, error) {
	if svc.uploader == nil {
		return nil, errs.ErrUploaderNotConfigured
	}

	em := events.NewEmitter("", svc.notifier)

	result, err := svc.uploader.UploadExisting(ctx, path, meta, em)
	if err != nil {
		em.Finished(false, err.Error())

		return result, fmt.Errorf("upload existing %s: %w", path, err)
	}

	em.Finished(true, "")

	return result, nil
}

func (svc *job) UploadStatus() uploader.Status {
	if svc.uploader == nil {
		return uploader.Status{}
	}

	return svc.uploader.Status()
}
