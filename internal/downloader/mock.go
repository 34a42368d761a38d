package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"mediagrab/internal/consts"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	"mediagrab/pkg/filename"
)

type mock struct {
	log      *slog.Logger
	duration time.Duration
	fail     error
}

// NewMock returns a Downloader that emits simulated progress for duration and
// touches nothing on disk. A non-nil fail is returned after the simulation.
func NewMock(log *slog.Logger, duration time.Duration, fail error) Downloader {
	if duration <= 0 {
		duration = consts.DefaultSimulateTime
	}

	return &mock{
		log:      log.With(slog.String("package", "downloader"), slog.String("downloader", consts.DownloaderMock)),
		duration: duration,
		fail:     fail,
	}
}

func (m *mock) Process(ctx context.Context, job *entity.Job, em *events.Emitter) (*Result, error) {
	if job == nil {
		return nil, errs.ErrJobNil
	}

	if em == nil {
		em = events.NewEmitter(job.UUID, nil)
	}

	log := m.log.With(slog.Any("job", job))
	result := &Result{
		Quality:    "720",
		Format:     entity.FormatDirect,
		Strategy:   consts.DownloaderMock,
		OutputPath: filepath.Join("mock", filename.Sanitize(job.Request.Title, consts.DefaultTitle)+entity.OutputExt),
	}

	em.Status(consts.StatusAnalyzing)

	err := simulateDownload(ctx, m.duration, em.Download)
	if err == nil {
		err = m.fail
	}

	if err != nil {
		log.ErrorContext(ctx, "simulate download", slog.Any("error", err))
		em.Status(fmt.Sprintf(consts.StatusErrorFmt, err))
		em.Finished(false, err.Error())

		return result, err
	}

	em.Status(consts.StatusDownloadDone)
	em.Finished(true, "")

	log.InfoContext(ctx, "mock job processed")

	return result, nil
}

func simulateDownload(ctx context.Context, duration time.Duration, progressFn ProgressFunc) error {
	steps := 10
	step := 0

	ticker := time.NewTicker(duration / time.Duration(steps))
	defer ticker.Stop()

	for step <= steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			progressFn(step * (100 / steps))
			step++
		}
	}

	return nil
}
