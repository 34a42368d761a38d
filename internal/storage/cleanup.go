package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediagrab/internal/consts"
	"mediagrab/internal/entity"
)

func (stg *storage) CleanupExpiredJobs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired_jobs"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			stg.Cleanup(ctx)
		case <-ctx.Done():
			log.Info("cleanup expired jobs stopped")

			return
		}
	}
}

// Cleanup removes expired jobs with their output files, then abandoned temp
// segment dirs and .part files older than the configured max age.
func (stg *storage) Cleanup(ctx context.Context) (int, int) {
	now := time.Now()

	stg.mu.RLock()
	expiredJobs := stg.getExpiredJobs(now)
	stg.mu.RUnlock()

	deletedFiles := 0

	if len(expiredJobs) > 0 {
		stg.log.InfoContext(ctx, "about to remove expired jobs", slog.Int("count", len(expiredJobs)))
	}

	for _, job := range expiredJobs {
		deletedFiles += stg.cleanupJob(ctx, job)
	}

	deletedFiles += stg.cleanupTemp(ctx, now)

	if stg.metrics != nil {
		stg.metrics.RecordCleanup(len(expiredJobs), deletedFiles)
	}

	return len(expiredJobs), deletedFiles
}

func (stg *storage) getExpiredJobs(now time.Time) []*entity.Job {
	var expiredJobs []*entity.Job

	for _, job := range stg.jobs {
		// running jobs are never reaped under their own worker
		if !job.Status.IsTerminal() {
			continue
		}

		if !job.ExpiresAt.IsZero() && job.ExpiresAt.Before(now) {
			snapshot := *job
			expiredJobs = append(expiredJobs, &snapshot)
		}
	}

	return expiredJobs
}

func (stg *storage) cleanupJob(ctx context.Context, job *entity.Job) int {
	log := stg.log
	deletedFiles := 0

	switch {
	case job.OutputPath == "":
	case !filepath.IsAbs(job.OutputPath):
		log.ErrorContext(ctx, "non-absolute path found", slog.String("filename", job.OutputPath))
	default:
		err := os.Remove(job.OutputPath)

		switch {
		case err == nil:
			deletedFiles++

			log.DebugContext(ctx, "successfully deleted file", slog.String("filename", job.OutputPath))
		case !os.IsNotExist(err):
			log.ErrorContext(ctx, "failed to delete file", slog.String("filename", job.OutputPath), slog.Any("error", err))
		}
	}

	stg.mu.Lock()
	delete(stg.jobs, job.UUID)
	count := len(stg.jobs)
	stg.mu.Unlock()

	stg.reportStored(count)

	log.DebugContext(ctx, "job cleaned up",
		slog.String("job_id", job.UUID),
		slog.Int("deleted_files", deletedFiles))

	return deletedFiles
}

// cleanupTemp removes temp_ dirs and .part files in the downloads dir that have
// not been touched for TempMaxAge. Younger leftovers may belong to a running attempt.
func (stg *storage) cleanupTemp(ctx context.Context, now time.Time) int {
	maxAge := stg.cfg.Storage.TempMaxAge
	dir := stg.cfg.Dir.Downloads

	if maxAge <= 0 || dir == "" {
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			stg.log.WarnContext(ctx, "read downloads dir", slog.Any("error", err))
		}

		return 0
	}

	removed := 0

	for _, entry := range entries {
		name := entry.Name()

		stale := (entry.IsDir() && strings.HasPrefix(name, consts.TempDirPrefix)) ||
			(!entry.IsDir() && strings.HasSuffix(name, consts.PartSuffix))
		if !stale {
			continue
		}

		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.RemoveAll(path); err != nil {
			stg.log.WarnContext(ctx, "remove leftover", slog.String("path", path), slog.Any("error", err))

			continue
		}

		removed++

		stg.log.InfoContext(ctx, "removed leftover", slog.String("path", path), slog.Duration("age", now.Sub(info.ModTime())))
	}

	return removed
}
