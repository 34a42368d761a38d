// Package downloader turns a video page into a local media file.
// Candidates scraped from the page are ranked and the winner is fetched either
// directly or, for segmented streams, through ffmpeg or a manual segment fetch.
package downloader

import (
	"context"
	"log/slog"

	"mediagrab/internal/entity"
	"mediagrab/internal/events"
)

// Downloader defines the interface for downloading content based on a job.
type Downloader interface {
	Process(ctx context.Context, job *entity.Job, em *events.Emitter) (*Result, error)
}

// ProgressFunc receives a percentage in [0, 100].
type ProgressFunc func(percent int)

func nopProgress(int) {}

// Result describes what an attempt produced. It is returned, possibly
// partially filled, even when the attempt fails.
type Result struct {
	Quality    string
	Format     entity.Format
	Strategy   string
	OutputPath string
	Bytes      int64
	Upload     *entity.UploadResult
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("quality", r.Quality),
		slog.String("format", string(r.Format)),
		slog.String("strategy", r.Strategy),
		slog.String("output_path", r.OutputPath),
		slog.Int64("bytes", r.Bytes),
	}

	if r.Upload != nil {
		attrs = append(attrs, slog.Any("upload", *r.Upload))
	}

	return slog.GroupValue(attrs...)
}
