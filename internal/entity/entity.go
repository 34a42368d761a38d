// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"
)

// JobStatus represents the status of a download job.
type JobStatus string

const (
	// JobStatusStarting indicates that the job is accepted and is about to start.
	JobStatusStarting JobStatus = "starting"
	// JobStatusDownloading indicates that the page scrape or media fetch is in progress.
	JobStatusDownloading JobStatus = "downloading"
	// JobStatusConverting indicates that ffmpeg is remuxing a segmented stream.
	JobStatusConverting JobStatus = "converting"
	// JobStatusUploading indicates that the file is being uploaded to the video host.
	JobStatusUploading JobStatus = "uploading"
	// JobStatusError indicates that the job has encountered an error.
	JobStatusError JobStatus = "error"
	// JobStatusFinished indicates that the job has finished successfully.
	JobStatusFinished JobStatus = "finished"
	// JobStatusCancelled indicates that the job was cancelled by the user.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusError || s == JobStatusCancelled
}

// DownloadRequest is the caller-supplied description of one video.
type DownloadRequest struct {
	Title     string  `json:"title"`
	SourceURL string  `json:"sourceUrl"`
	Uploader  *string `json:"uploader,omitempty"`
	Duration  *string `json:"duration,omitempty"`
	Views     *string `json:"views,omitempty"`
	Rating    *string `json:"rating,omitempty"`
}

// Job represents a download attempt.
type Job struct {
	UUID         string          `json:"uuid"`
	URL          string          `json:"url"`
	Request      DownloadRequest `json:"request"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	Error        string          `json:"error,omitempty"`
	Quality      string          `json:"quality,omitempty"`
	Format       Format          `json:"format,omitempty"`
	OutputPath   string          `json:"outputPath,omitempty"`
	Upload       *UploadResult   `json:"upload,omitempty"`
	EstimatedETA time.Duration   `json:"estimatedEta"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("uuid", j.UUID),
		slog.String("url", j.URL),
		slog.String("title", j.Request.Title),
		slog.String("status", string(j.Status)),
		slog.Int("progress", j.Progress),
		slog.String("quality", j.Quality),
		slog.String("format", string(j.Format)),
		slog.String("output_path", j.OutputPath),
		slog.Duration("estimatedEta", j.EstimatedETA),
	)
}
