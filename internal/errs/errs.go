// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new jobs.
	ErrServiceClosed = errors.New("service is closed")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the URL field in the request is invalid.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidTitle indicates that the title field in the request is empty.
	ErrInvalidTitle = errors.New("invalid title field")
	// ErrInvalidPath indicates that the path field is empty, relative or outside the downloads dir.
	ErrInvalidPath = errors.New("invalid path field")
	// ErrInvalidAPIKey indicates that the api_key field in the request is empty.
	ErrInvalidAPIKey = errors.New("invalid api_key field")
)

// Job and storage errors.
var (
	// ErrNoJobs indicates that there are no jobs in storage.
	ErrNoJobs = errors.New("no jobs")
	// ErrJobAlreadyExists indicates that the job already exists in storage with the same URL and title.
	ErrJobAlreadyExists = errors.New("job already exists")
	// ErrJobNotFound indicates that the job is not found in storage.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNil indicates that the job is nil.
	ErrJobNil = errors.New("job is nil")
	// ErrJobIDEmpty indicates that the job ID is empty.
	ErrJobIDEmpty = errors.New("job_id is empty")
	// ErrJobCancelled indicates that the job was cancelled or cannot be cancelled anymore.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrJobQueueFull indicates that the job queue is full.
	ErrJobQueueFull = errors.New("job queue is full")
)

// Pipeline errors. Every download attempt failure wraps exactly one of these.
var (
	// ErrFetch indicates a non-2xx HTTP status or a network failure.
	ErrFetch = errors.New("fetch failed")
	// ErrParse indicates malformed embedded JSON or no extractable media candidate.
	ErrParse = errors.New("parse failed")
	// ErrUnsupportedFormat indicates that the selected candidate has no fetch strategy.
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrToolUnavailable indicates that ffmpeg is missing and could not be installed.
	ErrToolUnavailable = errors.New("transcoding tool unavailable")
	// ErrProcess indicates a nonzero exit from the transcoding invocation.
	ErrProcess = errors.New("transcoding process failed")
	// ErrSegmentMissing indicates that a playlist segment could not be fetched.
	ErrSegmentMissing = errors.New("playlist segment missing")
	// ErrUpload indicates a non-200 upload API result.
	ErrUpload = errors.New("upload failed")
	// ErrUploaderNotConfigured indicates that no upload client is configured.
	ErrUploaderNotConfigured = errors.New("uploader not configured")
)

// Dependency errors.
var (
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
