// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultJobTTL is the default time-to-live for stored jobs.
	DefaultJobTTL = 7 * 24 * time.Hour
	// DefaultSimulateTime is the default time to simulate processing in mock downloader.
	DefaultSimulateTime = 1 * time.Second
	// DefaultProbeTimeout bounds the ffprobe metadata inspection.
	DefaultProbeTimeout = 30 * time.Second
	// DefaultStopTimeout is how long shutdown waits for a running attempt.
	DefaultStopTimeout = 10 * time.Second
	// DefaultTitle is used when the request carries no usable title.
	DefaultTitle = "video_sin_titulo"
	// FullProgress is the terminal percentage of every stage.
	FullProgress = 100
)

// Download directory layout.
const (
	// TempDirPrefix names per-attempt segment dirs next to the output file.
	TempDirPrefix = "temp_"
	// PartSuffix marks a file still being written.
	PartSuffix = ".part"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required query parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespJobEnqueued is returned when a job is successfully enqueued.
	RespJobEnqueued = "job enqueued"
	// RespJobEnqueueFail is returned when a job cannot be enqueued.
	RespJobEnqueueFail = "job enqueue failed"
	// RespGetJobsFail is returned when fetching all jobs fails.
	RespGetJobsFail = "get all jobs failed"
	// RespNoJobs is returned when there are no jobs available.
	RespNoJobs = "no jobs"
	// RespJobRetrieved is returned when a job is successfully retrieved.
	RespJobRetrieved = "job retrieved"
	// RespJobsRetrieved is returned when jobs are successfully retrieved.
	RespJobsRetrieved = "jobs retrieved"
	// RespJobNotFound is returned when a job is not found.
	RespJobNotFound = "job not found"
	// RespJobAlreadyExists is returned when a job already exists.
	RespJobAlreadyExists = "job already exists"
	// RespJobCancelled is returned when a job was cancelled.
	RespJobCancelled = "job cancelled"
	// RespJobCancelFail is returned when a job cannot be cancelled.
	RespJobCancelFail = "job cancel failed"
	// RespUploadConfigured is returned when the uploader was configured and tested.
	RespUploadConfigured = "upload configured"
	// RespUploadConfigureFail is returned when the uploader configuration fails.
	RespUploadConfigureFail = "upload configure failed"
	// RespUploadStatus is returned with the uploader status.
	RespUploadStatus = "upload status"
	// RespUploadDone is returned when an existing file was uploaded.
	RespUploadDone = "upload done"
	// RespUploadFail is returned when an existing file upload fails.
	RespUploadFail = "upload failed"
)

// Downloader identifiers.
const (
	// DownloaderDirect is the progressive file fetcher identifier.
	DownloaderDirect = "direct"
	// DownloaderFFmpeg is the ffmpeg remux identifier.
	DownloaderFFmpeg = "ffmpeg"
	// DownloaderManualHLS is the manual segment fetch identifier.
	DownloaderManualHLS = "manual_hls"
	// DownloaderMock is the mock downloader identifier for testing.
	DownloaderMock = "mock"
)

// Status messages surfaced to listeners.
const (
	StatusAnalyzing       = "analyzing video"
	StatusSearchingURLs   = "searching video urls"
	StatusDownloadDone    = "download completed"
	StatusProbing         = "analyzing hls stream"
	StatusConverting      = "converting hls stream"
	StatusConversionDone  = "hls conversion completed"
	StatusInstallingTool  = "installing ffmpeg"
	StatusPlaylist        = "analyzing hls playlist"
	StatusUploadStarting  = "starting upload"
	StatusUploadDone      = "upload completed"
	StatusUploadFailed    = "upload failed"
	StatusLocalDeleted    = "local file deleted"
	StatusFallbackHLS     = "ffmpeg unavailable, downloading segments"
	StatusFileExists      = "file already exists"
)

// Status message formats.
const (
	// StatusConvertingFmt carries the seconds of stream remuxed so far.
	StatusConvertingFmt = "converting... %.1fs"
	// StatusErrorFmt wraps the failure surfaced to listeners.
	StatusErrorFmt = "error: %s"
	// StatusUploadedFmt carries the hosted view URL.
	StatusUploadedFmt = "uploaded: %s"
	// DescriptionDownloadedFmt describes an auto-uploaded file by its page URL.
	DescriptionDownloadedFmt = "Video descargado desde %s"
	// DescriptionLocalFmt describes an existing file uploaded without metadata.
	DescriptionLocalFmt = "Video subido desde archivo local: %s"
	// DefaultUploadTag is appended to every auto-upload tag list.
	DefaultUploadTag = "hd"
)

// Event stream.
const (
	// RespEventsUpgradeFail is logged when a websocket upgrade is rejected.
	RespEventsUpgradeFail = "events upgrade failed"
	// RespServiceUnavailable is returned when the service cannot take more jobs.
	RespServiceUnavailable = "service unavailable"
)
