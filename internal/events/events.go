// Package events carries progress notifications from a download attempt to its listeners.
// Emission is one-directional and never blocks the emitter.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the type of a progress event.
type Kind string

// Event kinds.
const (
	KindDownloadProgress   Kind = "download_progress"
	KindConversionProgress Kind = "conversion_progress"
	KindUploadProgress     Kind = "upload_progress"
	KindStatus             Kind = "status"
	KindFinished           Kind = "finished"
)

// Event is a fire-and-forget notification.
type Event struct {
	JobID   string    `json:"jobId,omitempty"`
	Kind    Kind      `json:"kind"`
	Percent int       `json:"percent"`
	Message string    `json:"message,omitempty"`
	Success bool      `json:"success"`
	Time    time.Time `json:"time"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("job_id", e.JobID),
		slog.String("kind", string(e.Kind)),
		slog.Int("percent", e.Percent),
		slog.String("message", e.Message),
		slog.Bool("success", e.Success),
	)
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(e Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

// Emitter is a convenience wrapper bound to one job.
// Progress of each kind is forwarded only when it strictly increases.
type Emitter struct {
	jobID string
	n     Notifier

	mu   sync.Mutex
	last map[Kind]int
}

// NewEmitter returns an Emitter tagging every event with jobID.
func NewEmitter(jobID string, n Notifier) *Emitter {
	if n == nil {
		n = Discard
	}

	return &Emitter{jobID: jobID, n: n, last: make(map[Kind]int)}
}

// Progress emits a percentage event of the given kind.
// Values that do not exceed the last emitted value of that kind are dropped,
// except the first event of each kind, which may be 0.
func (e *Emitter) Progress(kind Kind, percent int) {
	percent = max(0, min(percent, 100))

	e.mu.Lock()
	last, seen := e.last[kind]
	if seen && percent <= last {
		e.mu.Unlock()

		return
	}

	e.last[kind] = percent
	e.mu.Unlock()

	e.n.Notify(Event{JobID: e.jobID, Kind: kind, Percent: percent, Time: time.Now()})
}

// Download emits download progress.
func (e *Emitter) Download(percent int) { e.Progress(KindDownloadProgress, percent) }

// Conversion emits conversion progress.
func (e *Emitter) Conversion(percent int) { e.Progress(KindConversionProgress, percent) }

// Upload emits upload progress.
func (e *Emitter) Upload(percent int) { e.Progress(KindUploadProgress, percent) }

// Status emits a free-text status message.
func (e *Emitter) Status(msg string) {
	e.n.Notify(Event{JobID: e.jobID, Kind: KindStatus, Message: msg, Time: time.Now()})
}

// Finished emits the terminal success flag.
func (e *Emitter) Finished(success bool, msg string) {
	e.n.Notify(Event{JobID: e.jobID, Kind: KindFinished, Success: success, Message: msg, Time: time.Now()})
}
