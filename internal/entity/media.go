package entity

import "log/slog"

// Format is the container kind of a media candidate.
type Format string

const (
	// FormatDirect is a single progressively downloadable file.
	FormatDirect Format = "direct"
	// FormatSegmented is an HLS playlist referencing many media chunks.
	FormatSegmented Format = "segmented"
	// FormatUnknown is anything the classifier could not place.
	FormatUnknown Format = "unknown"
)

// OutputExt is the extension of every produced file. Segmented streams are remuxed into mp4.
const OutputExt = ".mp4"

// QualityUnknown labels candidates whose URL carries no resolution hint.
const QualityUnknown = "unknown"

// MediaCandidate is one discovered encoding of a video.
type MediaCandidate struct {
	Quality string `json:"quality"`
	Format  Format `json:"format"`
	URL     string `json:"url"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (c MediaCandidate) LogValue() slog.Value {
	url := c.URL
	if len(url) > 100 {
		url = url[:100] + "..."
	}

	return slog.GroupValue(
		slog.String("quality", c.Quality),
		slog.String("format", string(c.Format)),
		slog.String("url", url),
	)
}

// Candidates maps a quality label to its candidate. Later writes for the same
// quality overwrite earlier ones.
type Candidates map[string]MediaCandidate

// Add stores c under its quality label.
func (cs Candidates) Add(c MediaCandidate) {
	cs[c.Quality] = c
}
