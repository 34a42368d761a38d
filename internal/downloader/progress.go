package downloader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mediagrab/internal/consts"
)

const (
	// knownTotalCap holds back the last percent until ffmpeg reports progress=end.
	knownTotalCap = 99
	// unknownTotalCap bounds the synthetic estimate used without a duration.
	unknownTotalCap = 90
	// unknownTotalRate is the synthetic percent per remuxed second.
	unknownTotalRate = 2
)

// ProgressUpdate is the outcome of one ffmpeg -progress line.
type ProgressUpdate struct {
	Percent    int
	HasPercent bool
	Status     string
	Done       bool
}

// ProgressParser interprets the key=value stream ffmpeg writes with -progress.
// With a known total the percentage is min(99, 100*elapsed/total). Without one
// it is min(90, 2*elapsed), a deliberate approximation that only shows movement.
type ProgressParser struct {
	total   float64
	elapsed float64
}

// NewProgressParser creates a parser. total <= 0 means the duration is unknown.
func NewProgressParser(total time.Duration) *ProgressParser {
	return &ProgressParser{total: max(total.Seconds(), 0)}
}

// Elapsed returns the last parsed position in the stream.
func (p *ProgressParser) Elapsed() time.Duration {
	return time.Duration(p.elapsed * float64(time.Second))
}

// Parse consumes one line. Unknown keys and malformed values yield ok == false.
func (p *ProgressParser) Parse(line string) (ProgressUpdate, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return ProgressUpdate{}, false
	}

	value = strings.TrimSpace(value)

	switch key {
	case "out_time":
		secs, ok := parseOutTime(value)
		if !ok {
			return ProgressUpdate{}, false
		}

		return p.advance(secs), true
	case "out_time_us":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return ProgressUpdate{}, false
		}

		return p.advance(float64(us) / 1e6), true
	case "progress":
		switch value {
		case "end":
			return ProgressUpdate{Percent: consts.FullProgress, HasPercent: true, Done: true}, true
		case "continue":
			return ProgressUpdate{Status: fmt.Sprintf(consts.StatusConvertingFmt, p.elapsed)}, true
		}
	}

	return ProgressUpdate{}, false
}

func (p *ProgressParser) advance(secs float64) ProgressUpdate {
	p.elapsed = secs

	var percent int
	if p.total > 0 {
		percent = min(int(100*secs/p.total), knownTotalCap)
	} else {
		percent = min(int(secs*unknownTotalRate), unknownTotalCap)
	}

	return ProgressUpdate{Percent: percent, HasPercent: true}
}

// parseOutTime accepts HH:MM:SS.ffffff or a plain microsecond count.
// Negative and N/A values are rejected.
func parseOutTime(value string) (float64, bool) {
	if value == "" || value == "N/A" || strings.HasPrefix(value, "-") {
		return 0, false
	}

	if !strings.Contains(value, ":") {
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, false
		}

		return float64(us) / 1e6, true
	}

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}

	hours, errH := strconv.Atoi(parts[0])
	minutes, errM := strconv.Atoi(parts[1])
	seconds, errS := strconv.ParseFloat(parts[2], 64)

	if errH != nil || errM != nil || errS != nil {
		return 0, false
	}

	return float64(hours*3600+minutes*60) + seconds, true
}
