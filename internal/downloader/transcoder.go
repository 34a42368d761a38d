package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/depmanager"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
)

// stderrTail is how many stderr lines are kept for the failure message.
const stderrTail = 20

// ToolResolver locates the ffmpeg toolchain.
type ToolResolver interface {
	Resolve(ctx context.Context) (depmanager.Tools, error)
}

// CommandFunc builds a command; exec.CommandContext in production.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// StreamTranscoder remuxes a segmented stream into an mp4 file with ffmpeg and
// falls back to HLSFetcher when ffmpeg cannot be found or installed.
type StreamTranscoder struct {
	log          *slog.Logger
	tools        ToolResolver
	hls          *HLSFetcher
	headers      map[string]string
	probeTimeout time.Duration
	command      CommandFunc
}

// NewStreamTranscoder creates a StreamTranscoder.
func NewStreamTranscoder(
	log *slog.Logger,
	tools ToolResolver,
	hls *HLSFetcher,
	cfg config.HLS,
	headers map[string]string,
) *StreamTranscoder {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = consts.DefaultProbeTimeout
	}

	return &StreamTranscoder{
		log:          log.With(slog.String("package", "downloader"), slog.String("component", "transcoder")),
		tools:        tools,
		hls:          hls,
		headers:      headers,
		probeTimeout: probeTimeout,
		command:      exec.CommandContext,
	}
}

// WithCommand replaces the command builder.
func (t *StreamTranscoder) WithCommand(fn CommandFunc) *StreamTranscoder {
	t.command = fn

	return t
}

// Transcode writes the stream at playlistURL to dest and returns the strategy used,
// consts.DownloaderFFmpeg or consts.DownloaderManualHLS. ffmpeg progress is reported
// as conversion progress and manual segment progress as download progress.
func (t *StreamTranscoder) Transcode(ctx context.Context, playlistURL, dest string, em *events.Emitter) (string, error) {
	if fileExists(dest) {
		em.Status(consts.StatusFileExists)
		em.Download(consts.FullProgress)

		return consts.DownloaderFFmpeg, nil
	}

	tools, err := t.tools.Resolve(ctx)
	if errors.Is(err, errs.ErrToolUnavailable) {
		t.log.WarnContext(ctx, "ffmpeg unavailable, fetching segments manually", slog.Any("error", err))
		em.Status(consts.StatusFallbackHLS)
		em.Status(consts.StatusPlaylist)

		return consts.DownloaderManualHLS, t.hls.Fetch(ctx, playlistURL, dest, em.Download)
	}

	if err != nil {
		return consts.DownloaderFFmpeg, fmt.Errorf("resolve ffmpeg: %w", err)
	}

	em.Status(consts.StatusProbing)

	duration := t.probe(ctx, tools.FFprobe, playlistURL)

	em.Status(consts.StatusConverting)

	if err := t.remux(ctx, tools.FFmpeg, playlistURL, dest, duration, em); err != nil {
		return consts.DownloaderFFmpeg, err
	}

	em.Conversion(consts.FullProgress)
	em.Status(consts.StatusConversionDone)

	return consts.DownloaderFFmpeg, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probe returns the stream duration, or 0 when it cannot be determined.
func (t *StreamTranscoder) probe(ctx context.Context, ffprobe, playlistURL string) time.Duration {
	if ffprobe == "" {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams"}
	args = append(args, t.inputArgs()...)
	args = append(args, playlistURL)

	out, err := t.command(ctx, ffprobe, args...).Output()
	if err != nil {
		t.log.WarnContext(ctx, "probe failed, progress will be estimated", slog.Any("error", err))

		return 0
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.log.WarnContext(ctx, "probe output not decodable", slog.Any("error", err))

		return 0
	}

	secs, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return 0
	}

	duration := time.Duration(secs * float64(time.Second))
	t.log.DebugContext(ctx, "stream probed", slog.Duration("duration", duration))

	return duration
}

// inputArgs carries the scrape headers the CDN expects.
func (t *StreamTranscoder) inputArgs() []string {
	var args []string

	if ua := t.headers["User-Agent"]; ua != "" {
		args = append(args, "-user_agent", ua)
	}

	if ref := t.headers["Referer"]; ref != "" {
		args = append(args, "-referer", ref)
	}

	return args
}

func (t *StreamTranscoder) remux(
	ctx context.Context,
	ffmpeg, playlistURL, dest string,
	duration time.Duration,
	em *events.Emitter,
) error {
	part := dest + consts.PartSuffix

	args := t.inputArgs()
	args = append(args,
		"-i", playlistURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-progress", "pipe:1",
		"-f", "mp4",
		"-y", part,
	)

	log := t.log.With(slog.String("output", dest))
	log.DebugContext(ctx, "executing ffmpeg", slog.String("binary", ffmpeg), slog.Any("args", args))

	cmd := t.command(ctx, ffmpeg, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %w", errs.ErrProcess, err)
	}

	var (
		wg   sync.WaitGroup
		tail = newLineTail(stderrTail)
	)

	wg.Go(func() {
		tail.consume(stderr)
	})

	parser := NewProgressParser(duration)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		update, ok := parser.Parse(scanner.Text())
		if !ok {
			continue
		}

		if update.HasPercent {
			em.Conversion(update.Percent)
		}

		if update.Status != "" {
			em.Status(update.Status)
		}
	}

	// drain whatever the scanner left so ffmpeg never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}

		log.ErrorContext(ctx, "ffmpeg failed", slog.Any("error", err), slog.String("stderr", tail.String()))

		return fmt.Errorf("%w: %s", errs.ErrProcess, tail.Last())
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}

	return nil
}

// lineTail keeps the last n non-empty lines of a stream.
type lineTail struct {
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (l *lineTail) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		l.lines = append(l.lines, line)
		if len(l.lines) > l.n {
			l.lines = l.lines[1:]
		}
	}

	_, _ = io.Copy(io.Discard, r)
}

// Last returns the final captured line.
func (l *lineTail) Last() string {
	if len(l.lines) == 0 {
		return "no error output"
	}

	return l.lines[len(l.lines)-1]
}

func (l *lineTail) String() string {
	return strings.Join(l.lines, "\n")
}
