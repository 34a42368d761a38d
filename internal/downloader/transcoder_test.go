package downloader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/depmanager"
	"mediagrab/internal/downloader"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
)

type fakeTools struct {
	tools depmanager.Tools
	err   error
}

func (f fakeTools) Resolve(context.Context) (depmanager.Tools, error) { return f.tools, f.err }

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Notify(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) percents(kind events.Kind) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []int

	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e.Percent)
		}
	}

	return out
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string

	for _, e := range r.events {
		if e.Kind == events.KindStatus {
			out = append(out, e.Message)
		}
	}

	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.events[len(r.events)-1]
}

// writeScript writes an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	return path
}

// fakeFFmpeg prints progress for a 100s stream and writes "remuxed" to its last argument.
const fakeFFmpeg = `for last; do :; done
echo "out_time=-00:00:00.100000"
echo "out_time=00:00:25.000000"
echo "progress=continue"
echo "out_time=00:00:50.000000"
echo "out_time=00:01:40.000000"
echo "progress=end"
echo "some stderr noise" >&2
printf remuxed > "$last"
`

const fakeFFprobe = `echo '{"format":{"duration":"100.000000"},"streams":[]}'
`

func TestStreamTranscoder_FFmpeg(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tools := depmanager.Tools{
		FFmpeg:  writeScript(t, dir, "ffmpeg", fakeFFmpeg),
		FFprobe: writeScript(t, dir, "ffprobe", fakeFFprobe),
	}

	transcoder := downloader.NewStreamTranscoder(discardLogger(), fakeTools{tools: tools}, nil, config.HLS{}, nil)

	rec := &recorder{}
	dest := filepath.Join(dir, "out", "video.mp4")

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}

	strategy, err := transcoder.Transcode(t.Context(), "https://cdn/index.m3u8", dest, events.NewEmitter("job", rec))
	if err != nil {
		t.Fatalf("Transcode() failed: %v", err)
	}

	if strategy != consts.DownloaderFFmpeg {
		t.Fatalf("strategy = %q", strategy)
	}

	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "remuxed" {
		t.Fatalf("output = %q, err %v", got, err)
	}

	want := []int{25, 50, 99, 100}
	if got := rec.percents(events.KindConversionProgress); !slices.Equal(got, want) {
		t.Fatalf("conversion progress = %v, want %v", got, want)
	}

	if msgs := rec.messages(); !slices.Contains(msgs, "converting... 25.0s") || !slices.Contains(msgs, consts.StatusConversionDone) {
		t.Fatalf("status messages = %v", msgs)
	}
}

func TestStreamTranscoder_NoProbe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tools := depmanager.Tools{FFmpeg: writeScript(t, dir, "ffmpeg", fakeFFmpeg)}

	transcoder := downloader.NewStreamTranscoder(discardLogger(), fakeTools{tools: tools}, nil, config.HLS{}, nil)

	rec := &recorder{}

	if _, err := transcoder.Transcode(t.Context(), "https://cdn/index.m3u8", filepath.Join(dir, "v.mp4"),
		events.NewEmitter("job", rec)); err != nil {
		t.Fatalf("Transcode() failed: %v", err)
	}

	// 25s -> 50, 50s and 100s cap at 90, end forces 100
	want := []int{50, 90, 100}
	if got := rec.percents(events.KindConversionProgress); !slices.Equal(got, want) {
		t.Fatalf("conversion progress = %v, want %v", got, want)
	}
}

func TestStreamTranscoder_ProcessFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tools := depmanager.Tools{FFmpeg: writeScript(t, dir, "ffmpeg", `echo "first" >&2
echo "Server returned 403 Forbidden" >&2
exit 1
`)}

	transcoder := downloader.NewStreamTranscoder(discardLogger(), fakeTools{tools: tools}, nil, config.HLS{}, nil)
	dest := filepath.Join(dir, "v.mp4")

	_, err := transcoder.Transcode(t.Context(), "https://cdn/index.m3u8", dest, events.NewEmitter("job", nil))
	if !errors.Is(err, errs.ErrProcess) {
		t.Fatalf("Transcode() err = %v, want ErrProcess", err)
	}

	if !strings.Contains(err.Error(), "403 Forbidden") {
		t.Fatalf("error %q does not carry the last stderr line", err)
	}

	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("output created on failure: %v", statErr)
	}
}

func TestStreamTranscoder_ManualFallback(t *testing.T) {
	t.Parallel()

	server := hlsServer(t, mediaPlaylist)
	hls := downloader.NewHLSFetcher(discardLogger(),
		downloader.NewFileFetcher(discardLogger(), server.Client(), nil, 0), false)

	transcoder := downloader.NewStreamTranscoder(discardLogger(),
		fakeTools{err: errs.ErrToolUnavailable}, hls, config.HLS{}, nil)

	rec := &recorder{}
	dest := filepath.Join(t.TempDir(), "v.mp4")

	strategy, err := transcoder.Transcode(t.Context(), server.URL+"/hls/index.m3u8", dest, events.NewEmitter("job", rec))
	if err != nil {
		t.Fatalf("Transcode() failed: %v", err)
	}

	if strategy != consts.DownloaderManualHLS {
		t.Fatalf("strategy = %q", strategy)
	}

	if got := rec.percents(events.KindDownloadProgress); !slices.Equal(got, []int{33, 66, 100}) {
		t.Fatalf("download progress = %v", got)
	}

	if !slices.Contains(rec.messages(), consts.StatusFallbackHLS) {
		t.Fatalf("fallback status missing: %v", rec.messages())
	}
}

func TestStreamTranscoder_ExistingOutput(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "v.mp4")
	if err := os.WriteFile(dest, []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	// a resolver that fails proves the toolchain is never consulted
	transcoder := downloader.NewStreamTranscoder(discardLogger(),
		fakeTools{err: errors.New("must not resolve")}, nil, config.HLS{}, nil)

	rec := &recorder{}

	if _, err := transcoder.Transcode(t.Context(), "https://cdn/index.m3u8", dest, events.NewEmitter("job", rec)); err != nil {
		t.Fatalf("Transcode() failed: %v", err)
	}

	if got := rec.percents(events.KindDownloadProgress); !slices.Equal(got, []int{100}) {
		t.Fatalf("download progress = %v", got)
	}
}
