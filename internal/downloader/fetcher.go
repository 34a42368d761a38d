package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mediagrab/internal/consts"
	"mediagrab/internal/errs"
	"mediagrab/pkg/calc"

	"github.com/dustin/go-humanize"
)

const (
	// logEvery is how many bytes pass between transfer log lines.
	logEvery = 8 << 20

	defaultChunkSize = 8192
	dirPerm          = 0o755
)

// FileFetcher streams a URL to a local file.
type FileFetcher struct {
	log       *slog.Logger
	client    *http.Client
	headers   map[string]string
	chunkSize int
}

// NewFileFetcher creates a FileFetcher. client defaults to http.DefaultClient.
func NewFileFetcher(log *slog.Logger, client *http.Client, headers map[string]string, chunkSize int) *FileFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &FileFetcher{
		log:       log.With(slog.String("package", "downloader"), slog.String("component", "fetcher")),
		client:    client,
		headers:   headers,
		chunkSize: chunkSize,
	}
}

// Fetch downloads url into dest. An existing dest is taken as complete and
// reported as 100 without any request. The body is written to dest.part and
// renamed once fully read; a failed transfer leaves the .part file behind.
// Percentages are reported only when the response carries Content-Length.
func (f *FileFetcher) Fetch(ctx context.Context, url, dest string, progress ProgressFunc) error {
	if progress == nil {
		progress = nopProgress
	}

	if fileExists(dest) {
		f.log.InfoContext(ctx, "file already exists", slog.String("path", dest))
		progress(100)

		return nil
	}

	resp, err := f.open(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	part := dest + consts.PartSuffix

	file, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	written, err := f.copy(ctx, file, resp.Body, resp.ContentLength, progress)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", part, closeErr)
	}

	if err != nil {
		return err
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}

	f.log.DebugContext(ctx, "file fetched",
		slog.String("path", dest),
		slog.String("size", humanize.Bytes(uint64(written))))

	return nil
}

func (f *FileFetcher) copy(
	ctx context.Context,
	dst io.Writer,
	src io.Reader,
	total int64,
	progress ProgressFunc,
) (int64, error) {
	buf := make([]byte, f.chunkSize)

	var (
		written int64
		nextLog int64 = logEvery
		started       = time.Now()
	)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}

			written += int64(n)

			if total > 0 {
				progress(calc.FloorProgress(written, total))
			}

			if written >= nextLog {
				f.logTransfer(ctx, written, total, started)
				nextLog += logEvery
			}
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return written, fmt.Errorf("read body: %w", ctx.Err())
			}

			return written, fmt.Errorf("%w: read body: %w", errs.ErrFetch, readErr)
		}
	}
}

func (f *FileFetcher) logTransfer(ctx context.Context, written, total int64, started time.Time) {
	attrs := []any{slog.String("downloaded", humanize.Bytes(uint64(written)))}

	if total > 0 {
		attrs = append(attrs,
			slog.String("total", humanize.Bytes(uint64(total))),
			slog.Duration("eta", calc.ETA(written, total, started).Round(time.Second)))
	}

	f.log.InfoContext(ctx, "downloading", attrs...)
}

// open issues a GET with the fixed header set. Any non-2xx status is ErrFetch.
func (f *FileFetcher) open(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", errs.ErrFetch, err)
	}

	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("get %s: %w", url, ctx.Err())
		}

		return nil, fmt.Errorf("%w: get %s: %w", errs.ErrFetch, url, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: get %s: status %d", errs.ErrFetch, url, resp.StatusCode)
	}

	return resp, nil
}

// readAll fetches url and returns at most limit bytes of its body.
func (f *FileFetcher) readAll(ctx context.Context, url string, limit int64) ([]byte, error) {
	resp, err := f.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errs.ErrFetch, url, err)
	}

	return body, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
