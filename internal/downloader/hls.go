package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mediagrab/internal/consts"
	"mediagrab/internal/errs"
	"mediagrab/pkg/calc"

	"github.com/grafov/m3u8"
)

const (
	maxPlaylistSize = 4 << 20
	segmentName     = "segment_%04d.ts"
)

// HLSFetcher downloads a playlist's segments one by one and joins them by raw byte
// concatenation. It is the fallback when ffmpeg is unavailable; the output is a
// transport stream with an .mp4 name, not a repacked container.
type HLSFetcher struct {
	log             *slog.Logger
	fetcher         *FileFetcher
	tolerateMissing bool
}

// NewHLSFetcher creates an HLSFetcher. With tolerateMissing a segment that cannot
// be fetched is logged and left out of the output instead of failing the attempt.
func NewHLSFetcher(log *slog.Logger, fetcher *FileFetcher, tolerateMissing bool) *HLSFetcher {
	return &HLSFetcher{
		log:             log.With(slog.String("package", "downloader"), slog.String("component", "hls")),
		fetcher:         fetcher,
		tolerateMissing: tolerateMissing,
	}
}

// TempDir returns the segment directory used for dest.
func TempDir(dest string) string {
	base := strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))

	return filepath.Join(filepath.Dir(dest), consts.TempDirPrefix+base)
}

// Fetch downloads playlistURL into dest, reporting floor(100*(i+1)/n) per segment.
// The temp dir is removed on return.
func (h *HLSFetcher) Fetch(ctx context.Context, playlistURL, dest string, progress ProgressFunc) error {
	if progress == nil {
		progress = nopProgress
	}

	if fileExists(dest) {
		progress(100)

		return nil
	}

	segments, err := h.segments(ctx, playlistURL)
	if err != nil {
		return err
	}

	if len(segments) == 0 {
		return fmt.Errorf("%w: playlist %s has no segments", errs.ErrParse, playlistURL)
	}

	log := h.log.With(slog.String("playlist", playlistURL), slog.Int("segments", len(segments)))
	log.InfoContext(ctx, "downloading segments")

	tempDir := TempDir(dest)
	if err := os.MkdirAll(tempDir, dirPerm); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.WarnContext(ctx, "remove temp dir", slog.Any("error", err))
		}
	}()

	paths := make([]string, len(segments))

	for i, segURL := range segments {
		paths[i] = filepath.Join(tempDir, fmt.Sprintf(segmentName, i))

		if err := h.fetcher.Fetch(ctx, segURL, paths[i], nil); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("segment %d: %w", i, ctx.Err())
			}

			if !h.tolerateMissing {
				return fmt.Errorf("segment %d of %d: %w: %w", i, len(segments), errs.ErrSegmentMissing, err)
			}

			log.WarnContext(ctx, "segment skipped", slog.Int("index", i), slog.Any("error", err))

			continue
		}

		progress(calc.FloorProgress(int64(i+1), int64(len(segments))))
	}

	return concatenate(dest, paths)
}

// segments resolves the playlist into absolute segment URLs. A master playlist is
// followed to its highest bandwidth variant. Anything m3u8 cannot decode is read
// as plain lines, every non-comment line being one segment.
func (h *HLSFetcher) segments(ctx context.Context, playlistURL string) ([]string, error) {
	body, err := h.fetcher.readAll(ctx, playlistURL, maxPlaylistSize)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("%w: playlist url: %w", errs.ErrParse, err)
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		h.log.DebugContext(ctx, "playlist not decodable, reading lines", slog.Any("error", err))

		return resolveAll(base, rawLines(body)), nil
	}

	switch listType {
	case m3u8.MASTER:
		master, _ := playlist.(*m3u8.MasterPlaylist)

		variant := bestVariant(master)
		if variant == nil {
			return nil, fmt.Errorf("%w: master playlist without variants", errs.ErrParse)
		}

		variantURL := resolve(base, variant.URI)
		h.log.InfoContext(ctx, "following variant",
			slog.String("uri", variantURL),
			slog.Uint64("bandwidth", uint64(variant.Bandwidth)))

		// variants are expected to be media playlists; nesting is not followed further
		return h.mediaSegments(ctx, variantURL)
	case m3u8.MEDIA:
		media, _ := playlist.(*m3u8.MediaPlaylist)

		uris := mediaURIs(media)
		if len(uris) == 0 {
			uris = rawLines(body)
		}

		return resolveAll(base, uris), nil
	}

	return resolveAll(base, rawLines(body)), nil
}

func (h *HLSFetcher) mediaSegments(ctx context.Context, playlistURL string) ([]string, error) {
	body, err := h.fetcher.readAll(ctx, playlistURL, maxPlaylistSize)
	if err != nil {
		return nil, fmt.Errorf("fetch variant playlist: %w", err)
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("%w: variant url: %w", errs.ErrParse, err)
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil || listType != m3u8.MEDIA {
		return resolveAll(base, rawLines(body)), nil
	}

	media, _ := playlist.(*m3u8.MediaPlaylist)

	return resolveAll(base, mediaURIs(media)), nil
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	if master == nil {
		return nil
	}

	var best *m3u8.Variant

	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}

		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}

	return best
}

func mediaURIs(media *m3u8.MediaPlaylist) []string {
	if media == nil {
		return nil
	}

	uris := make([]string, 0, media.Count())

	for _, seg := range media.Segments {
		// the segment slice is preallocated; the first nil ends it
		if seg == nil {
			break
		}

		uris = append(uris, seg.URI)
	}

	return uris
}

func rawLines(body []byte) []string {
	var lines []string

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}

	return lines
}

func resolveAll(base *url.URL, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, resolve(base, ref))
	}

	return out
}

// resolve makes ref absolute against the playlist location.
func resolve(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	return base.ResolveReference(parsed).String()
}

// concatenate joins the existing files in paths, in order, into dest.
func concatenate(dest string, paths []string) error {
	part := dest + consts.PartSuffix

	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	for _, path := range paths {
		if err := appendFile(out, path); err != nil {
			out.Close()

			return err
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", part, err)
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}

	return nil
}

func appendFile(dst io.Writer, path string) error {
	in, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer in.Close()

	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("copy segment %s: %w", filepath.Base(path), err)
	}

	return nil
}
