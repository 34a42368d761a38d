package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	"mediagrab/internal/observability"
	"mediagrab/pkg/filename"
)

// Scraper extracts media candidates from a video page.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (entity.Candidates, error)
}

// Transcoder turns a segmented stream into a local file and reports the strategy used.
type Transcoder interface {
	Transcode(ctx context.Context, playlistURL, dest string, em *events.Emitter) (string, error)
}

// Publisher uploads finished files to the video host.
type Publisher interface {
	AutoUpload() bool
	Publish(ctx context.Context, path string, req entity.DownloadRequest, em *events.Emitter) (*entity.UploadResult, error)
}

// Pipeline is the production Downloader: scrape, select, fetch and optionally upload.
type Pipeline struct {
	log          *slog.Logger
	metrics      *observability.Metrics
	scraper      Scraper
	fetcher      *FileFetcher
	transcoder   Transcoder
	publisher    Publisher
	downloadsDir string
	priority     []string
}

// New creates a Pipeline. metrics and publisher may be nil.
func New(
	log *slog.Logger,
	cfg *config.Config,
	metrics *observability.Metrics,
	scraper Scraper,
	fetcher *FileFetcher,
	transcoder Transcoder,
	publisher Publisher,
) *Pipeline {
	return &Pipeline{
		log:          log.With(slog.String("package", "downloader")),
		metrics:      metrics,
		scraper:      scraper,
		fetcher:      fetcher,
		transcoder:   transcoder,
		publisher:    publisher,
		downloadsDir: cfg.Dir.Downloads,
		priority:     cfg.Source.QualityPriority,
	}
}

// Process runs one attempt for job. Every failure is logged, surfaced as a status
// message and closed with Finished(false); success is closed with Finished(true).
// With auto-upload on, the attempt succeeds only if the upload does.
func (p *Pipeline) Process(ctx context.Context, job *entity.Job, em *events.Emitter) (*Result, error) {
	if job == nil {
		return nil, errs.ErrJobNil
	}

	if em == nil {
		em = events.NewEmitter(job.UUID, nil)
	}

	log := p.log.With(slog.Any("job", job))
	result := &Result{}

	err := p.download(ctx, job, em, result)
	if err == nil && p.publisher != nil && p.publisher.AutoUpload() {
		result.Upload, err = p.publisher.Publish(ctx, result.OutputPath, job.Request, em)
	}

	if err != nil {
		log.ErrorContext(ctx, "attempt failed", slog.Any("error", err), slog.Any("result", *result))
		em.Status(fmt.Sprintf(consts.StatusErrorFmt, err))
		em.Finished(false, err.Error())

		return result, err
	}

	log.InfoContext(ctx, "attempt done", slog.Any("result", *result))
	em.Finished(true, "")

	return result, nil
}

func (p *Pipeline) download(ctx context.Context, job *entity.Job, em *events.Emitter, result *Result) error {
	em.Status(consts.StatusAnalyzing)
	em.Status(consts.StatusSearchingURLs)

	candidates, err := p.scraper.Scrape(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}

	if len(candidates) == 0 {
		return fmt.Errorf("%w: no media urls on page", errs.ErrParse)
	}

	best, _ := SelectBest(candidates, p.priority)

	p.log.InfoContext(ctx, "candidate selected",
		slog.String("job_id", job.UUID),
		slog.Int("candidates", len(candidates)),
		slog.Any("candidate", best))

	result.Quality = best.Quality
	result.Format = best.Format
	result.OutputPath = filepath.Join(p.downloadsDir, filename.Sanitize(job.Request.Title, consts.DefaultTitle)+entity.OutputExt)

	if err := os.MkdirAll(p.downloadsDir, dirPerm); err != nil {
		return fmt.Errorf("create downloads dir: %w", err)
	}

	switch best.Format {
	case entity.FormatDirect:
		result.Strategy = consts.DownloaderDirect
		err = p.fetcher.Fetch(ctx, best.URL, result.OutputPath, em.Download)
	case entity.FormatSegmented:
		result.Strategy, err = p.transcoder.Transcode(ctx, best.URL, result.OutputPath, em)
	default:
		result.Strategy = string(best.Format)
		err = fmt.Errorf("%w: %s", errs.ErrUnsupportedFormat, best.Format)
	}

	p.record(result.Strategy, err)

	if err != nil {
		return fmt.Errorf("%s download: %w", result.Strategy, err)
	}

	if info, statErr := os.Stat(result.OutputPath); statErr == nil {
		result.Bytes = info.Size()
		if p.metrics != nil {
			p.metrics.RecordDownloadBytes(result.Bytes)
		}
	}

	em.Download(consts.FullProgress)
	em.Status(consts.StatusDownloadDone)

	return nil
}

func (p *Pipeline) record(strategy string, err error) {
	if p.metrics == nil {
		return
	}

	if err != nil {
		p.metrics.RecordDownloaderRequest(strategy, "error")
		p.metrics.RecordDownloaderError(strategy, err)

		return
	}

	p.metrics.RecordDownloaderRequest(strategy, "success")
}
