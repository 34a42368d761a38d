package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/entity"
	"mediagrab/internal/errs"
	"mediagrab/internal/events"
	"mediagrab/internal/observability"
	"mediagrab/pkg/ptr"
)

// ClientFactory builds a Client for an API key.
type ClientFactory func(apiKey string) Client

// Status reports the uploader configuration.
type Status struct {
	Configured    bool `json:"configured"`
	AutoUpload    bool `json:"auto_upload"`
	APIKeySet     bool `json:"api_key_set"`
	UploaderReady bool `json:"uploader_ready"`
}

// ConfigureRequest changes the uploader configuration. Nil fields keep their value.
type ConfigureRequest struct {
	APIKey            string
	AutoUpload        bool
	DeleteAfterUpload *bool
	Settings          *Settings
}

// Manager owns the active Client and its persisted settings. It implements
// downloader.Publisher.
type Manager struct {
	log        *slog.Logger
	metrics    *observability.Metrics
	store      *SettingsStore
	newClient  ClientFactory
	viewURL    string
	sourceTags string

	mu       sync.RWMutex
	settings Stored
	client   Client
}

// NewManager loads persisted settings over the environment defaults and builds
// a client when an API key is known. metrics may be nil.
func NewManager(
	log *slog.Logger,
	cfg config.Upload,
	sourceTags string,
	metrics *observability.Metrics,
	store *SettingsStore,
	newClient ClientFactory,
) (*Manager, error) {
	defaults := Stored{
		APIKey:            cfg.APIKey,
		AutoUpload:        cfg.AutoUpload,
		DeleteAfterUpload: cfg.DeleteAfterUpload,
		Upload:            DefaultSettings(),
	}

	settings, err := store.Load(defaults)
	if err != nil {
		return nil, fmt.Errorf("load upload settings: %w", err)
	}

	mgr := &Manager{
		log:        log.With(slog.String("package", "uploader")),
		metrics:    metrics,
		store:      store,
		newClient:  newClient,
		viewURL:    strings.TrimRight(cfg.ViewURL, "/"),
		sourceTags: sourceTags,
		settings:   settings,
	}

	if settings.APIKey != "" {
		mgr.client = newClient(settings.APIKey)
	}

	return mgr, nil
}

// AutoUpload reports whether finished downloads are published automatically.
// It is false while no client is configured.
func (m *Manager) AutoUpload() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.settings.AutoUpload && m.client != nil
}

// Status returns the current configuration state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		Configured:    m.settings.APIKey != "",
		AutoUpload:    m.settings.AutoUpload,
		APIKeySet:     m.settings.APIKey != "",
		UploaderReady: m.client != nil,
	}
}

// Configure persists the new settings, swaps in a client for the key and tests
// the connection. A failed test is returned but the configuration is kept.
func (m *Manager) Configure(ctx context.Context, req ConfigureRequest) error {
	if strings.TrimSpace(req.APIKey) == "" {
		return errs.ErrInvalidAPIKey
	}

	m.mu.Lock()

	next := m.settings
	next.APIKey = strings.TrimSpace(req.APIKey)
	next.AutoUpload = req.AutoUpload

	if req.DeleteAfterUpload != nil {
		next.DeleteAfterUpload = *req.DeleteAfterUpload
	}

	if req.Settings != nil {
		next.Upload = *req.Settings
	}

	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()

		return fmt.Errorf("save upload settings: %w", err)
	}

	client := m.newClient(next.APIKey)
	m.settings = next
	m.client = client

	m.mu.Unlock()

	if err := client.TestConnection(ctx); err != nil {
		m.log.ErrorContext(ctx, "upload connection test failed", slog.Any("error", err))

		return fmt.Errorf("test connection: %w", err)
	}

	m.log.InfoContext(ctx, "uploader configured",
		slog.Bool("auto_upload", next.AutoUpload),
		slog.Bool("delete_after_upload", next.DeleteAfterUpload))

	return nil
}

// Publish uploads a freshly downloaded file described by req. On success the
// hosted view URLs are logged and, if configured, the local file is removed.
func (m *Manager) Publish(
	ctx context.Context,
	path string,
	req entity.DownloadRequest,
	em *events.Emitter,
) (*entity.UploadResult, error) {
	if em == nil {
		em = events.NewEmitter("", nil)
	}

	title := req.Title
	if strings.TrimSpace(title) == "" {
		title = consts.DefaultTitle
	}

	meta := Metadata{
		Title:       title,
		Description: fmt.Sprintf(consts.DescriptionDownloadedFmt, req.SourceURL),
		Tags:        m.tags(ptr.Deref(req.Uploader)),
		Duration:    ptr.Deref(req.Duration),
		Views:       ptr.Deref(req.Views),
		Rating:      ptr.Deref(req.Rating),
	}

	result, err := m.upload(ctx, path, meta, em)
	if err != nil {
		return result, err
	}

	m.mu.RLock()
	deleteAfter := m.settings.DeleteAfterUpload
	m.mu.RUnlock()

	if deleteAfter {
		if err := os.Remove(path); err != nil {
			m.log.WarnContext(ctx, "remove local file", slog.String("path", path), slog.Any("error", err))
		} else {
			m.log.InfoContext(ctx, "local file removed", slog.String("path", path))
			em.Status(consts.StatusLocalDeleted)
		}
	}

	return result, nil
}

// UploadExisting uploads a file already on disk. Without meta the title is the
// file name without extension.
func (m *Manager) UploadExisting(
	ctx context.Context,
	path string,
	meta *Metadata,
	em *events.Emitter,
) (*entity.UploadResult, error) {
	if meta == nil {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		meta = &Metadata{
			Title:       name,
			Description: fmt.Sprintf(consts.DescriptionLocalFmt, name),
		}
	}

	return m.upload(ctx, path, *meta, em)
}

func (m *Manager) upload(ctx context.Context, path string, meta Metadata, em *events.Emitter) (*entity.UploadResult, error) {
	if em == nil {
		em = events.NewEmitter("", nil)
	}

	m.mu.RLock()
	client := m.client
	settings := m.settings.Upload
	m.mu.RUnlock()

	if client == nil {
		return nil, errs.ErrUploaderNotConfigured
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrUpload, err)
	}

	log := m.log.With(slog.String("path", path), slog.String("title", meta.Title))

	em.Status(consts.StatusUploadStarting)
	log.InfoContext(ctx, "upload starting")

	start := time.Now()
	result, err := client.UploadVideo(ctx, path, meta, settings, em.Upload)

	if m.metrics != nil {
		m.metrics.RecordUpload(err == nil && result.OK(), info.Size(), time.Since(start))
	}

	if err == nil && !result.OK() {
		err = fmt.Errorf("%w: status %d", errs.ErrUpload, statusOf(result))
	}

	if err != nil {
		log.ErrorContext(ctx, "upload failed", slog.Any("error", err))
		em.Status(consts.StatusUploadFailed)

		if !errors.Is(err, errs.ErrUpload) {
			err = fmt.Errorf("%w: %w", errs.ErrUpload, err)
		}

		return result, err
	}

	em.Upload(consts.FullProgress)
	em.Status(consts.StatusUploadDone)

	for _, f := range result.Files {
		view := m.viewURL + "/" + f.FileCode
		log.InfoContext(ctx, "uploaded", slog.String("filecode", f.FileCode), slog.String("view_url", view))
		em.Status(fmt.Sprintf(consts.StatusUploadedFmt, view))
	}

	return result, nil
}

// tags joins the source tag, the uploader and the default tag, skipping blanks.
func (m *Manager) tags(uploader string) string {
	parts := make([]string, 0, 3)

	for _, t := range []string{m.sourceTags, uploader, consts.DefaultUploadTag} {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}

	return strings.Join(parts, ", ")
}

func statusOf(r *entity.UploadResult) int {
	if r == nil {
		return 0
	}

	return r.Status
}
