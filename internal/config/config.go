// Package config handles application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Job        Job
	Dir        Dir
	Storage    Storage
	Source     Source
	HLS        HLS
	DepManager DepManager
	Upload     Upload
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"MEDIAGRAB_APP_LOG_LEVEL" envDefault:"info"`
	// EnvFile is loaded before the environment is parsed. Missing file is fine.
	EnvFile string `env:"MEDIAGRAB_APP_ENV_FILE" envDefault:".env"`
}

// Job holds job processing configuration.
type Job struct {
	Timeout   time.Duration `env:"MEDIAGRAB_APP_JOB_TIMEOUT"    envDefault:"2h"`
	QueueSize int           `env:"MEDIAGRAB_APP_JOB_QUEUE_SIZE" envDefault:"100"`
}

// Storage holds storage configuration.
type Storage struct {
	TTL             time.Duration `env:"MEDIAGRAB_APP_STORAGE_TTL"              envDefault:"168h"`
	CleanupInterval time.Duration `env:"MEDIAGRAB_APP_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
	// TempMaxAge is how old an abandoned temp_ segment dir must be before cleanup removes it.
	TempMaxAge time.Duration `env:"MEDIAGRAB_APP_STORAGE_TEMP_MAX_AGE" envDefault:"6h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"MEDIAGRAB_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"MEDIAGRAB_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	UploadTimeout   time.Duration `env:"MEDIAGRAB_HTTP_UPLOAD_TIMEOUT"   envDefault:"2h"`
	ShutdownTimeout time.Duration `env:"MEDIAGRAB_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Dir holds directory paths for downloads.
type Dir struct {
	Downloads string `env:"MEDIAGRAB_DIR_DOWNLOAD" envDefault:"./data/downloads"`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	return nil
}

// Source describes the video site pages are scraped from.
type Source struct {
	BaseURL   string `env:"MEDIAGRAB_SOURCE_BASE_URL"   envDefault:"https://es.pornhub.com"`
	UserAgent string `env:"MEDIAGRAB_SOURCE_USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"` //nolint:lll
	// QualityPriority is scanned in order by the quality selector.
	QualityPriority []string      `env:"MEDIAGRAB_SOURCE_QUALITY_PRIORITY" envDefault:"2160,1440,1080,720,480,360,240" envSeparator:","`
	ChunkSize       int           `env:"MEDIAGRAB_SOURCE_CHUNK_SIZE"       envDefault:"8192"`
	RequestTimeout  time.Duration `env:"MEDIAGRAB_SOURCE_REQUEST_TIMEOUT"  envDefault:"30s"`
	// Tags is prepended to uploader tags when auto-uploading.
	Tags string `env:"MEDIAGRAB_SOURCE_TAGS" envDefault:"pornhub"`
}

// Headers returns the fixed header set sent with every scrape and media request.
func (s Source) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      s.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "es-ES,es;q=0.9,en;q=0.8",
		"Referer":         strings.TrimRight(s.BaseURL, "/") + "/",
	}
}

// HLS holds segmented stream configuration.
type HLS struct {
	ProbeTimeout time.Duration `env:"MEDIAGRAB_HLS_PROBE_TIMEOUT" envDefault:"30s"`
	// TolerateMissingSegments skips failed segments instead of aborting the attempt.
	TolerateMissingSegments bool `env:"MEDIAGRAB_HLS_TOLERATE_MISSING_SEGMENTS" envDefault:"false"`
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is checked for ffmpeg and ffprobe before $PATH.
	BinsDir string `env:"MEDIAGRAB_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// AllowInstall enables package manager and static build installation.
	AllowInstall bool `env:"MEDIAGRAB_DEPMANAGER_ALLOW_INSTALL" envDefault:"true"`
	// InstallTimeout bounds a single package manager invocation.
	InstallTimeout time.Duration `env:"MEDIAGRAB_DEPMANAGER_INSTALL_TIMEOUT" envDefault:"5m"`

	// ffmpeg static build URLs per platform.
	FFmpegLinuxARM64 string `env:"MEDIAGRAB_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64 string `env:"MEDIAGRAB_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Upload holds the video host configuration. Values in SettingsFile, once saved, win over these.
type Upload struct {
	BaseURL string `env:"MEDIAGRAB_UPLOAD_BASE_URL" envDefault:"https://api.streamwish.com"`
	ViewURL string `env:"MEDIAGRAB_UPLOAD_VIEW_URL" envDefault:"https://streamwish.to"`
	APIKey  string `env:"MEDIAGRAB_UPLOAD_API_KEY"  envDefault:""`

	AutoUpload        bool   `env:"MEDIAGRAB_UPLOAD_AUTO"                envDefault:"false"`
	DeleteAfterUpload bool   `env:"MEDIAGRAB_UPLOAD_DELETE_AFTER_UPLOAD" envDefault:"false"`
	SettingsFile      string `env:"MEDIAGRAB_UPLOAD_SETTINGS_FILE"       envDefault:"./data/upload.toml"`
}

// SetAbsPaths converts the SettingsFile path to an absolute path.
func (u *Upload) SetAbsPaths() error {
	var err error
	if u.SettingsFile, err = filepath.Abs(u.SettingsFile); err != nil {
		return fmt.Errorf("settings file: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for outbound requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs
	List string `env:"MEDIAGRAB_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"MEDIAGRAB_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"MEDIAGRAB_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"MEDIAGRAB_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}

// loadEnvFile loads variables from path without overriding ones already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

// New loads configuration from an optional .env file and environment variables.
func New() (*Config, error) {
	if err := loadEnvFile(lookupEnvFile()); err != nil {
		return nil, err
	}

	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	err = cfg.Upload.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set upload absolute paths: %w", err)
	}

	if cfg.Source.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.Source.ChunkSize)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// lookupEnvFile returns the env file to load before the full parse.
func lookupEnvFile() string {
	var app App
	if err := env.Parse(&app); err != nil {
		return ""
	}

	return app.EnvFile
}
