// Package depmanager locates the ffmpeg toolchain and installs it when missing.
// Lookup order is the configured bins dir, then $PATH, then the platform package
// manager, then a static build download into the bins dir.
package depmanager

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/errs"
	"mediagrab/internal/observability"
	"mediagrab/pkg/shellquote"

	"github.com/ulikunitz/xz"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
)

// Platform operating system names and architectures.
const (
	platformDarwin  = "darwin"
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

// Install methods, used as metric labels.
const (
	methodBrew   = "brew"
	methodApt    = "apt"
	methodStatic = "static"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading binaries.
	downloadTimeout = 10 * time.Minute
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Tools holds resolved binary paths. FFprobe may be empty; probing is optional.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (t Tools) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ffmpeg", t.FFmpeg),
		slog.String("ffprobe", t.FFprobe),
	)
}

// RunFunc runs a command to completion. Stubbed in tests.
type RunFunc func(ctx context.Context, name string, args ...string) error

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	metrics  *observability.Metrics
	platform Platform
	client   *http.Client

	run      RunFunc
	lookPath func(string) (string, error)

	mu             sync.Mutex
	tools          *Tools
	installFailed  bool
	onInstallStart func()
}

// New creates a new dependency manager. metrics may be nil.
func New(log *slog.Logger, cfg config.DepManager, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:     log.With(slog.String("package", "depmanager")),
		cfg:     cfg,
		metrics: metrics,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client: &http.Client{
			Timeout: downloadTimeout,
		},
		lookPath: exec.LookPath,
	}

	mgr.run = mgr.runCommand

	return mgr
}

// OnInstallStart registers a hook called once before any install attempt.
func (m *Manager) OnInstallStart(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onInstallStart = fn
}

// Resolve returns the ffmpeg toolchain, installing it if needed and allowed.
// It returns errs.ErrToolUnavailable once every option is exhausted. A failed
// install is not retried for the lifetime of the manager unless it failed
// because ctx was done.
func (m *Manager) Resolve(ctx context.Context) (Tools, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tools != nil {
		return *m.tools, nil
	}

	if tools, ok := m.locate(); ok {
		return m.remember(ctx, tools), nil
	}

	if !m.cfg.AllowInstall || m.installFailed {
		return Tools{}, fmt.Errorf("%s: %w", BinaryFFmpeg, errs.ErrToolUnavailable)
	}

	if m.onInstallStart != nil {
		m.onInstallStart()
	}

	if err := m.installWithPackageManager(ctx); err != nil {
		m.log.WarnContext(ctx, "package manager install failed", slog.Any("error", err))
	} else if tools, ok := m.locate(); ok {
		return m.remember(ctx, tools), nil
	}

	if err := m.installStatic(ctx); err != nil {
		m.log.WarnContext(ctx, "static build install failed", slog.Any("error", err))
	} else if tools, ok := m.locate(); ok {
		return m.remember(ctx, tools), nil
	}

	// an interrupted install says nothing about the host, so a later call retries
	if err := ctx.Err(); err != nil {
		return Tools{}, fmt.Errorf("install %s: %w", BinaryFFmpeg, err)
	}

	m.installFailed = true

	return Tools{}, fmt.Errorf("%s: %w", BinaryFFmpeg, errs.ErrToolUnavailable)
}

func (m *Manager) remember(ctx context.Context, tools Tools) Tools {
	m.tools = &tools
	m.log.InfoContext(ctx, "ffmpeg toolchain resolved", slog.Any("tools", tools))

	return tools
}

// locate looks in the bins dir first, then in $PATH.
func (m *Manager) locate() (Tools, bool) {
	var tools Tools

	for _, name := range []BinaryName{BinaryFFmpeg, BinaryFFprobe} {
		path := ""
		if m.isBinaryExists(name) {
			path = m.GetBinaryPath(name)
		} else if p, err := m.lookPath(string(name)); err == nil {
			path = p
		}

		switch name {
		case BinaryFFmpeg:
			tools.FFmpeg = path
		case BinaryFFprobe:
			tools.FFprobe = path
		}
	}

	return tools, tools.FFmpeg != ""
}

// GetBinaryPath returns the full path to a binary in the bins dir.
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// isBinaryExists checks if a binary file exists and has non-zero size.
func (m *Manager) isBinaryExists(name BinaryName) bool {
	if m.cfg.BinsDir == "" {
		return false
	}

	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// installWithPackageManager runs brew on darwin and apt on linux.
func (m *Manager) installWithPackageManager(ctx context.Context) error {
	var (
		method string
		steps  [][]string
	)

	switch m.platform.OS {
	case platformDarwin:
		method = methodBrew
		steps = [][]string{{"brew", "install", "ffmpeg"}}
	case platformLinux:
		method = methodApt
		steps = [][]string{
			{"sudo", "apt", "update"},
			{"sudo", "apt", "install", "-y", "ffmpeg"},
		}
	default:
		return fmt.Errorf("package manager on %s: %w", m.platform, errs.ErrUnsupportedPlatform)
	}

	for _, step := range steps {
		if err := m.runStep(ctx, step); err != nil {
			m.recordInstall(method, false)

			return err
		}
	}

	m.recordInstall(method, true)

	return nil
}

func (m *Manager) runStep(ctx context.Context, step []string) error {
	if m.cfg.InstallTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, m.cfg.InstallTimeout)
		defer cancel()
	}

	m.log.InfoContext(ctx, "running install step", slog.String("cmd", shellquote.Join(step[0], step[1:])))

	if err := m.run(ctx, step[0], step[1:]...); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(step, " "), err)
	}

	return nil
}

func (m *Manager) runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, lastLine(string(out)))
	}

	return nil
}

// installStatic downloads a static ffmpeg build into the bins dir.
func (m *Manager) installStatic(ctx context.Context) error {
	url := m.getBinaryURL()
	if url == "" {
		return fmt.Errorf("static build on %s: %w", m.platform, errs.ErrUnsupportedPlatform)
	}

	if err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	m.log.InfoContext(ctx, "downloading static ffmpeg build", slog.String("url", url))

	paths, err := m.downloadDependency(ctx, url)
	if err != nil {
		m.recordInstall(methodStatic, false)

		return fmt.Errorf("download dependency: %w", err)
	}

	if err := m.makeExecutable(paths); err != nil {
		m.recordInstall(methodStatic, false)

		return fmt.Errorf("make executable: %w", err)
	}

	m.recordInstall(methodStatic, true)
	m.log.InfoContext(ctx, "static ffmpeg build installed", slog.Any("paths", paths))

	return nil
}

func (m *Manager) recordInstall(method string, ok bool) {
	if m.metrics != nil {
		m.metrics.RecordToolInstall(method, ok)
	}
}

func (m *Manager) getBinaryURL() string {
	switch m.platform.String() {
	case platformLinux + "/" + archARM64:
		return m.cfg.FFmpegLinuxARM64
	case platformLinux + "/" + archAMD64:
		return m.cfg.FFmpegLinuxAMD64
	}

	return ""
}

// makeExecutable sets the executable permission on binary files.
func (m *Manager) makeExecutable(binPaths []string) error {
	for _, path := range binPaths {
		err := os.Chmod(path, filePermExecutable)
		if err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}

	return nil
}

// downloadDependency downloads a tar.xz archive and extracts ffmpeg and ffprobe. Returns installed paths.
func (m *Manager) downloadDependency(ctx context.Context, url string) ([]string, error) {
	if !strings.HasSuffix(url, ".tar.xz") {
		return nil, fmt.Errorf("unsupported archive format: %s", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp(m.cfg.BinsDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	targets := map[string]struct{}{
		m.binaryFilename(BinaryFFmpeg):  {},
		m.binaryFilename(BinaryFFprobe): {},
	}

	extracted, err := m.extractFromTarXZ(tmpPath, m.cfg.BinsDir, targets)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	installed := make([]string, 0, len(extracted))
	for _, name := range extracted {
		installed = append(installed, filepath.Join(m.cfg.BinsDir, name))
	}

	return installed, nil
}

func (m *Manager) binaryFilename(name BinaryName) string {
	return filepath.Base(m.GetBinaryPath(name))
}

func (m *Manager) extractFromTarXZ(tarXZPath, destDir string, targets map[string]struct{}) ([]string, error) {
	file, err := os.Open(tarXZPath)
	if err != nil {
		return nil, fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create xz reader: %w", err)
	}

	return extractTarSelected(xzReader, destDir, targets)
}

// extractTarSelected copies regular files whose base name is in targets into destDir.
func extractTarSelected(reader io.Reader, destDir string, targets map[string]struct{}) ([]string, error) {
	tarReader := tar.NewReader(reader)

	var extracted []string

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return extracted, fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		filename := filepath.Base(header.Name)
		if _, ok := targets[filename]; !ok {
			continue
		}

		destPath := filepath.Join(destDir, filename)

		outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
		if err != nil {
			return extracted, fmt.Errorf("create dest file: %w", err)
		}

		_, err = io.Copy(outFile, tarReader)
		outFile.Close()

		if err != nil {
			return extracted, fmt.Errorf("extract file: %w", err)
		}

		extracted = append(extracted, filename)

		if len(extracted) == len(targets) {
			return extracted, nil
		}
	}

	if len(extracted) == 0 {
		return nil, fmt.Errorf("no target files found in tar archive")
	}

	return extracted, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}

	return s
}
