// Package proxymgr rotates outbound requests over a proxy pool.
// It handles proxy selection, health checking, and failure tracking.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/observability"
)

// ProxyState represents the current state of a proxy.
type ProxyState int

const (
	// ProxyStateAvailable indicates the proxy is available for use.
	ProxyStateAvailable ProxyState = iota
	// ProxyStateFailed indicates the proxy has failed and is in backoff.
	ProxyStateFailed
)

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = 1 * time.Hour

	defaultSOCKSPort = "1080"
	defaultHTTPPort  = "8080"
)

type proxyInfo struct {
	URL           string
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics

	mu      sync.RWMutex
	proxies map[string]*proxyInfo
	order   []string // insertion order for stable iteration
}

// New creates a new proxy manager. metrics may be nil.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		proxies: make(map[string]*proxyInfo),
		order:   make([]string, 0, len(cfg.Proxies)),
	}

	for _, proxy := range cfg.Proxies {
		if _, dup := mgr.proxies[proxy]; dup {
			continue
		}

		mgr.proxies[proxy] = &proxyInfo{URL: proxy, State: ProxyStateAvailable}
		mgr.order = append(mgr.order, proxy)
	}

	mgr.reportAvailable()

	return mgr
}

// Pick returns a random available proxy URL, or "" if none is available.
func (m *Manager) Pick() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	available := m.getAvailableProxies()
	if len(available) == 0 {
		return ""
	}

	return available[rand.IntN(len(available))]
}

// MarkFailed records a failure and applies exponential backoff after MaxFailures.
func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		m.mu.Unlock()

		return
	}

	info.FailureCount++
	info.LastFailure = time.Now()

	maxFailures := max(m.cfg.MaxFailures, 1)
	if info.FailureCount >= maxFailures {
		info.State = ProxyStateFailed

		backoff := min(m.cfg.FailureBackoff*time.Duration(1<<min(info.FailureCount-maxFailures, 16)), maxBackoff)
		info.BackoffUntil = time.Now().Add(backoff)

		m.log.Warn("proxy marked as failed",
			slog.String("proxy", proxyURL),
			slog.Int("failure_count", info.FailureCount),
			slog.Duration("backoff", backoff))
	}

	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordProxyFailure(proxyURL)
	}

	m.reportAvailable()
}

// MarkSuccess marks a proxy as healthy and resets its failure count.
func (m *Manager) MarkSuccess(proxyURL string) {
	m.mu.Lock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		m.mu.Unlock()

		return
	}

	recovered := info.State == ProxyStateFailed
	info.State = ProxyStateAvailable
	info.FailureCount = 0
	info.BackoffUntil = time.Time{}

	m.mu.Unlock()

	if recovered {
		m.log.Info("proxy restored", slog.String("proxy", proxyURL))
		m.reportAvailable()
	}
}

// HealthCheck dials the proxy host and updates its state.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	host, err := dialAddr(proxyURL)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	if info, exists := m.proxies[proxyURL]; exists {
		info.LastHealthChk = time.Now()
	}
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// dialAddr returns host:port for a proxy URL, filling in the scheme's default port.
func dialAddr(proxyURL string) (string, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("parse proxy URL: %w", err)
	}

	if parsed.Port() != "" {
		return parsed.Host, nil
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		return net.JoinHostPort(parsed.Hostname(), defaultSOCKSPort), nil
	case "http", "https":
		return net.JoinHostPort(parsed.Hostname(), defaultHTTPPort), nil
	default:
		return "", fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
}

// StartHealthChecker starts background health checking for all proxies.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m.cfg.HealthCheckInterval <= 0 || len(m.proxies) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAllProxies(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", len(m.proxies)))
}

// ProxyStats represents statistics for a proxy.
type ProxyStats struct {
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// GetStats returns current proxy statistics.
func (m *Manager) GetStats() map[string]ProxyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]ProxyStats, len(m.proxies))
	for proxyURL, info := range m.proxies {
		stats[proxyURL] = ProxyStats{
			State:         info.State,
			FailureCount:  info.FailureCount,
			LastFailure:   info.LastFailure,
			BackoffUntil:  info.BackoffUntil,
			LastHealthChk: info.LastHealthChk,
		}
	}

	return stats
}

// HasProxies returns true if any proxies are configured.
func (m *Manager) HasProxies() bool {
	return len(m.proxies) > 0
}

// ProxyCount returns the total number of configured proxies.
func (m *Manager) ProxyCount() int {
	return len(m.proxies)
}

// AvailableCount returns the number of currently available proxies.
func (m *Manager) AvailableCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.getAvailableProxies())
}

func (m *Manager) reportAvailable() {
	if m.metrics == nil {
		return
	}

	m.metrics.SetProxiesAvailable(m.AvailableCount())
}

func (m *Manager) getAvailableProxies() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.State == ProxyStateAvailable || now.After(info.BackoffUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}

func (m *Manager) checkAllProxies(ctx context.Context) {
	m.mu.RLock()
	proxies := make([]string, len(m.order))
	copy(proxies, m.order)
	m.mu.RUnlock()

	for _, proxy := range proxies {
		select {
		case <-ctx.Done():
			return
		default:
			if err := m.HealthCheck(ctx, proxy); err != nil {
				m.log.Debug("proxy health check failed",
					slog.String("proxy", proxy),
					slog.Any("error", err))
			}
		}
	}
}
