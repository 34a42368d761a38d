package proxymgr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mediagrab/internal/errs"
)

type proxyKey struct{}

// ClientOptions tunes the outbound HTTP client.
type ClientOptions struct {
	// ResponseHeaderTimeout bounds the wait for response headers. Bodies are unbounded
	// so large media transfers are limited only by the request context.
	ResponseHeaderTimeout time.Duration
}

// Client returns an HTTP client whose requests are routed through a randomly picked
// healthy proxy. Without configured proxies requests go direct.
func (m *Manager) Client(opt ClientOptions) *http.Client {
	base, _ := http.DefaultTransport.(*http.Transport)

	transport := base.Clone()
	transport.ResponseHeaderTimeout = opt.ResponseHeaderTimeout
	transport.Proxy = proxyFromContext

	if !m.HasProxies() {
		transport.Proxy = nil

		return &http.Client{Transport: transport}
	}

	return &http.Client{Transport: &roundTripper{mgr: m, next: transport}}
}

// roundTripper picks the proxy before the request reaches the transport so the
// outcome can be attributed to it.
type roundTripper struct {
	mgr  *Manager
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	proxy := rt.mgr.Pick()
	if proxy == "" {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), errs.ErrNoProxiesAvailable)
	}

	if rt.mgr.metrics != nil {
		rt.mgr.metrics.RecordProxyRequest(proxy)
	}

	req = req.WithContext(context.WithValue(req.Context(), proxyKey{}, proxy))

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		// caller cancellation says nothing about proxy health
		if req.Context().Err() == nil && !errors.Is(err, context.Canceled) {
			rt.mgr.MarkFailed(proxy)
		}

		return nil, err
	}

	rt.mgr.MarkSuccess(proxy)

	return resp, nil
}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	proxy, _ := req.Context().Value(proxyKey{}).(string)
	if proxy == "" {
		return nil, nil //nolint:nilnil // no proxy means direct connection
	}

	parsed, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}

	return parsed, nil
}
