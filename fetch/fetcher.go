// Package fetch implements the verified fetch pipeline: streaming download
// with incremental digest computation, integrity verification, format-aware
// archive extraction, and application of embedded file overrides and patches.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
)

var (
	ErrNotFound     = errors.New("package content not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream registry unavailable")
)

// Download is the response from fetching package content. The caller owns
// Body and must close it.
type Download struct {
	Body        io.ReadCloser
	Size        int64 // -1 if unknown
	ContentType string
	ETag        string
}

// Downloader streams package content from a URL.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*Download, error)
}

// Fetcher downloads package content over HTTP with retries and cached DNS.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	authFn     func(url string) (headerName, headerValue string)

	stopRefresh chan struct{}
	closeOnce   sync.Once
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets the maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the initial delay for retry backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithAuthFunc sets a function that returns an auth header for a given URL.
// Return empty strings to skip authentication for that URL.
func WithAuthFunc(fn func(url string) (headerName, headerValue string)) Option {
	return func(f *Fetcher) {
		f.authFn = fn
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	resolver := &dnscache.Resolver{}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: 5 * time.Minute, // package archives can be large
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP")
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:   "git-pkgs-resolve/1.0",
		maxRetries:  3,
		baseDelay:   500 * time.Millisecond,
		stopRefresh: stop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close stops the background DNS refresh. The fetcher remains usable
// afterwards; cached entries simply stop being refreshed. Close is safe to
// call more than once.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		close(f.stopRefresh)
	})
}

// Fetch downloads package content from the given URL. Transient upstream
// failures are retried with exponential backoff; not-found is returned
// immediately.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Download, error) {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = f.baseDelay
	delays.Multiplier = 2.0
	delays.Reset()

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delays.NextBackOff()):
			}
		}

		dl, err := f.doFetch(ctx, url)
		if err == nil {
			return dl, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (f *Fetcher) doFetch(ctx context.Context, url string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	if f.authFn != nil {
		if name, value := f.authFn(url); name != "" && value != "" {
			req.Header.Set(name, value)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching content: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		size := int64(-1)
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				size = n
			}
		}
		return &Download{
			Body:        resp.Body,
			Size:        size,
			ContentType: resp.Header.Get("Content-Type"),
			ETag:        resp.Header.Get("ETag"),
		}, nil

	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, ErrUpstreamDown

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
