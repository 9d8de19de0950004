package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// CircuitBreakerDownloader wraps a Downloader with per-host circuit
// breakers, so a registry host that keeps failing stops being hammered while
// downloads from healthy hosts continue.
type CircuitBreakerDownloader struct {
	downloader Downloader
	breakers   map[string]*circuit.Breaker
	mu         sync.RWMutex
}

// NewCircuitBreakerDownloader creates a circuit breaker wrapper around a
// downloader.
func NewCircuitBreakerDownloader(d Downloader) *CircuitBreakerDownloader {
	return &CircuitBreakerDownloader{
		downloader: d,
		breakers:   make(map[string]*circuit.Breaker),
	}
}

// Close releases any resources held by the wrapped downloader.
func (c *CircuitBreakerDownloader) Close() {
	if closer, ok := c.downloader.(interface{ Close() }); ok {
		closer.Close()
	}
}

// getBreaker returns or creates the circuit breaker for the given host.
func (c *CircuitBreakerDownloader) getBreaker(host string) *circuit.Breaker {
	c.mu.RLock()
	breaker, exists := c.breakers[host]
	c.mu.RUnlock()

	if exists {
		return breaker
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if breaker, exists := c.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures; resets with exponential backoff.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})

	c.breakers[host] = breaker
	return breaker
}

// Fetch wraps the underlying downloader's Fetch with circuit breaker logic.
func (c *CircuitBreakerDownloader) Fetch(ctx context.Context, fetchURL string) (*Download, error) {
	host := extractHost(fetchURL)
	breaker := c.getBreaker(host)

	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for host %s: %w", host, ErrUpstreamDown)
	}

	var dl *Download
	err := breaker.Call(func() error {
		var fetchErr error
		dl, fetchErr = c.downloader.Fetch(ctx, fetchURL)
		return fetchErr
	}, 0)

	if err != nil {
		return nil, err
	}
	return dl, nil
}

// BreakerStates reports the current per-host breaker states, for health
// checks.
func (c *CircuitBreakerDownloader) BreakerStates() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make(map[string]string, len(c.breakers))
	for host, breaker := range c.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// extractHost extracts the host from a URL for circuit breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
