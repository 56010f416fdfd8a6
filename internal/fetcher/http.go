package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ncsr-ingest/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with retry, per-host rate
// limiting, and per-host circuit breakers. The limiters are shared by all
// callers, so raising the worker count never exceeds the SEC's 10 req/s cap.
type HTTPFetcher struct {
	client           *http.Client
	opts             HTTPOptions
	mu               sync.Mutex
	limiters         map[string]*rate.Limiter
	adaptiveLimiters map[string]*AdaptiveLimiter
	breakers         *resilience.HostBreakers
}

// edgarHosts are the SEC hosts this pipeline touches.
var edgarHosts = []string{"efts.sec.gov", "www.sec.gov", "data.sec.gov"}

// RateLimitersAt returns per-host rate limiters for the EDGAR hosts, all
// sharing the given rate and burst.
func RateLimitersAt(perSec rate.Limit, burst int) map[string]*rate.Limiter {
	limiters := make(map[string]*rate.Limiter, len(edgarHosts))
	for _, h := range edgarHosts {
		limiters[h] = rate.NewLimiter(perSec, burst)
	}
	return limiters
}

// DefaultRateLimiters returns the EDGAR limiters at the SEC's published
// 10 req/s cap.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return RateLimitersAt(10, 10)
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options. Each
// configured limiter seeds an adaptive limiter at the same rate, so the
// configured delay is the starting point the adaptive tuning moves around.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ncsr-ingest/1.0"
	}
	if len(opts.RateLimiters) == 0 {
		opts.RateLimiters = DefaultRateLimiters()
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	adaptive := make(map[string]*AdaptiveLimiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		limiters[host] = lim
		adaptive[host] = NewAdaptiveLimiter(lim.Limit(), lim.Burst())
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		// Accept-Encoding is set explicitly per the SEC access guide, which
		// disables the transport's transparent gzip handling.
		DisableCompression: true,
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:             opts,
		limiters:         limiters,
		adaptiveLimiters: adaptive,
		breakers:         resilience.NewHostBreakers(breakerCfg),
	}
}

func (f *HTTPFetcher) adaptiveLimiterFor(host string) *AdaptiveLimiter {
	return f.adaptiveLimiters[host]
}

// limiterFor returns the limiter for hosts outside the configured set,
// creating and caching one per host so concurrent callers share a budget.
func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(10, 10)
	f.limiters[host] = lim
	return lim
}

func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if adaptive := f.adaptiveLimiterFor(host); adaptive != nil {
		return adaptive.Wait(ctx)
	}
	return f.limiterFor(host).Wait(ctx)
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	return req, nil
}

// doWithRetry issues the request through the shared retry helper, backing
// off 1s/2s/4s on transient failures. 404 is terminal and surfaces as
// ErrNotFound.
func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	adaptive := f.adaptiveLimiterFor(host)

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = f.opts.MaxRetries
	cfg.OnRetry = resilience.RetryLogger(host, req.Method+" "+req.URL.Path)

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		if err := f.wait(ctx, host); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, resilience.NewTransientError(err, 0)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			_ = resp.Body.Close()
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			if adaptive != nil {
				adaptive.OnRateLimit()
			}
			return nil, resilience.NewTransientError(eris.Errorf("http 429 from %s", req.URL.String()), resp.StatusCode)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			_ = resp.Body.Close()
			return nil, resilience.NewTransientError(eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
		}

		if adaptive != nil {
			adaptive.OnSuccess()
		}
		return resp, nil
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return nil, err
	}

	status := 0
	var te *resilience.TransientError
	if errors.As(err, &te) {
		status = te.StatusCode
	}
	return nil, &resilience.FetchError{URL: req.URL.String(), StatusCode: status, Err: err}
}

// Get fetches the URL and returns the decompressed response body. The
// per-host circuit breaker rejects calls immediately while EDGAR is
// failing hard.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}

	return resilience.ExecuteVal(ctx, f.breakers.Get(u.Host), func(ctx context.Context) ([]byte, error) {
		req, err := f.newRequest(ctx, http.MethodGet, rawURL)
		if err != nil {
			return nil, err
		}

		resp, err := f.doWithRetry(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.FetchError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Err:        eris.Errorf("unexpected status %d", resp.StatusCode),
			}
		}

		body := resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, eris.Wrapf(err, "fetcher: gzip reader for %s", rawURL)
			}
			defer gz.Close() //nolint:errcheck
			body = gz
		}

		data, err := io.ReadAll(body)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read body from %s", rawURL)
		}
		return data, nil
	})
}

// Head performs a HEAD request and returns the Content-Length, or 0 when
// the server does not report one. The engine sizes filings this way before
// committing to a body fetch.
func (f *HTTPFetcher) Head(ctx context.Context, rawURL string) (int64, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return 0, err
	}

	if err := f.wait(ctx, req.URL.Host); err != nil {
		return 0, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: head %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNotFound
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// BreakerStates exposes circuit breaker states for the status command.
func (f *HTTPFetcher) BreakerStates() map[string]resilience.CircuitState {
	return f.breakers.States()
}
