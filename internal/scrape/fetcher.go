package scrape

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/metrics"
)

// FetcherConfig controls the HTTP fetch pipeline.
type FetcherConfig struct {
	RequestTimeout time.Duration
	RequestDelay   time.Duration
	MaxRetries     int
	UserAgents     []string
}

// Fetcher issues rate-limited, identity-rotated requests via a Colly
// collector. It is safe for use from a single run loop; pacing state is
// guarded for the scheduler/API case where loops alternate.
type Fetcher struct {
	base   *colly.Collector
	cfg    FetcherConfig
	retry  *RetryPolicy
	logger *zap.Logger

	mu        sync.Mutex
	agentIdx  int
	lastFetch time.Time
}

// Markers the site serves instead of results when it suspects automation.
var blockMarkers = []string{
	"captcha",
	"Captcha",
	"Доступ ограничен",
}

// NewFetcher constructs a Fetcher.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) (*Fetcher, error) {
	if len(cfg.UserAgents) == 0 {
		return nil, errors.New("at least one user agent is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector()
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.RequestTimeout)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})

	return &Fetcher{
		base:   base,
		cfg:    cfg,
		retry:  NewRetryPolicy(cfg.MaxRetries + 1),
		logger: logger,
	}, nil
}

// Fetch retrieves one page, retrying soft failures with backoff. The
// returned error, if any, is always a *FetchError (or a context error).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := f.awaitTurn(ctx); err != nil {
			return nil, err
		}
		body, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetch(time.Since(start))
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !f.retry.ShouldRetry(err, attempt+1) {
			break
		}
		backoff := f.retry.Backoff(err, attempt)
		f.logger.Warn("fetch attempt failed, backing off",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// awaitTurn enforces the minimum inter-request delay.
func (f *Fetcher) awaitTurn(ctx context.Context) error {
	f.mu.Lock()
	wait := time.Duration(0)
	if !f.lastFetch.IsZero() {
		elapsed := time.Since(f.lastFetch)
		if elapsed < f.cfg.RequestDelay {
			wait = f.cfg.RequestDelay - elapsed
		}
	}
	f.lastFetch = time.Now().Add(wait)
	f.mu.Unlock()
	return sleepCtx(ctx, wait)
}

func (f *Fetcher) nextAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent := f.cfg.UserAgents[f.agentIdx%len(f.cfg.UserAgents)]
	f.agentIdx++
	return agent
}

type fetchResult struct {
	body       []byte
	statusCode int
	err        error
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	agent := f.nextAgent()
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", agent)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3")
	})
	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{
			body:       append([]byte(nil), r.Body...),
			statusCode: r.StatusCode,
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		res := fetchResult{err: err}
		if r != nil {
			res.statusCode = r.StatusCode
		}
		send(res)
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, f.classify(rawURL, 0, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.err != nil {
			return nil, f.classify(rawURL, res.statusCode, res.err)
		}
		if blocked(res.body) {
			return nil, &FetchError{Kind: FetchBlocked, URL: rawURL, StatusCode: res.statusCode}
		}
		return res.body, nil
	default:
		return nil, &FetchError{Kind: FetchNetwork, URL: rawURL, Err: errors.New("no response produced")}
	}
}

// classify maps a transport error and status code onto the FetchError
// taxonomy.
func (f *Fetcher) classify(url string, status int, err error) error {
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests:
		return &FetchError{Kind: FetchBlocked, URL: url, StatusCode: status, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchTimeout, URL: url, StatusCode: status, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchTimeout, URL: url, StatusCode: status, Err: err}
	}
	return &FetchError{Kind: FetchNetwork, URL: url, StatusCode: status, Err: err}
}

// blocked spots anti-bot challenge pages served with a 200.
func blocked(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	text := string(body)
	for _, marker := range blockMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
