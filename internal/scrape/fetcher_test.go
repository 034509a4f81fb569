package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher(t *testing.T, cfg FetcherConfig) *Fetcher {
	t.Helper()
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{"agent-a/1.0", "agent-b/1.0"}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	f, err := NewFetcher(cfg, nil)
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{})
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestFetchRotatesUserAgents(t *testing.T) {
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.UserAgent())
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{})
	ctx := context.Background()
	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	require.Len(t, agents, 2)
	assert.NotEqual(t, agents[0], agents[1])
}

func TestFetchRetriesOnBlockThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{MaxRetries: 2})
	// Shrink the backoff floor so the test does not sit out the real
	// throttle window.
	f.retry.baseDelay = time.Millisecond
	f.retry.blockedDelay = time.Millisecond
	f.retry.maxDelay = 2 * time.Millisecond

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchBlockedAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{MaxRetries: 1})
	f.retry.baseDelay = time.Millisecond
	f.retry.blockedDelay = time.Millisecond
	f.retry.maxDelay = 2 * time.Millisecond

	_, err := f.Fetch(context.Background(), srv.URL)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, FetchBlocked, ferr.Kind)
	assert.Equal(t, http.StatusForbidden, ferr.StatusCode)
}

func TestFetchRetriesAfterRequestTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(400 * time.Millisecond)
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{RequestTimeout: 100 * time.Millisecond, MaxRetries: 2})
	f.retry.baseDelay = time.Millisecond
	f.retry.blockedDelay = time.Millisecond
	f.retry.maxDelay = 2 * time.Millisecond

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchDetectsChallengePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><div class=\"captcha\">Доступ ограничен</div></html>"))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{MaxRetries: 0})
	_, err := f.Fetch(context.Background(), srv.URL)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, FetchBlocked, ferr.Kind)
}

func TestFetchEnforcesDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	delay := 80 * time.Millisecond
	f := testFetcher(t, FetcherConfig{RequestDelay: delay})
	ctx := context.Background()

	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestFetchCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{RequestDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	cancel()
	_, err = f.Fetch(ctx, srv.URL)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(3)

	blockedErr := &FetchError{Kind: FetchBlocked, URL: "http://x"}
	assert.True(t, p.ShouldRetry(blockedErr, 1))
	assert.True(t, p.ShouldRetry(blockedErr, 2))
	assert.False(t, p.ShouldRetry(blockedErr, 3), "attempt budget exhausted")
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))

	// A request timeout wraps context.DeadlineExceeded but is still a
	// retryable fetch failure.
	timeoutErr := &FetchError{Kind: FetchTimeout, URL: "http://x", Err: context.DeadlineExceeded}
	assert.True(t, p.ShouldRetry(timeoutErr, 1))
	assert.False(t, p.ShouldRetry(timeoutErr, 3))

	backoff := p.Backoff(blockedErr, 0)
	assert.Greater(t, backoff, time.Duration(0))
	assert.LessOrEqual(t, backoff, p.maxDelay)
}
