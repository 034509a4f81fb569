package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketscope/vacancy-crawler/internal/progress"
	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

type fetchResp struct {
	body string
	err  error
}

// scriptFetcher replays a fixed sequence of responses.
type scriptFetcher struct {
	mu    sync.Mutex
	resps []fetchResp
	calls []string
}

func (f *scriptFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if len(f.resps) == 0 {
		return nil, fmt.Errorf("unexpected fetch of %s", url)
	}
	next := f.resps[0]
	f.resps = f.resps[1:]
	if next.err != nil {
		return nil, next.err
	}
	return []byte(next.body), nil
}

// mapParser resolves page bodies to prepared results.
type mapParser struct {
	pages map[string]scrape.PageResult
}

func (p *mapParser) ParsePage(html []byte) (scrape.PageResult, error) {
	result, ok := p.pages[string(html)]
	if !ok {
		return scrape.PageResult{}, fmt.Errorf("unexpected page body %q", html)
	}
	return result, nil
}

// memStore keeps vacancies in a map keyed by link.
type memStore struct {
	mu         sync.Mutex
	rows       map[string]scrape.Vacancy
	history    []store.SearchRecord
	failUpsert bool
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]scrape.Vacancy)}
}

func (m *memStore) Upsert(_ context.Context, v scrape.Vacancy, overwrite bool) (store.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return 0, errors.New("connection refused")
	}
	if _, exists := m.rows[v.Link]; exists {
		if !overwrite {
			return store.OutcomeSkipped, nil
		}
		m.rows[v.Link] = v
		return store.OutcomeUpdated, nil
	}
	m.rows[v.Link] = v
	return store.OutcomeInserted, nil
}

func (m *memStore) RecordSearch(_ context.Context, rec store.SearchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func listing(link, title string) scrape.RawVacancy {
	return scrape.RawVacancy{Link: link, Title: title, Company: "Acme", Location: "Москва"}
}

func testConfig() Config {
	return Config{
		BaseURL:   "https://hh.ru",
		PageLimit: 5,
		AreaID:    func(string) string { return "1" },
	}
}

func newTestRunner(f Fetcher, p Parser, s Store, rec *eventRecorder) *Runner {
	return New(testConfig(), f, p, s, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, rec, nil)
}

func TestRunStoresListingsAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := &scriptFetcher{resps: []fetchResp{{body: "page1"}, {body: "page2"}}}
	parser := &mapParser{pages: map[string]scrape.PageResult{
		"page1": {
			Listings:    []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1"), listing("https://hh.ru/vacancy/2", "Dev 2")},
			HasNextPage: true,
		},
		"page2": {
			// The first listing repeats a link from page one.
			Listings:    []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1"), listing("https://hh.ru/vacancy/3", "Dev 3")},
			HasNextPage: false,
		},
	}}
	db := newMemStore()
	rec := &eventRecorder{}
	r := newTestRunner(fetcher, parser, db, rec)

	sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Pages)
	require.Equal(t, 3, sum.Inserted)
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, sum.Failed)
	require.False(t, sum.Partial)
	require.Len(t, db.rows, 3)

	require.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StagePageDone,
		progress.StagePageDone,
		progress.StageRunDone,
	}, rec.stages())

	require.Len(t, db.history, 1)
	require.Equal(t, "go", db.history[0].Keyword)
	require.Equal(t, 3, db.history[0].Inserted)
}

func TestRunSecondPassSkipsEverything(t *testing.T) {
	t.Parallel()

	page := scrape.PageResult{
		Listings: []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1")},
	}
	parser := &mapParser{pages: map[string]scrape.PageResult{"page": page}}
	db := newMemStore()

	fetcher := &scriptFetcher{resps: []fetchResp{{body: "page"}}}
	r := newTestRunner(fetcher, parser, db, &eventRecorder{})
	sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Inserted)

	fetcher = &scriptFetcher{resps: []fetchResp{{body: "page"}}}
	r = newTestRunner(fetcher, parser, db, &eventRecorder{})
	sum, err = r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.NoError(t, err)
	require.Zero(t, sum.Inserted)
	require.Equal(t, 1, sum.Skipped)

	fetcher = &scriptFetcher{resps: []fetchResp{{body: "page"}}}
	r = newTestRunner(fetcher, parser, db, &eventRecorder{})
	sum, err = r.Run(context.Background(), scrape.SearchRequest{Keyword: "go", Reimport: true})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Updated)
	require.Zero(t, sum.Skipped)
}

func TestRunKeepsPartialResultsOnFetchError(t *testing.T) {
	t.Parallel()

	blockErr := &scrape.FetchError{Kind: scrape.FetchBlocked, URL: "https://hh.ru", StatusCode: 403}
	fetcher := &scriptFetcher{resps: []fetchResp{{body: "page1"}, {err: blockErr}}}
	parser := &mapParser{pages: map[string]scrape.PageResult{
		"page1": {
			Listings:    []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1")},
			HasNextPage: true,
		},
	}}
	db := newMemStore()
	rec := &eventRecorder{}
	r := newTestRunner(fetcher, parser, db, rec)

	sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.NoError(t, err)
	require.True(t, sum.Partial)
	require.Equal(t, 1, sum.Pages)
	require.Equal(t, 1, sum.Inserted)
	require.Contains(t, sum.Note, "blocked")
	require.Len(t, db.rows, 1)
	require.Equal(t, progress.StageRunError, rec.stages()[len(rec.stages())-1])
	// A partial run still lands in the history.
	require.Len(t, db.history, 1)
}

func TestRunReportsSiteTimeoutAsFetchFailure(t *testing.T) {
	t.Parallel()

	timeoutErr := &scrape.FetchError{
		Kind: scrape.FetchTimeout,
		URL:  "https://hh.ru/search/vacancy",
		Err:  context.DeadlineExceeded,
	}
	fetcher := &scriptFetcher{resps: []fetchResp{{body: "page1"}, {err: timeoutErr}}}
	parser := &mapParser{pages: map[string]scrape.PageResult{
		"page1": {
			Listings:    []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1")},
			HasNextPage: true,
		},
	}}
	db := newMemStore()
	r := newTestRunner(fetcher, parser, db, &eventRecorder{})

	sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.NoError(t, err)
	require.True(t, sum.Partial)
	require.Equal(t, 1, sum.Inserted)
	// An uncanceled run stopped by a request timeout names the failure,
	// not "canceled".
	require.Contains(t, sum.Note, "timeout")
	require.NotEqual(t, "canceled", sum.Note)
	require.Len(t, db.history, 1)
}

func TestRunAbortsOnStoreError(t *testing.T) {
	t.Parallel()

	fetcher := &scriptFetcher{resps: []fetchResp{{body: "page1"}}}
	parser := &mapParser{pages: map[string]scrape.PageResult{
		"page1": {Listings: []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1")}},
	}}
	db := newMemStore()
	db.failUpsert = true
	rec := &eventRecorder{}
	r := newTestRunner(fetcher, parser, db, rec)

	_, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrBusy)
	require.Equal(t, progress.StageRunError, rec.stages()[len(rec.stages())-1])
	require.Empty(t, db.history)
}

func TestRunStopsWhenNoNextPage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptFetcher{resps: []fetchResp{{body: "only"}}}
	parser := &mapParser{pages: map[string]scrape.PageResult{
		"only": {Listings: []scrape.RawVacancy{listing("https://hh.ru/vacancy/1", "Dev 1")}},
	}}
	r := newTestRunner(fetcher, parser, newMemStore(), &eventRecorder{})

	sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go", PageLimit: 5})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Pages)
	require.Len(t, fetcher.calls, 1)
}

func TestRunCountsUnparsableListings(t *testing.T) {
	t.Parallel()

	fetcher := &scriptFetcher{resps: []fetchResp{{body: "page1"}}}
	parser := &mapParser{pages: map[string]scrape.PageResult{
		"page1": {Listings: []scrape.RawVacancy{
			listing("https://hh.ru/vacancy/1", "Dev 1"),
			{Link: "https://hh.ru/vacancy/2"}, // no title
		}},
	}}
	r := newTestRunner(fetcher, parser, newMemStore(), &eventRecorder{})

	sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Inserted)
	require.Equal(t, 1, sum.Failed)
}

func TestRunValidatesRequest(t *testing.T) {
	t.Parallel()

	r := newTestRunner(&scriptFetcher{}, &mapParser{}, newMemStore(), &eventRecorder{})

	_, err := r.Run(context.Background(), scrape.SearchRequest{})
	require.Error(t, err)

	_, err = r.Run(context.Background(), scrape.SearchRequest{Keyword: "go", Experience: "weird"})
	require.Error(t, err)
}

// gateFetcher blocks inside Fetch until released so tests can observe an
// in-flight run.
type gateFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	body    string
}

func (f *gateFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.release:
		return []byte(f.body), nil
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	fetcher := &gateFetcher{started: make(chan struct{}), release: make(chan struct{}), body: "page"}
	parser := &mapParser{pages: map[string]scrape.PageResult{"page": {}}}
	r := newTestRunner(fetcher, parser, newMemStore(), &eventRecorder{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
		done <- err
	}()

	<-fetcher.started
	require.True(t, r.Busy())

	_, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "python"})
	require.ErrorIs(t, err, ErrBusy)

	status, ok := r.Snapshot()
	require.True(t, ok)
	require.Equal(t, "go", status.Keyword)

	close(fetcher.release)
	require.NoError(t, <-done)
	require.False(t, r.Busy())
}

func TestStartClaimsSlotBeforeReturning(t *testing.T) {
	t.Parallel()

	fetcher := &gateFetcher{started: make(chan struct{}), release: make(chan struct{}), body: "page"}
	parser := &mapParser{pages: map[string]scrape.PageResult{"page": {}}}
	db := newMemStore()
	r := newTestRunner(fetcher, parser, db, &eventRecorder{})

	require.NoError(t, r.Start(scrape.SearchRequest{Keyword: "go"}))
	require.True(t, r.Busy(), "slot is held as soon as Start returns")

	require.ErrorIs(t, r.Start(scrape.SearchRequest{Keyword: "python"}), ErrBusy)
	_, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "python"})
	require.ErrorIs(t, err, ErrBusy)

	<-fetcher.started
	close(fetcher.release)
	require.Eventually(t, func() bool { return !r.Busy() }, time.Second, 5*time.Millisecond)
	require.Len(t, db.history, 1)
}

func TestStartValidatesRequest(t *testing.T) {
	t.Parallel()

	r := newTestRunner(&scriptFetcher{}, &mapParser{}, newMemStore(), &eventRecorder{})
	require.Error(t, r.Start(scrape.SearchRequest{}))
	require.False(t, r.Busy())
}

func TestCancelStopsActiveRun(t *testing.T) {
	t.Parallel()

	fetcher := &gateFetcher{started: make(chan struct{}), release: make(chan struct{})}
	r := newTestRunner(fetcher, &mapParser{}, newMemStore(), &eventRecorder{})

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := r.Run(context.Background(), scrape.SearchRequest{Keyword: "go"})
		done <- result{sum, err}
	}()

	<-fetcher.started
	require.True(t, r.Cancel())

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.sum.Partial)
	require.Equal(t, "canceled", res.sum.Note)

	require.False(t, r.Cancel())
}
