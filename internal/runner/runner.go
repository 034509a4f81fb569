// Package runner drives one vacancy search end to end: page by page it
// fetches, parses, normalizes and stores listings, emitting progress events
// along the way. At most one run is active at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/progress"
	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a search run is already in progress")

// Fetcher retrieves one search page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser extracts listings from a fetched page.
type Parser interface {
	ParsePage(html []byte) (scrape.PageResult, error)
}

// Store persists normalized vacancies and search history.
type Store interface {
	Upsert(ctx context.Context, v scrape.Vacancy, overwrite bool) (store.UpsertOutcome, error)
	RecordSearch(ctx context.Context, rec store.SearchRecord) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Config carries the run parameters that do not vary per request.
type Config struct {
	// BaseURL is the search site root, e.g. https://hh.ru.
	BaseURL string
	// PageLimit caps pages per run when the request does not set one.
	PageLimit int
	// AreaID maps a human location name to the site's area identifier.
	AreaID func(location string) string
}

// Summary reports the outcome of one finished run.
type Summary struct {
	RunID      uuid.UUID         `json:"run_id"`
	Keyword    string            `json:"keyword"`
	Location   string            `json:"location"`
	Experience scrape.Experience `json:"experience"`
	Pages      int               `json:"pages"`
	Inserted   int               `json:"inserted"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	// Partial is true when the run stopped early but kept what it had
	// already stored, e.g. after a block or a cancellation.
	Partial bool   `json:"partial"`
	Note    string `json:"note,omitempty"`
}

// Status is a point-in-time view of the active run.
type Status struct {
	RunID      uuid.UUID         `json:"run_id"`
	Keyword    string            `json:"keyword"`
	Location   string            `json:"location"`
	Experience scrape.Experience `json:"experience"`
	Page       int               `json:"page"`
	Inserted   int               `json:"inserted"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	StartedAt  time.Time         `json:"started_at"`
}

// Runner executes search runs sequentially.
type Runner struct {
	cfg     Config
	fetcher Fetcher
	parser  Parser
	store   Store
	clock   Clock
	emitter progress.Emitter
	logger  *zap.Logger

	busy atomic.Bool

	mu      sync.Mutex
	current *runState
}

type runState struct {
	status Status
	cancel context.CancelFunc
}

// New constructs a Runner.
func New(cfg Config, f Fetcher, p Parser, s Store, clock Clock, emitter progress.Emitter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AreaID == nil {
		cfg.AreaID = func(string) string { return "" }
	}
	return &Runner{
		cfg:     cfg,
		fetcher: f,
		parser:  p,
		store:   s,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Snapshot returns the active run's status, if any.
func (r *Runner) Snapshot() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Status{}, false
	}
	return r.current.status, true
}

// Cancel stops the active run at the next page boundary. It reports whether
// there was a run to cancel.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return false
	}
	r.current.cancel()
	return true
}

// Run executes one search. It returns ErrBusy if another run is active.
// Fetch failures mid-run end the run early with a partial Summary and a nil
// error; storage failures abort with an error. Listings stored before either
// kind of stop are kept.
func (r *Runner) Run(ctx context.Context, req scrape.SearchRequest) (Summary, error) {
	if err := validateRequest(req); err != nil {
		return Summary{}, err
	}
	if !r.busy.CompareAndSwap(false, true) {
		return Summary{}, ErrBusy
	}
	return r.run(ctx, req)
}

// Start launches a search in the background. The busy latch is claimed
// before Start returns, so a nil result guarantees the run is underway and
// ErrBusy means nothing was started.
func (r *Runner) Start(req scrape.SearchRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	if !r.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	go func() {
		sum, err := r.run(context.Background(), req)
		if err != nil {
			r.logger.Error("background run failed",
				zap.String("keyword", req.Keyword), zap.Error(err))
			return
		}
		r.logger.Info("background run finished",
			zap.String("keyword", sum.Keyword),
			zap.Int("pages", sum.Pages),
			zap.Int("inserted", sum.Inserted+sum.Updated),
			zap.Bool("partial", sum.Partial))
	}()
	return nil
}

func validateRequest(req scrape.SearchRequest) error {
	if req.Keyword == "" {
		return fmt.Errorf("keyword is required")
	}
	if !req.Experience.Valid() {
		return fmt.Errorf("unknown experience bucket %q", req.Experience)
	}
	return nil
}

// run does the work. The caller must hold the busy latch.
func (r *Runner) run(ctx context.Context, req scrape.SearchRequest) (Summary, error) {
	defer r.busy.Store(false)

	pageLimit := req.PageLimit
	if pageLimit <= 0 {
		pageLimit = r.cfg.PageLimit
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sum := Summary{
		RunID:      uuid.New(),
		Keyword:    req.Keyword,
		Location:   req.Location,
		Experience: req.Experience,
		StartedAt:  r.clock.Now(),
	}
	r.setCurrent(sum, cancel)
	defer r.clearCurrent()

	r.emit(progress.Event{
		RunID:   sum.RunID,
		TS:      sum.StartedAt,
		Stage:   progress.StageRunStart,
		Keyword: sum.Keyword,
	})

	areaID := r.cfg.AreaID(req.Location)
	err := r.pages(ctx, req, areaID, pageLimit, &sum)
	sum.FinishedAt = r.clock.Now()

	if err != nil {
		r.emit(progress.Event{
			RunID:    sum.RunID,
			TS:       sum.FinishedAt,
			Stage:    progress.StageRunError,
			Keyword:  sum.Keyword,
			Inserted: sum.Inserted + sum.Updated,
			Skipped:  sum.Skipped,
			Failed:   sum.Failed,
			Note:     err.Error(),
		})
		return sum, err
	}

	stage := progress.StageRunDone
	if sum.Partial {
		stage = progress.StageRunError
	}
	r.emit(progress.Event{
		RunID:    sum.RunID,
		TS:       sum.FinishedAt,
		Stage:    stage,
		Keyword:  sum.Keyword,
		Inserted: sum.Inserted + sum.Updated,
		Skipped:  sum.Skipped,
		Failed:   sum.Failed,
		Note:     sum.Note,
	})

	if err := r.store.RecordSearch(ctx, store.SearchRecord{
		Keyword:    req.Keyword,
		Location:   req.Location,
		Experience: req.Experience,
		Pages:      sum.Pages,
		Inserted:   sum.Inserted + sum.Updated,
		Skipped:    sum.Skipped,
		Failed:     sum.Failed,
		RanAt:      sum.FinishedAt,
	}); err != nil {
		r.logger.Warn("record search history", zap.Error(err))
	}
	return sum, nil
}

// pages walks the search result pages until the limit, the last page, a
// fetch failure, or cancellation. It mutates sum in place so that work done
// before an abort is still reported.
func (r *Runner) pages(ctx context.Context, req scrape.SearchRequest, areaID string, pageLimit int, sum *Summary) error {
	for page := 1; page <= pageLimit; page++ {
		if err := ctx.Err(); err != nil {
			sum.Partial = true
			sum.Note = "canceled"
			return nil
		}

		url, err := scrape.BuildSearchURL(r.cfg.BaseURL, req.Keyword, areaID, req.Experience, page)
		if err != nil {
			return fmt.Errorf("build search url: %w", err)
		}

		body, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			// Only the run's own context ending means "canceled"; a
			// request-level timeout surfaces as a FetchError below.
			if ctx.Err() != nil {
				sum.Partial = true
				sum.Note = "canceled"
				return nil
			}
			var fe *scrape.FetchError
			if errors.As(err, &fe) {
				r.logger.Warn("fetch failed, keeping partial results",
					zap.Int("page", page), zap.Error(err))
				sum.Partial = true
				sum.Note = fe.Error()
				return nil
			}
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		result, err := r.parser.ParsePage(body)
		if err != nil {
			r.logger.Warn("parse failed, keeping partial results",
				zap.Int("page", page), zap.Error(err))
			sum.Partial = true
			sum.Note = fmt.Sprintf("parse page %d: %v", page, err)
			return nil
		}

		var inserted, skipped, failed int
		for _, raw := range result.Listings {
			v, err := scrape.Normalize(raw, r.clock.Now())
			if err != nil {
				failed++
				r.logger.Debug("listing rejected", zap.String("link", raw.Link), zap.Error(err))
				continue
			}
			outcome, err := r.store.Upsert(ctx, v, req.Reimport)
			if err != nil {
				sum.Failed += failed
				return fmt.Errorf("store vacancy %s: %w", v.Link, err)
			}
			switch outcome {
			case store.OutcomeInserted:
				inserted++
				sum.Inserted++
			case store.OutcomeUpdated:
				inserted++
				sum.Updated++
			case store.OutcomeSkipped:
				skipped++
				sum.Skipped++
			}
		}
		sum.Failed += failed
		sum.Pages = page
		r.updateStatus(page, sum)

		r.emit(progress.Event{
			RunID:    sum.RunID,
			TS:       r.clock.Now(),
			Stage:    progress.StagePageDone,
			Keyword:  sum.Keyword,
			Page:     page,
			Inserted: inserted,
			Skipped:  skipped,
			Failed:   failed,
		})

		if !result.HasNextPage {
			break
		}
	}
	return nil
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}

func (r *Runner) setCurrent(sum Summary, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &runState{
		status: Status{
			RunID:      sum.RunID,
			Keyword:    sum.Keyword,
			Location:   sum.Location,
			Experience: sum.Experience,
			StartedAt:  sum.StartedAt,
		},
		cancel: cancel,
	}
}

func (r *Runner) updateStatus(page int, sum *Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.current.status.Page = page
	r.current.status.Inserted = sum.Inserted + sum.Updated
	r.current.status.Skipped = sum.Skipped
	r.current.status.Failed = sum.Failed
}

func (r *Runner) clearCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}
