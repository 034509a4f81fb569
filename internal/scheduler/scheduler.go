// Package scheduler periodically re-runs saved searches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/runner"
	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

// SearchRunner executes one search run.
type SearchRunner interface {
	Run(ctx context.Context, req scrape.SearchRequest) (runner.Summary, error)
}

// SearchSource lists the saved searches to sweep.
type SearchSource interface {
	SavedSearches(ctx context.Context) ([]store.SavedSearch, error)
}

// Scheduler sweeps saved searches on a fixed interval.
type Scheduler struct {
	cron     *cron.Cron
	runner   SearchRunner
	source   SearchSource
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

// New constructs a Scheduler. The sweep is not started until Start.
func New(interval time.Duration, r SearchRunner, src SearchSource, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		runner:   r,
		source:   src,
		logger:   logger,
		interval: interval,
		// A sweep visits every saved search; give it ample room.
		timeout: time.Hour,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be > 0")
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.sweep); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the cron loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// sweep runs every saved search once, in order. A busy runner ends the sweep
// early; the next tick picks the searches up again.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	searches, err := s.source.SavedSearches(ctx)
	if err != nil {
		s.logger.Error("load saved searches", zap.Error(err))
		return
	}
	for _, search := range searches {
		sum, err := s.runner.Run(ctx, scrape.SearchRequest{
			Keyword:    search.Keyword,
			Location:   search.Location,
			Experience: search.Experience,
		})
		if errors.Is(err, runner.ErrBusy) {
			s.logger.Info("sweep skipped, a run is in progress")
			return
		}
		if err != nil {
			s.logger.Error("scheduled search failed",
				zap.String("keyword", search.Keyword), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled search finished",
			zap.String("keyword", search.Keyword),
			zap.Int("pages", sum.Pages),
			zap.Int("inserted", sum.Inserted+sum.Updated),
			zap.Int("skipped", sum.Skipped),
			zap.Bool("partial", sum.Partial))
	}
}
