package sinks

import (
	"github.com/marketscope/vacancy-crawler/internal/metrics"
	"github.com/marketscope/vacancy-crawler/internal/progress"
)

// MetricsSink translates progress events into Prometheus metrics.
type MetricsSink struct{}

// NewMetricsSink constructs a MetricsSink. Call metrics.Init before use.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Consume records one event.
func (s *MetricsSink) Consume(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		metrics.SetRunActive(true)
	case progress.StagePageDone:
		metrics.ObservePage("ok")
		metrics.ObserveVacancy("inserted", evt.Inserted)
		metrics.ObserveVacancy("skipped", evt.Skipped)
		metrics.ObserveVacancy("failed", evt.Failed)
	case progress.StageRunDone:
		metrics.SetRunActive(false)
		metrics.ObserveRun("done")
	case progress.StageRunError:
		metrics.SetRunActive(false)
		metrics.ObserveRun("error")
	}
}
