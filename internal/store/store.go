// Package store persists scraped vacancies and search metadata in Postgres.
package store

import (
	"time"

	"github.com/marketscope/vacancy-crawler/internal/scrape"
)

// UpsertOutcome says what happened to a record during Upsert.
type UpsertOutcome int

const (
	// OutcomeInserted means the link was new and a row was created.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeSkipped means the link already existed and was left alone.
	OutcomeSkipped
	// OutcomeUpdated means the link existed and its row was overwritten.
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Filter narrows queries over stored vacancies. Zero values match everything.
type Filter struct {
	Keyword    string
	Location   string
	Experience scrape.Experience
	RemoteOnly bool
	Limit      int
	Offset     int
}

// SalaryStats aggregates the salary bounds of matching vacancies.
// Records with no salary at all are excluded from the sample.
type SalaryStats struct {
	Samples int64    `json:"samples"`
	Min     *int64   `json:"min"`
	Max     *int64   `json:"max"`
	Avg     *float64 `json:"avg"`
	Median  *float64 `json:"median"`
}

// Statistics summarizes the stored vacancies matching a filter.
type Statistics struct {
	Count          int64          `json:"count"`
	Salary         SalaryStats    `json:"salary"`
	Locations      map[string]int `json:"locations"`
	Experience     map[string]int `json:"experience"`
	RemoteFraction float64        `json:"remote_fraction"`
}

// SearchRecord is one row of the search history.
type SearchRecord struct {
	ID         int64             `json:"id"`
	Keyword    string            `json:"keyword"`
	Location   string            `json:"location"`
	Experience scrape.Experience `json:"experience"`
	Pages      int               `json:"pages"`
	Inserted   int               `json:"inserted"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	RanAt      time.Time         `json:"ran_at"`
}

// SavedSearch is a query kept for scheduled re-runs.
type SavedSearch struct {
	ID         int64             `json:"id"`
	Keyword    string            `json:"keyword"`
	Location   string            `json:"location"`
	Experience scrape.Experience `json:"experience"`
	CreatedAt  time.Time         `json:"created_at"`
}
