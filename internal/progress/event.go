// Package progress defines the event stream emitted by a search run so that
// interactive callers can repaint without polling the store.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StagePageDone Stage = "PAGE_DONE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event captures one milestone of a search run. For PAGE_DONE the counters
// are that page's deltas; for RUN_DONE and RUN_ERROR they are run totals.
type Event struct {
	RunID    uuid.UUID
	TS       time.Time
	Stage    Stage
	Keyword  string
	Page     int
	Inserted int
	Skipped  int
	Failed   int
	// Note carries low-volume context such as the final error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page < 1 {
			return fmt.Errorf("page done requires a positive page, got %d", e.Page)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Inserted < 0 || e.Skipped < 0 || e.Failed < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}
