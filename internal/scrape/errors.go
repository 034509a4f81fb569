package scrape

import (
	"errors"
	"fmt"
)

// FetchKind classifies fetch failures after retries are exhausted.
type FetchKind string

// Fetch failure kinds.
const (
	FetchBlocked FetchKind = "blocked"
	FetchTimeout FetchKind = "timeout"
	FetchNetwork FetchKind = "network"
)

// FetchError is returned by the Fetcher once its retry budget is spent.
type FetchError struct {
	Kind       FetchKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports a record that cannot be normalized. It is per
// record and never fatal to a run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid vacancy: field %q: %s", e.Field, e.Reason)
}

// AsValidation unwraps err into a *ValidationError if possible.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
