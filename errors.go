package main

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchError is a failed page fetch. It is scoped to a single page.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request can succeed.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// ParseError is a markup row that could not be turned into a record.
type ParseError struct {
	Row   int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError is a failed write. The transaction it belongs to has been
// rolled back.
type PersistenceError struct {
	Op           string
	TournamentID int
	Err          error
}

func (e *PersistenceError) Error() string {
	if e.TournamentID != 0 {
		return fmt.Sprintf("%s tournament %d: %v", e.Op, e.TournamentID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var (
	errMissingCell = errors.New("missing cell")
	errNoLink      = errors.New("no tournament link")
	errNotNumeric  = errors.New("not numeric")
	errNoPlayer    = errors.New("no player name")
	errDuplicate   = errors.New("duplicate player")
	errWeekRange   = errors.New("week must be 1 or later")

	errTournamentExists = errors.New("tournament already stored")
)
