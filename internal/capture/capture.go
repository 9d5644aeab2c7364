// Package capture turns the three input modalities into expense records.
//
// The manual adapter validates a form and produces one expense. The
// spreadsheet and image adapters upload a file to the agent, decode its
// reply into candidates and hand them back as an uncommitted preview; the
// ledger is only touched when a preview is confirmed.
package capture

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrBusy is returned while another request on the same adapter is in flight.
	ErrBusy = errors.New("another request is already in progress")

	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file is too large")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrUnreadableFile  = errors.New("file could not be read")
)

// DefaultMaxUploadBytes caps uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// fileError reports a pre-validation failure as a field error on "file".
func fileError(err error) error {
	return validation.Errors{"file": err}
}

// guard allows a single in-flight request.
type guard chan struct{}

func newGuard() guard {
	return make(guard, 1)
}

func (g guard) acquire() (release func(), err error) {
	select {
	case g <- struct{}{}:
		return func() { <-g }, nil
	default:
		return nil, ErrBusy
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"02/01/2006",
	"02.01.2006",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// ParseDate accepts ISO dates first and a few common day-first layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("must be a date like 2025-01-31")
}
