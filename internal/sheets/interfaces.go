// Package sheets is the spreadsheet boundary: a narrow value-range API and
// its Google Sheets implementation.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// InputMode tells the spreadsheet how to interpret written values.
type InputMode string

const (
	// UserEntered parses values as if typed into the UI, so numbers and
	// dates become typed cells.
	UserEntered InputMode = "USER_ENTERED"
	Raw         InputMode = "RAW"
)

// WriteOptions controls a WriteRange call.
type WriteOptions struct {
	InputMode InputMode
}

// Service defines the spreadsheet operations the sync needs.
// This interface enables mocking of the Sheets API in tests.
type Service interface {
	// ReadRange returns the rows of rng in A1 notation. Trailing empty rows
	// and cells are omitted, as the API does.
	ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)

	// WriteRange overwrites rng with rows, starting at its top-left cell.
	WriteRange(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}, opts WriteOptions) error

	// ClearRange empties the values in rng, keeping formatting.
	ClearRange(ctx context.Context, spreadsheetID, rng string) error
}

// RemoteError is a failed spreadsheet call.
type RemoteError struct {
	Op         string
	Range      string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("sheets %s %s: status %d: %v", e.Op, e.Range, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ErrNotFound matches a RemoteError for a missing spreadsheet or sheet.
var ErrNotFound = errors.New("sheets: not found")

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
