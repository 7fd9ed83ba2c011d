package aggregator

import (
	"errors"
	"fmt"
)

var (
	// ErrTwoFactorRequired is returned by Login when the aggregator demands a
	// second factor before granting a session.
	ErrTwoFactorRequired = errors.New("aggregator: two-factor authentication required")

	// ErrUnauthorized indicates the session is missing, expired or the
	// credentials were rejected.
	ErrUnauthorized = errors.New("aggregator: not authenticated")
)

// Error codes in spHeader.errors that mean the session is not usable.
var unauthorizedCodes = map[int]bool{
	201: true, // session not authenticated
	202: true, // authentication required
	203: true, // session expired
}

// RemoteError describes a non-success response from the aggregator.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("aggregator %s: status %d", e.Endpoint, e.StatusCode)
	if e.Code != 0 {
		msg += fmt.Sprintf(", code %d", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Temporary reports whether the request may succeed if repeated: transport
// failures and 5xx responses.
func (e *RemoteError) Temporary() bool {
	if errors.Is(e.Err, ErrUnauthorized) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= 500
}
