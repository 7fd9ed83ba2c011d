package aggregator

import (
	"context"
	"net/url"

	"github.com/dvloznov/networth-sync/internal/session"
)

// TwoFactorMode selects how the second-factor code is delivered.
type TwoFactorMode string

const (
	// ModeSMS delivers the verification code by text message.
	ModeSMS TwoFactorMode = "SMS"
)

// Client is the narrow surface of the aggregator API the sync pipeline uses.
// This interface enables mocking of the remote service in tests.
type Client interface {
	// Login identifies the user and submits the password. It returns
	// ErrTwoFactorRequired when the device is not remembered.
	Login(ctx context.Context, email, password string) error

	// TwoFactorChallenge asks the aggregator to deliver a verification code.
	TwoFactorChallenge(ctx context.Context, mode TwoFactorMode) error

	// TwoFactorVerify submits the code the user received.
	TwoFactorVerify(ctx context.Context, mode TwoFactorMode, code string) error

	// ReauthenticatePassword resubmits the password to finalize a session
	// after a successful verification.
	ReauthenticatePassword(ctx context.Context, password string) error

	// Fetch posts to an /api endpoint and returns the decoded response.
	Fetch(ctx context.Context, endpoint string, params url.Values) (*Response, error)

	// Session returns a snapshot of the current session tokens.
	Session() session.Session

	// SetSession installs the tokens in s, typically restored from a
	// previous run.
	SetSession(s session.Session)
}
