// Package auth drives the aggregator login handshake: reuse a stored session
// when there is one, otherwise log in and complete the SMS challenge once.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/session"
)

// State is the position of an Authenticator in the login handshake.
type State int

const (
	Unauthenticated State = iota
	ChallengeIssued
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case ChallengeIssued:
		return "challenge_issued"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrReauthExhausted is returned when the session was rejected a second time
// in the same run.
var ErrReauthExhausted = errors.New("auth: re-authentication already attempted in this run")

// ErrFreshSessionRejected is returned when the aggregator rejects a session
// this run logged in for itself.
var ErrFreshSessionRejected = errors.New("auth: session from this run's login was rejected")

// AuthError reports which step of the handshake failed.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CredentialProvider supplies the secrets the handshake needs. Implementations
// may read configuration or prompt the user.
type CredentialProvider interface {
	Email(ctx context.Context) (string, error)
	Password(ctx context.Context) (string, error)
	TwoFactorCode(ctx context.Context, mode aggregator.TwoFactorMode) (string, error)
}

// Authenticator is not safe for concurrent use; a run owns exactly one.
type Authenticator struct {
	client aggregator.Client
	creds  CredentialProvider
	state    State
	reauth   bool
	restored bool
}

// NewAuthenticator returns an Authenticator in the Unauthenticated state.
func NewAuthenticator(client aggregator.Client, creds CredentialProvider) *Authenticator {
	return &Authenticator{client: client, creds: creds}
}

// State returns the current handshake state.
func (a *Authenticator) State() State {
	return a.state
}

// Authenticate installs prior on the client when it is non-empty and trusts
// it without a network call. With no prior session it runs the full login.
// The returned snapshot is what should be persisted.
func (a *Authenticator) Authenticate(ctx context.Context, prior session.Session) (session.Session, error) {
	log := logger.FromContext(ctx)

	if !prior.IsEmpty() {
		a.client.SetSession(prior.Clone())
		a.state = Authenticated
		a.restored = true
		log.Info().Int("tokens", len(prior)).Msg("Reusing stored aggregator session")
		return a.client.Session(), nil
	}

	log.Info().Msg("No stored session, logging in")
	a.restored = false
	return a.Login(ctx)
}

// Login runs the full handshake regardless of any installed session cookies.
func (a *Authenticator) Login(ctx context.Context) (session.Session, error) {
	log := logger.FromContext(ctx)
	a.state = Unauthenticated

	email, err := a.creds.Email(ctx)
	if err != nil {
		return nil, a.fail("email", err)
	}
	password, err := a.creds.Password(ctx)
	if err != nil {
		return nil, a.fail("password", err)
	}

	err = a.client.Login(ctx, email, password)
	switch {
	case err == nil:
		a.state = Authenticated
		log.Info().Msg("Logged in on a remembered device")
		return a.client.Session(), nil
	case errors.Is(err, aggregator.ErrTwoFactorRequired):
		a.state = ChallengeIssued
		log.Info().Msg("Aggregator requested a second factor")
	default:
		return nil, a.fail("login", err)
	}

	if err := a.completeChallenge(ctx, password); err != nil {
		return nil, err
	}

	a.state = Authenticated
	log.Info().Msg("Two-factor login completed")
	return a.client.Session(), nil
}

// Reauthenticate is the fallback for a stored session the aggregator no
// longer accepts. The cookies stay installed so a remembered device is not
// challenged again. It may run once per Authenticator, and only when the
// current session came from Authenticate restoring a stored one.
func (a *Authenticator) Reauthenticate(ctx context.Context) (session.Session, error) {
	if a.reauth {
		a.state = Failed
		return nil, ErrReauthExhausted
	}
	if !a.restored {
		return nil, a.fail("reauthenticate", ErrFreshSessionRejected)
	}
	a.reauth = true
	a.restored = false

	log := logger.FromContext(ctx)
	log.Warn().Msg("Stored session rejected, re-authenticating")
	return a.Login(ctx)
}

func (a *Authenticator) completeChallenge(ctx context.Context, password string) error {
	mode := aggregator.ModeSMS

	if err := a.client.TwoFactorChallenge(ctx, mode); err != nil {
		return a.fail("challenge", err)
	}

	code, err := a.creds.TwoFactorCode(ctx, mode)
	if err != nil {
		return a.fail("code", err)
	}

	if err := a.client.TwoFactorVerify(ctx, mode, code); err != nil {
		return a.fail("verify", err)
	}

	if err := a.client.ReauthenticatePassword(ctx, password); err != nil {
		return a.fail("password", err)
	}
	return nil
}

func (a *Authenticator) fail(step string, err error) error {
	a.state = Failed
	return &AuthError{Step: step, Err: err}
}
