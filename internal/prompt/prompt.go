// Package prompt provides credential sources for the aggregator login.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/auth"
)

var (
	_ auth.CredentialProvider = (*Interactive)(nil)
	_ auth.CredentialProvider = (*Configured)(nil)
	_ auth.CredentialProvider = Static{}
)

// ErrNoValue is returned by Static when a field was left empty.
var ErrNoValue = errors.New("prompt: no value")

// Interactive asks on the terminal for anything it is asked for.
type Interactive struct{}

func (Interactive) Email(ctx context.Context) (string, error) {
	return ask(ctx, "Personal Capital email", false)
}

func (Interactive) Password(ctx context.Context) (string, error) {
	return ask(ctx, "Personal Capital password", true)
}

func (Interactive) TwoFactorCode(ctx context.Context, mode aggregator.TwoFactorMode) (string, error) {
	return ask(ctx, fmt.Sprintf("Enter the %s verification code", mode), false)
}

func ask(ctx context.Context, title string, secret bool) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		Value(&value).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		})
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}

	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		return "", fmt.Errorf("prompting for %q: %w", title, err)
	}
	return strings.TrimSpace(value), nil
}

// Configured returns the email and password from configuration and falls
// back to Prompter for anything missing. Verification codes always come from
// Prompter.
type Configured struct {
	EmailValue    string
	PasswordValue string
	Prompter      auth.CredentialProvider
}

// NewConfigured falls back to an Interactive prompter.
func NewConfigured(email, password string) *Configured {
	return &Configured{EmailValue: email, PasswordValue: password, Prompter: Interactive{}}
}

func (c *Configured) Email(ctx context.Context) (string, error) {
	if c.EmailValue != "" {
		return c.EmailValue, nil
	}
	return c.Prompter.Email(ctx)
}

func (c *Configured) Password(ctx context.Context) (string, error) {
	if c.PasswordValue != "" {
		return c.PasswordValue, nil
	}
	return c.Prompter.Password(ctx)
}

func (c *Configured) TwoFactorCode(ctx context.Context, mode aggregator.TwoFactorMode) (string, error) {
	return c.Prompter.TwoFactorCode(ctx, mode)
}

// Static serves fixed values and never prompts. Useful for unattended runs
// with a remembered device.
type Static struct {
	EmailValue    string
	PasswordValue string
	Code          string
}

func (s Static) Email(context.Context) (string, error) {
	return orNoValue("email", s.EmailValue)
}

func (s Static) Password(context.Context) (string, error) {
	return orNoValue("password", s.PasswordValue)
}

func (s Static) TwoFactorCode(context.Context, aggregator.TwoFactorMode) (string, error) {
	return orNoValue("verification code", s.Code)
}

func orNoValue(field, v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("%s: %w", field, ErrNoValue)
	}
	return v, nil
}
