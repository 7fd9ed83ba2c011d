package main

import (
	"fmt"

	"github.com/dvloznov/networth-sync/internal/auth"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to Personal Capital and store the session",
	Long: "Runs the full login, including the SMS challenge when the device is not yet\n" +
		"remembered, and saves the session so later syncs run unattended.",
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx, cancel, cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := newAggregator(cfg)
	if err != nil {
		return err
	}
	// keep any stored cookies so a remembered device skips the challenge
	client.SetSession(store.Load(ctx))

	authenticator := auth.NewAuthenticator(client, credentialProvider(cfg))
	s, err := authenticator.Login(ctx)
	if err != nil {
		log.Error().Err(err).Str("state", authenticator.State().String()).Msg("Login failed")
		return err
	}

	if err := store.Save(ctx, s); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in. Session saved to %s (%d tokens).\n", store.Location(), len(s))
	return nil
}
