package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or remove the stored aggregator session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the stored token names (values are not printed)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel, cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		store, err := newSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		s := store.Load(ctx)
		out := cmd.OutOrStdout()
		if s.IsEmpty() {
			fmt.Fprintf(out, "No session stored at %s.\n", store.Location())
			return nil
		}
		fmt.Fprintf(out, "Session at %s holds %d tokens:\n", store.Location(), len(s))
		for _, name := range s.Names() {
			fmt.Fprintf(out, "  %s\n", name)
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored session; the next run logs in again",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel, cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		store, err := newSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared session at %s.\n", store.Location())
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd)
}
