package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/networth-sync/internal/config"
	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagConfig        string
	flagLogLevel      string
	flagSession       string
	flagSpreadsheetID string
	flagNoPrompt      bool
)

var rootCmd = &cobra.Command{
	Use:           "networth-sync",
	Short:         "Sync Personal Capital net worth and transactions into Google Sheets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "Session location: a file path or gs://bucket/object")
	rootCmd.PersistentFlags().StringVar(&flagSpreadsheetID, "spreadsheet-id", "", "Destination spreadsheet id")
	rootCmd.PersistentFlags().BoolVar(&flagNoPrompt, "no-prompt", false, "Never prompt; fail if a credential or code is missing")

	rootCmd.AddCommand(syncCmd, loginCmd, sessionCmd)
}

// setup loads and validates configuration, applies flag overrides, and
// returns a context carrying the logger and bounded by the run timeout.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, cfg, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("session") {
		cfg.Session.Location = flagSession
	}
	if flags.Changed("spreadsheet-id") {
		cfg.SpreadsheetID = flagSpreadsheetID
	}

	log := logger.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, nil, cfg, log, fmt.Errorf("invalid configuration:\n%w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout)
	ctx = logger.WithContext(ctx, log)
	return ctx, cancel, cfg, log, nil
}
