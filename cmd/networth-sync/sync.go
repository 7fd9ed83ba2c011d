package main

import (
	"fmt"
	"time"

	"github.com/dvloznov/networth-sync/internal/archive"
	"github.com/dvloznov/networth-sync/internal/auth"
	"github.com/dvloznov/networth-sync/internal/fetcher"
	"github.com/dvloznov/networth-sync/internal/syncer"
	"github.com/spf13/cobra"
)

var flagDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the latest figures and update the spreadsheet",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Fetch and plan, but do not write to the spreadsheet")
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, cancel, cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	if err := cfg.ValidateSync(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := newAggregator(cfg)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(client, credentialProvider(cfg))
	data := fetcher.New(client, authenticator, store, fetcher.Options{PageSize: cfg.Window.PageSize})

	sheetSync, err := newSheetSync(ctx, cfg)
	if err != nil {
		return err
	}

	deps := syncer.Deps{
		Auth:    authenticator,
		Fetcher: data,
		Store:   store,
		Sheets:  sheetSync,
	}
	if cfg.ArchiveEnabled() && !flagDryRun {
		arch, err := archive.NewBigQueryArchive(ctx, cfg.Archive.ProjectID, cfg.Archive.Dataset)
		if err != nil {
			return err
		}
		defer arch.Close()
		deps.Archive = arch
	}

	start, end := cfg.FetchWindow(time.Now())
	report, err := syncer.New(deps, syncer.Options{
		DryRun:      flagDryRun,
		WindowStart: start,
		WindowEnd:   end,
	}).Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Sync failed")
		return err
	}

	verb := "Updated"
	if report.DryRun {
		verb = "Would update"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s row %d) and %d transactions.\n",
		verb, report.Month.Label(), report.Decision.Policy, report.Decision.Row, report.Transactions)
	if report.Truncated {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: the transaction window hit the page size of %d; older rows may be missing.\n", data.PageSize())
	}
	return nil
}
