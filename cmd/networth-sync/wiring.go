package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/auth"
	"github.com/dvloznov/networth-sync/internal/config"
	"github.com/dvloznov/networth-sync/internal/prompt"
	"github.com/dvloznov/networth-sync/internal/session"
	"github.com/dvloznov/networth-sync/internal/sheets"
	"github.com/dvloznov/networth-sync/internal/sheetsync"
	"google.golang.org/api/option"
)

func credentialProvider(cfg config.Config) auth.CredentialProvider {
	if flagNoPrompt {
		return prompt.Static{EmailValue: cfg.Aggregator.Email, PasswordValue: cfg.Aggregator.Password}
	}
	return prompt.NewConfigured(cfg.Aggregator.Email, cfg.Aggregator.Password)
}

func newAggregator(cfg config.Config) (*aggregator.PersonalCapitalClient, error) {
	client, err := aggregator.NewPersonalCapitalClient(aggregator.Options{
		BaseURL:           cfg.Aggregator.BaseURL,
		RequestTimeout:    cfg.Aggregator.RequestTimeout,
		RequestsPerSecond: cfg.Aggregator.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newSessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	store, err := session.NewStore(ctx, cfg.Session.Location)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return store, nil
}

func newSheetSync(ctx context.Context, cfg config.Config) (*sheetsync.Syncer, error) {
	ts, err := sheets.TokenSource(ctx, cfg.Google.CredentialsFile, cfg.Google.TokenFile, nil)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewSheetsClient(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}
	return sheetsync.New(svc, sheetsync.Config{
		SpreadsheetID:        cfg.SpreadsheetID,
		SummarySheet:         cfg.Summary.Sheet,
		SummaryFirstRow:      cfg.Summary.FirstRow,
		TransactionsSheet:    cfg.Transactions.Sheet,
		TransactionsStartRow: cfg.Transactions.StartRow,
		TagsPolicy:           cfg.Transactions.TagsPolicy,
	}), nil
}
