// Package archive mirrors each sync run into BigQuery so history survives
// edits to the spreadsheet.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/sheetsync"
)

const (
	snapshotsTable    = "networth_snapshots"
	transactionsTable = "transactions"
)

// Run is everything one sync fetched.
type Run struct {
	ID           string
	CapturedAt   time.Time
	Month        sheetsync.MonthKey
	Summary      aggregator.AccountSummary
	Transactions []aggregator.RawTransaction
}

// Archiver records runs.
// This interface enables mocking of the warehouse in tests.
type Archiver interface {
	ArchiveRun(ctx context.Context, run Run) error
	Close() error
}

type inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQueryArchive is the concrete implementation of Archiver backed by BigQuery.
type BigQueryArchive struct {
	client      *bigquery.Client
	inserterFor func(table string) inserter
}

// NewBigQueryArchive creates a client for projectID writing into dataset.
func NewBigQueryArchive(ctx context.Context, projectID, dataset string) (*BigQueryArchive, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryArchive: creating client: %w", err)
	}
	return &BigQueryArchive{
		client: client,
		inserterFor: func(table string) inserter {
			return client.DatasetInProject(projectID, dataset).Table(table).Inserter()
		},
	}, nil
}

// Close closes the BigQuery client connection.
func (a *BigQueryArchive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// ArchiveRun streams the snapshot and the transactions. Transaction rows use
// the aggregator id as insert id so overlapping windows are deduplicated.
func (a *BigQueryArchive) ArchiveRun(ctx context.Context, run Run) error {
	log := logger.FromContext(ctx)

	snapshot, txRows, err := BuildRows(run)
	if err != nil {
		return fmt.Errorf("ArchiveRun: %w", err)
	}

	snapshotSaver := &bigquery.StructSaver{Struct: snapshot, InsertID: run.ID}
	if err := a.inserterFor(snapshotsTable).Put(ctx, snapshotSaver); err != nil {
		return fmt.Errorf("ArchiveRun: inserting snapshot: %w", err)
	}

	if len(txRows) > 0 {
		savers := make([]*bigquery.StructSaver, len(txRows))
		for i, row := range txRows {
			savers[i] = &bigquery.StructSaver{Struct: row, InsertID: row.TransactionID}
		}
		if err := a.inserterFor(transactionsTable).Put(ctx, savers); err != nil {
			return fmt.Errorf("ArchiveRun: inserting transactions: %w", err)
		}
	}

	log.Info().
		Str("run_id", run.ID).
		Int("transaction_count", len(txRows)).
		Msg("Archived run to BigQuery")
	return nil
}
