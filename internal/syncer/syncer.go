// Package syncer runs one end-to-end sync: authenticate, fetch, then update
// the spreadsheet and optional archive.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/archive"
	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/session"
	"github.com/dvloznov/networth-sync/internal/sheetsync"
	"github.com/dvloznov/networth-sync/internal/transform"
	"github.com/google/uuid"
)

// Authenticator establishes an aggregator session from a stored one.
type Authenticator interface {
	Authenticate(ctx context.Context, prior session.Session) (session.Session, error)
}

// DataFetcher reads from the aggregator.
type DataFetcher interface {
	FetchAccountSummary(ctx context.Context) (aggregator.AccountSummary, error)
	FetchTransactions(ctx context.Context, start, end time.Time) ([]aggregator.RawTransaction, error)
	Truncated(count int) bool
}

// SheetWriter plans and applies spreadsheet updates.
type SheetWriter interface {
	PlanSummary(ctx context.Context, row sheetsync.SummaryRow) (sheetsync.Decision, error)
	ApplySummary(ctx context.Context, d sheetsync.Decision) error
	PlanTransactions(ctx context.Context, txs []transform.NormalizedTransaction) (sheetsync.TransactionPlan, error)
	ApplyTransactions(ctx context.Context, p sheetsync.TransactionPlan) error
}

// Deps are the components a run drives. Archive may be nil.
type Deps struct {
	Auth    Authenticator
	Fetcher DataFetcher
	Store   session.Store
	Sheets  SheetWriter
	Archive archive.Archiver
}

// Options controls a run.
type Options struct {
	DryRun      bool
	WindowStart time.Time
	WindowEnd   time.Time
	// Now is the clock used for the current month; defaults to time.Now.
	Now func() time.Time
}

// Report summarizes a finished run.
type Report struct {
	RunID        string
	StartedAt    time.Time
	Month        sheetsync.MonthKey
	Summary      aggregator.AccountSummary
	Decision     sheetsync.Decision
	Transactions int
	TagsCarried  int
	ClearedRange string
	Truncated    bool
	DryRun       bool
	Archived     bool
}

// Orchestrator sequences the components of a run.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// Run performs one sync. Session persistence failures are logged and
// tolerated; any other failure aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	now := o.opts.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Month:     sheetsync.MonthOf(now),
		DryRun:    o.opts.DryRun,
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"run_id":  report.RunID,
		"month":   report.Month.Label(),
		"dry_run": report.DryRun,
	})
	ctx = logger.WithContext(ctx, log)

	log.Info().Msg("Starting sync run")

	prior := o.deps.Store.Load(ctx)
	current, err := o.deps.Auth.Authenticate(ctx, prior)
	if err != nil {
		return nil, fmt.Errorf("Run: authenticating: %w", err)
	}
	o.persist(ctx, current)

	summary, err := o.deps.Fetcher.FetchAccountSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	report.Summary = summary

	raws, err := o.deps.Fetcher.FetchTransactions(ctx, o.opts.WindowStart, o.opts.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	report.Transactions = len(raws)
	report.Truncated = o.deps.Fetcher.Truncated(len(raws))
	txs := transform.NormalizeAll(raws)

	row := sheetsync.SummaryRow{
		Month:       report.Month,
		Networth:    summary.Networth,
		Investments: summary.InvestmentAccountsTotal,
	}
	decision, err := o.deps.Sheets.PlanSummary(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	report.Decision = decision

	plan, err := o.deps.Sheets.PlanTransactions(ctx, txs)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	report.TagsCarried = plan.Carried
	report.ClearedRange = plan.ClearRange

	if o.opts.DryRun {
		log.Info().
			Str("policy", string(decision.Policy)).
			Str("range", decision.Range).
			Interface("values", decision.Values).
			Msg("[DRY RUN] Would write summary row")
		log.Info().
			Str("range", plan.Range).
			Int("rows", len(plan.Rows)).
			Str("clear_range", plan.ClearRange).
			Msg("[DRY RUN] Would write transactions")
		return report, nil
	}

	if err := o.deps.Sheets.ApplySummary(ctx, decision); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	if err := o.deps.Sheets.ApplyTransactions(ctx, plan); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	if o.deps.Archive != nil {
		run := archive.Run{
			ID:           report.RunID,
			CapturedAt:   now,
			Month:        report.Month,
			Summary:      summary,
			Transactions: raws,
		}
		if err := o.deps.Archive.ArchiveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("Run: %w", err)
		}
		report.Archived = true
	}

	log.Info().
		Str("policy", string(decision.Policy)).
		Int("row", decision.Row).
		Int("transactions", report.Transactions).
		Bool("truncated", report.Truncated).
		Dur("elapsed", o.opts.Now().Sub(now)).
		Msg("Sync run completed")
	return report, nil
}

func (o *Orchestrator) persist(ctx context.Context, s session.Session) {
	if err := o.deps.Store.Save(ctx, s); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("location", o.deps.Store.Location()).Msg("Failed to persist session")
	}
}
