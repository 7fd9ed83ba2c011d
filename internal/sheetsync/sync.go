// Package sheetsync keeps the spreadsheet in step with the aggregator: one
// summary row per calendar month and a transaction table mirroring the
// fetch window.
package sheetsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/sheets"
	"github.com/dvloznov/networth-sync/internal/transform"
	"github.com/shopspring/decimal"
)

// ErrEmptyDestination means the summary range has no rows, so there is no
// header or history to extend.
var ErrEmptyDestination = errors.New("sheetsync: summary range is empty")

// Policy is what an upsert does with the summary row.
type Policy string

const (
	PolicyOverwrite Policy = "overwrite"
	PolicyAppend    Policy = "append"
)

// Tags policies for the transaction table.
const (
	TagsOverwrite = "overwrite"
	TagsPreserve  = "preserve"
)

// SummaryRow is one month of the summary sheet.
type SummaryRow struct {
	Month       MonthKey
	Networth    decimal.Decimal
	Investments decimal.Decimal
}

// Values encodes r as columns A:C.
func (r SummaryRow) Values() []interface{} {
	return []interface{}{r.Month.Label(), r.Networth.InexactFloat64(), r.Investments.InexactFloat64()}
}

// Decision is a planned summary write.
type Decision struct {
	Policy Policy
	Row    int
	Range  string
	Values []interface{}
}

// TransactionPlan is a planned transaction table write.
type TransactionPlan struct {
	Range      string
	Rows       [][]interface{}
	ClearRange string
	Carried    int
}

// Config locates the two tables.
type Config struct {
	SpreadsheetID        string
	SummarySheet         string
	SummaryFirstRow      int
	TransactionsSheet    string
	TransactionsStartRow int
	TagsPolicy           string
}

// Syncer writes to a spreadsheet through a sheets.Service.
type Syncer struct {
	svc sheets.Service
	cfg Config
}

// New creates a Syncer, defaulting unset rows to 1 for the summary and 2 for
// transactions.
func New(svc sheets.Service, cfg Config) *Syncer {
	if cfg.SummaryFirstRow <= 0 {
		cfg.SummaryFirstRow = 1
	}
	if cfg.TransactionsStartRow <= 0 {
		cfg.TransactionsStartRow = 2
	}
	if cfg.TagsPolicy == "" {
		cfg.TagsPolicy = TagsPreserve
	}
	return &Syncer{svc: svc, cfg: cfg}
}

// SummaryRange is the A1 range read to decide the summary write.
func (s *Syncer) SummaryRange() string {
	return fmt.Sprintf("%s!A%d:C", s.cfg.SummarySheet, s.cfg.SummaryFirstRow)
}

// Plan decides where row goes given the rows currently in the summary
// range, which starts at firstRow. The last row is overwritten when it holds
// the same month and a new row is appended otherwise.
func Plan(existing [][]interface{}, row SummaryRow, sheet string, firstRow int) (Decision, error) {
	n := len(existing)
	if n == 0 {
		return Decision{}, ErrEmptyDestination
	}

	d := Decision{Policy: PolicyAppend, Row: firstRow + n, Values: row.Values()}
	if last := existing[n-1]; len(last) > 0 {
		if key, err := ParseMonthKey(fmt.Sprint(last[0])); err == nil && key == row.Month {
			d.Policy = PolicyOverwrite
			d.Row = firstRow + n - 1
		}
	}
	d.Range = fmt.Sprintf("%s!A%d:C%d", sheet, d.Row, d.Row)
	return d, nil
}

// PlanSummary reads the summary range and plans the write of row.
func (s *Syncer) PlanSummary(ctx context.Context, row SummaryRow) (Decision, error) {
	existing, err := s.svc.ReadRange(ctx, s.cfg.SpreadsheetID, s.SummaryRange())
	if err != nil {
		return Decision{}, fmt.Errorf("PlanSummary: %w", err)
	}

	d, err := Plan(existing, row, s.cfg.SummarySheet, s.cfg.SummaryFirstRow)
	if err != nil {
		return Decision{}, fmt.Errorf("PlanSummary: %s: %w", s.SummaryRange(), err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("existing_rows", len(existing)).
		Str("month", row.Month.Label()).
		Str("policy", string(d.Policy)).
		Int("row", d.Row).
		Msg("Planned summary row")
	return d, nil
}

// ApplySummary performs a planned summary write.
func (s *Syncer) ApplySummary(ctx context.Context, d Decision) error {
	err := s.svc.WriteRange(ctx, s.cfg.SpreadsheetID, d.Range, [][]interface{}{d.Values}, sheets.WriteOptions{InputMode: sheets.UserEntered})
	if err != nil {
		return fmt.Errorf("ApplySummary: %w", err)
	}
	return nil
}

// UpsertSummary finds or creates the row for row.Month and writes it.
func (s *Syncer) UpsertSummary(ctx context.Context, row SummaryRow) (Decision, error) {
	d, err := s.PlanSummary(ctx, row)
	if err != nil {
		return Decision{}, err
	}
	return d, s.ApplySummary(ctx, d)
}

// PlanTransactions lays out txs from the start row. Under the preserve
// policy it reads the current table, carries non-empty tags onto matching
// transactions and clears rows beyond the new window.
func (s *Syncer) PlanTransactions(ctx context.Context, txs []transform.NormalizedTransaction) (TransactionPlan, error) {
	log := logger.FromContext(ctx)
	start := s.cfg.TransactionsStartRow
	sheet := s.cfg.TransactionsSheet

	out := make([]transform.NormalizedTransaction, len(txs))
	copy(out, txs)

	var plan TransactionPlan
	if s.cfg.TagsPolicy == TagsPreserve {
		existingRange := fmt.Sprintf("%s!A%d:I", sheet, start)
		existing, err := s.svc.ReadRange(ctx, s.cfg.SpreadsheetID, existingRange)
		if err != nil {
			return TransactionPlan{}, fmt.Errorf("PlanTransactions: %w", err)
		}

		plan.Carried = carryTags(existing, out)
		if len(existing) > len(out) {
			plan.ClearRange = fmt.Sprintf("%s!A%d:I%d", sheet, start+len(out), start+len(existing)-1)
		}
	}

	if len(out) > 0 {
		plan.Range = fmt.Sprintf("%s!A%d:I%d", sheet, start, start+len(out)-1)
		plan.Rows = transform.Rows(out)
	}

	log.Info().
		Int("transactions", len(out)).
		Str("tags_policy", s.cfg.TagsPolicy).
		Int("tags_carried", plan.Carried).
		Str("clear_range", plan.ClearRange).
		Msg("Planned transaction write")
	return plan, nil
}

// ApplyTransactions writes the planned rows as one batch, then clears any
// leftover rows.
func (s *Syncer) ApplyTransactions(ctx context.Context, p TransactionPlan) error {
	if len(p.Rows) > 0 {
		if err := s.svc.WriteRange(ctx, s.cfg.SpreadsheetID, p.Range, p.Rows, sheets.WriteOptions{InputMode: sheets.UserEntered}); err != nil {
			return fmt.Errorf("ApplyTransactions: %w", err)
		}
	}
	if p.ClearRange != "" {
		if err := s.svc.ClearRange(ctx, s.cfg.SpreadsheetID, p.ClearRange); err != nil {
			return fmt.Errorf("ApplyTransactions: %w", err)
		}
	}
	return nil
}

// WriteTransactions plans and applies the transaction table.
func (s *Syncer) WriteTransactions(ctx context.Context, txs []transform.NormalizedTransaction) (TransactionPlan, error) {
	p, err := s.PlanTransactions(ctx, txs)
	if err != nil {
		return TransactionPlan{}, err
	}
	return p, s.ApplyTransactions(ctx, p)
}

// carryTags copies tags from existing sheet rows onto txs by Key and returns
// how many were carried. Rows sharing a key are matched in order: the Nth
// fetched duplicate takes the Nth existing row's tag, empty or not.
func carryTags(existing [][]interface{}, txs []transform.NormalizedTransaction) int {
	tags := make(map[string][]string)
	for _, row := range existing {
		key, t, ok := transform.KeyFromRow(row)
		if !ok {
			continue
		}
		tags[key] = append(tags[key], t)
	}

	carried := 0
	for i := range txs {
		key := txs[i].Key()
		queue := tags[key]
		if len(queue) == 0 {
			continue
		}
		t := queue[0]
		tags[key] = queue[1:]
		if t == "" {
			continue
		}
		txs[i].Tags = t
		carried++
	}
	return carried
}
