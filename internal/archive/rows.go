package archive

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/networth-sync/internal/transform"
)

// SnapshotRow is one run's net-worth reading in networth_snapshots.
type SnapshotRow struct {
	RunID       string     `bigquery:"run_id"`      // REQUIRED
	Month       civil.Date `bigquery:"month"`       // REQUIRED, first day of month
	Networth    *big.Rat   `bigquery:"networth"`    // REQUIRED NUMERIC
	Investments *big.Rat   `bigquery:"investments"` // REQUIRED NUMERIC
	CapturedTS  time.Time  `bigquery:"captured_ts"` // REQUIRED
}

// TransactionRow is one fetched transaction in transactions.
type TransactionRow struct {
	TransactionID   string              `bigquery:"transaction_id"` // REQUIRED
	RunID           string              `bigquery:"run_id"`
	TransactionDate civil.Date          `bigquery:"transaction_date"`
	AccountName     string              `bigquery:"account_name"`
	Description     string              `bigquery:"description"`
	CategoryID      bigquery.NullString `bigquery:"category_id"`
	Amount          *big.Rat            `bigquery:"amount"` // signed NUMERIC
	IsIncome        bool                `bigquery:"is_income"`
	IsSpending      bool                `bigquery:"is_spending"`
	IsCashIn        bool                `bigquery:"is_cash_in"`
	CapturedTS      time.Time           `bigquery:"captured_ts"`
}

// BuildRows converts a run into table rows.
func BuildRows(run Run) (*SnapshotRow, []*TransactionRow, error) {
	snapshot := &SnapshotRow{
		RunID:       run.ID,
		Month:       civil.DateOf(run.Month.Date()),
		Networth:    run.Summary.Networth.Rat(),
		Investments: run.Summary.InvestmentAccountsTotal.Rat(),
		CapturedTS:  run.CapturedAt,
	}

	rows := make([]*TransactionRow, 0, len(run.Transactions))
	for _, raw := range run.Transactions {
		date, err := civil.ParseDate(raw.TransactionDate)
		if err != nil {
			return nil, nil, fmt.Errorf("BuildRows: transaction %s: %w", raw.UserTransactionID, err)
		}
		if raw.UserTransactionID == "" {
			return nil, nil, fmt.Errorf("BuildRows: transaction on %s has no id", raw.TransactionDate)
		}

		n := transform.Normalize(raw)
		row := &TransactionRow{
			TransactionID:   raw.UserTransactionID.String(),
			RunID:           run.ID,
			TransactionDate: date,
			AccountName:     n.Account,
			Description:     n.Description,
			Amount:          n.Amount.Rat(),
			IsIncome:        n.IsIncome,
			IsSpending:      n.IsSpending,
			IsCashIn:        n.IsCashIn,
			CapturedTS:      run.CapturedAt,
		}
		if n.Category != "" {
			row.CategoryID = bigquery.NullString{StringVal: n.Category, Valid: true}
		}
		rows = append(rows, row)
	}
	return snapshot, rows, nil
}
