// Package transform converts aggregator transactions into spreadsheet rows.
package transform

import (
	"fmt"
	"strings"

	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/shopspring/decimal"
)

// Columns is the width of a transaction row, A through I.
const Columns = 9

// Header is the column order of a transaction row.
var Header = []string{"Date", "Account", "Description", "Category", "Tags", "Amount", "Is Income", "Is Spending", "Is Cash In"}

// NormalizedTransaction is a transaction in sheet shape. Amount is signed:
// money leaving an account is negative.
type NormalizedTransaction struct {
	Date        string
	Account     string
	Description string
	Category    string
	Tags        string
	Amount      decimal.Decimal
	IsIncome    bool
	IsSpending  bool
	IsCashIn    bool
}

// Normalize signs the amount by direction and leaves Tags empty.
func Normalize(raw aggregator.RawTransaction) NormalizedTransaction {
	amount := raw.Amount
	if !raw.IsCashIn {
		amount = amount.Neg()
	}
	return NormalizedTransaction{
		Date:        raw.TransactionDate,
		Account:     raw.AccountName,
		Description: raw.Description,
		Category:    raw.CategoryID.String(),
		Amount:      amount,
		IsIncome:    raw.IsIncome,
		IsSpending:  raw.IsSpending,
		IsCashIn:    raw.IsCashIn,
	}
}

// NormalizeAll maps Normalize over raws, keeping their order.
func NormalizeAll(raws []aggregator.RawTransaction) []NormalizedTransaction {
	out := make([]NormalizedTransaction, len(raws))
	for i, raw := range raws {
		out[i] = Normalize(raw)
	}
	return out
}

// Row encodes t for a USER_ENTERED write. The amount is sent as a number so
// the sheet can sum it.
func (t NormalizedTransaction) Row() []interface{} {
	return []interface{}{
		t.Date,
		t.Account,
		t.Description,
		t.Category,
		t.Tags,
		t.Amount.InexactFloat64(),
		t.IsIncome,
		t.IsSpending,
		t.IsCashIn,
	}
}

// Key identifies a transaction across runs for carrying hand-entered tags.
func (t NormalizedTransaction) Key() string {
	return strings.Join([]string{t.Date, t.Account, t.Description, t.Amount.String()}, "|")
}

// formatted currency cells come back as "-$1,234.50"
var amountReplacer = strings.NewReplacer(",", "", "$", "")

// Rows encodes a batch.
func Rows(txs []NormalizedTransaction) [][]interface{} {
	rows := make([][]interface{}, len(txs))
	for i, t := range txs {
		rows[i] = t.Row()
	}
	return rows
}

// KeyFromRow rebuilds Key from a row read back from the sheet. It returns
// false when the row is too short or the amount does not parse.
func KeyFromRow(row []interface{}) (key string, tags string, ok bool) {
	if len(row) < 6 {
		return "", "", false
	}
	amount, err := decimal.NewFromString(amountReplacer.Replace(cell(row[5])))
	if err != nil {
		return "", "", false
	}
	t := NormalizedTransaction{
		Date:        cell(row[0]),
		Account:     cell(row[1]),
		Description: cell(row[2]),
		Amount:      amount,
	}
	return t.Key(), cell(row[4]), true
}

func cell(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return decimal.NewFromFloat(s).String()
	default:
		return fmt.Sprint(v)
	}
}
