package aggregator

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// AccountSummary is the net-worth snapshot from /newaccount/getAccounts.
type AccountSummary struct {
	Networth                decimal.Decimal
	InvestmentAccountsTotal decimal.Decimal
}

// RawTransaction is one record from /transaction/getUserTransactions.
// Amount is always non-negative; IsCashIn carries the direction.
type RawTransaction struct {
	UserTransactionID json.Number     `json:"userTransactionId"`
	TransactionDate   string          `json:"transactionDate"`
	AccountName       string          `json:"accountName"`
	Description       string          `json:"description"`
	CategoryID        json.Number     `json:"categoryId"`
	Amount            decimal.Decimal `json:"amount"`
	IsIncome          bool            `json:"isIncome"`
	IsSpending        bool            `json:"isSpending"`
	IsCashIn          bool            `json:"isCashIn"`
}
