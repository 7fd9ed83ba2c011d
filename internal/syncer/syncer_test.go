package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/archive"
	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/session"
	"github.com/dvloznov/networth-sync/internal/sheetsync"
	"github.com/dvloznov/networth-sync/internal/transform"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

type mockAuth struct {
	AuthenticateFunc func(ctx context.Context, prior session.Session) (session.Session, error)
}

func (m *mockAuth) Authenticate(ctx context.Context, prior session.Session) (session.Session, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, prior)
	}
	return prior, nil
}

type mockFetcher struct {
	summary aggregator.AccountSummary
	txs     []aggregator.RawTransaction
	err     error
	start   time.Time
	end     time.Time
}

func (m *mockFetcher) FetchAccountSummary(ctx context.Context) (aggregator.AccountSummary, error) {
	return m.summary, m.err
}

func (m *mockFetcher) FetchTransactions(ctx context.Context, start, end time.Time) ([]aggregator.RawTransaction, error) {
	m.start, m.end = start, end
	return m.txs, nil
}

func (m *mockFetcher) Truncated(count int) bool { return count >= 2 }

type memoryStore struct {
	loaded session.Session
	saved  []session.Session
	err    error
}

func (m *memoryStore) Load(ctx context.Context) session.Session { return m.loaded }
func (m *memoryStore) Save(ctx context.Context, s session.Session) error {
	m.saved = append(m.saved, s)
	return m.err
}
func (m *memoryStore) Clear(ctx context.Context) error { return nil }
func (m *memoryStore) Location() string                { return "memory" }
func (m *memoryStore) Close() error                    { return nil }

type mockSheets struct {
	PlanSummaryFunc func(ctx context.Context, row sheetsync.SummaryRow) (sheetsync.Decision, error)

	calls   []string
	summary sheetsync.SummaryRow
	txs     []transform.NormalizedTransaction
}

func (m *mockSheets) PlanSummary(ctx context.Context, row sheetsync.SummaryRow) (sheetsync.Decision, error) {
	m.calls = append(m.calls, "plan_summary")
	m.summary = row
	if m.PlanSummaryFunc != nil {
		return m.PlanSummaryFunc(ctx, row)
	}
	return sheetsync.Decision{Policy: sheetsync.PolicyAppend, Row: 4, Range: "wall_chart!A4:C4", Values: row.Values()}, nil
}

func (m *mockSheets) ApplySummary(ctx context.Context, d sheetsync.Decision) error {
	m.calls = append(m.calls, "apply_summary")
	return nil
}

func (m *mockSheets) PlanTransactions(ctx context.Context, txs []transform.NormalizedTransaction) (sheetsync.TransactionPlan, error) {
	m.calls = append(m.calls, "plan_transactions")
	m.txs = txs
	return sheetsync.TransactionPlan{Range: "transactions!A2:I3", Rows: transform.Rows(txs)}, nil
}

func (m *mockSheets) ApplyTransactions(ctx context.Context, p sheetsync.TransactionPlan) error {
	m.calls = append(m.calls, "apply_transactions")
	return nil
}

type mockArchive struct {
	runs []archive.Run
}

func (m *mockArchive) ArchiveRun(ctx context.Context, run archive.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockArchive) Close() error { return nil }

var september = time.Date(2020, time.September, 4, 9, 0, 0, 0, time.UTC)

func newFixture() (*mockFetcher, *memoryStore, *mockSheets) {
	fetcher := &mockFetcher{
		summary: aggregator.AccountSummary{
			Networth:                decimal.RequireFromString("486483.22"),
			InvestmentAccountsTotal: decimal.RequireFromString("394698.19"),
		},
		txs: []aggregator.RawTransaction{
			{UserTransactionID: json.Number("1"), TransactionDate: "2020-09-03", Description: "Coffee", Amount: decimal.RequireFromString("4.5")},
		},
	}
	store := &memoryStore{loaded: session.Session{"SESSION": "stored"}}
	return fetcher, store, &mockSheets{}
}

func TestRun(t *testing.T) {
	fetcher, store, sheets := newFixture()
	arch := &mockArchive{}
	start := september.AddDate(0, 0, -91)
	end := september.AddDate(0, 0, -1)

	o := New(Deps{Auth: &mockAuth{}, Fetcher: fetcher, Store: store, Sheets: sheets, Archive: arch}, Options{
		WindowStart: start,
		WindowEnd:   end,
		Now:         func() time.Time { return september },
	})

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	wantCalls := []string{"plan_summary", "plan_transactions", "apply_summary", "apply_transactions"}
	if diff := cmp.Diff(wantCalls, sheets.calls); diff != "" {
		t.Errorf("sheet calls mismatch (-want +got):\n%s", diff)
	}
	if sheets.summary.Month != (sheetsync.MonthKey{Year: 2020, Month: time.September}) {
		t.Errorf("summary month = %v", sheets.summary.Month)
	}
	if len(sheets.txs) != 1 || !sheets.txs[0].Amount.Equal(decimal.RequireFromString("-4.5")) {
		t.Errorf("transactions not normalized: %+v", sheets.txs)
	}
	if !fetcher.start.Equal(start) || !fetcher.end.Equal(end) {
		t.Errorf("window = %v..%v", fetcher.start, fetcher.end)
	}
	if len(store.saved) != 1 || store.saved[0]["SESSION"] != "stored" {
		t.Errorf("saved sessions = %v", store.saved)
	}

	if report.RunID == "" || report.Transactions != 1 || report.Truncated || report.DryRun {
		t.Errorf("report = %+v", report)
	}
	if !report.Archived || len(arch.runs) != 1 || arch.runs[0].ID != report.RunID {
		t.Errorf("archive runs = %+v", arch.runs)
	}
}

func TestRun_DryRunDoesNotWrite(t *testing.T) {
	fetcher, store, sheets := newFixture()
	arch := &mockArchive{}

	o := New(Deps{Auth: &mockAuth{}, Fetcher: fetcher, Store: store, Sheets: sheets, Archive: arch}, Options{
		DryRun: true,
		Now:    func() time.Time { return september },
	})

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if diff := cmp.Diff([]string{"plan_summary", "plan_transactions"}, sheets.calls); diff != "" {
		t.Errorf("sheet calls mismatch (-want +got):\n%s", diff)
	}
	if len(arch.runs) != 0 || report.Archived {
		t.Error("dry run archived")
	}
	if !report.DryRun || report.Decision.Policy != sheetsync.PolicyAppend {
		t.Errorf("report = %+v", report)
	}
}

func TestRun_LogsCarryRunFields(t *testing.T) {
	fetcher, store, sheets := newFixture()
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	o := New(Deps{Auth: &mockAuth{}, Fetcher: fetcher, Store: store, Sheets: sheets}, Options{
		DryRun: true,
		Now:    func() time.Time { return september },
	})

	report, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	output := buf.String()
	for _, want := range []string{`"run_id":"` + report.RunID + `"`, `"month":"September 2020"`, `"dry_run":true`} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %s, got: %s", want, output)
		}
	}
}

func TestRun_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(*mockAuth, *mockFetcher, *memoryStore, *mockSheets)
		wantErr error
	}{
		{
			name: "auth failure aborts",
			setup: func(a *mockAuth, f *mockFetcher, s *memoryStore, sh *mockSheets) {
				a.AuthenticateFunc = func(ctx context.Context, prior session.Session) (session.Session, error) {
					return nil, boom
				}
			},
			wantErr: boom,
		},
		{
			name: "fetch failure aborts",
			setup: func(a *mockAuth, f *mockFetcher, s *memoryStore, sh *mockSheets) {
				f.err = boom
			},
			wantErr: boom,
		},
		{
			name: "empty destination aborts",
			setup: func(a *mockAuth, f *mockFetcher, s *memoryStore, sh *mockSheets) {
				sh.PlanSummaryFunc = func(ctx context.Context, row sheetsync.SummaryRow) (sheetsync.Decision, error) {
					return sheetsync.Decision{}, sheetsync.ErrEmptyDestination
				}
			},
			wantErr: sheetsync.ErrEmptyDestination,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher, store, sheets := newFixture()
			auth := &mockAuth{}
			tt.setup(auth, fetcher, store, sheets)

			o := New(Deps{Auth: auth, Fetcher: fetcher, Store: store, Sheets: sheets}, Options{})
			_, err := o.Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() = %v, want %v", err, tt.wantErr)
			}
			for _, c := range sheets.calls {
				if c == "apply_summary" || c == "apply_transactions" {
					t.Errorf("aborted run still called %s", c)
				}
			}
		})
	}
}

func TestRun_SessionSaveFailureIsTolerated(t *testing.T) {
	fetcher, store, sheets := newFixture()
	store.err = errors.New("read-only filesystem")

	o := New(Deps{Auth: &mockAuth{}, Fetcher: fetcher, Store: store, Sheets: sheets}, Options{})
	if _, err := o.Run(context.Background()); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}
