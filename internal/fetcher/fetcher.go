// Package fetcher queries the aggregator for the net-worth snapshot and the
// transaction window, persisting the session after each successful request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dvloznov/networth-sync/internal/aggregator"
	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/session"
)

const (
	accountsEndpoint     = "/newaccount/getAccounts"
	transactionsEndpoint = "/transaction/getUserTransactions"

	// DefaultPageSize is the number of transactions requested per query.
	DefaultPageSize = 500

	dateLayout = "2006-01-02"
)

// Reauthenticator recovers from a session the aggregator rejected.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) (session.Session, error)
}

// Options tunes a Fetcher.
type Options struct {
	PageSize   int
	RetryDelay time.Duration
}

// Fetcher is the data-access layer over an authenticated aggregator client.
type Fetcher struct {
	client     aggregator.Client
	reauth     Reauthenticator
	store      session.Store
	pageSize   int
	retryDelay time.Duration
}

// New creates a Fetcher. reauth may be nil, in which case unauthorized
// responses are returned as-is.
func New(client aggregator.Client, reauth Reauthenticator, store session.Store, opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Fetcher{
		client:     client,
		reauth:     reauth,
		store:      store,
		pageSize:   opts.PageSize,
		retryDelay: opts.RetryDelay,
	}
}

// PageSize is the row limit sent with transaction queries.
func (f *Fetcher) PageSize() int { return f.pageSize }

// Truncated reports whether a transaction result of count rows may have been
// cut off at the page limit.
func (f *Fetcher) Truncated(count int) bool { return count >= f.pageSize }

// FetchAccountSummary returns the current net worth and investment total.
func (f *Fetcher) FetchAccountSummary(ctx context.Context) (aggregator.AccountSummary, error) {
	resp, err := f.call(ctx, accountsEndpoint, nil)
	if err != nil {
		return aggregator.AccountSummary{}, fmt.Errorf("FetchAccountSummary: %w", err)
	}

	networth, err := resp.Decimal("$.spData.networth")
	if err != nil {
		return aggregator.AccountSummary{}, fmt.Errorf("FetchAccountSummary: %w", missingField(resp, err))
	}
	investments, err := resp.Decimal("$.spData.investmentAccountsTotal")
	if err != nil {
		return aggregator.AccountSummary{}, fmt.Errorf("FetchAccountSummary: %w", missingField(resp, err))
	}

	summary := aggregator.AccountSummary{Networth: networth, InvestmentAccountsTotal: investments}
	log := logger.FromContext(ctx)
	log.Info().
		Str("networth", networth.StringFixed(2)).
		Str("investments", investments.StringFixed(2)).
		Msg("Fetched account summary")
	return summary, nil
}

// FetchTransactions returns the transactions between start and end inclusive,
// newest first as the aggregator sorts them.
func (f *Fetcher) FetchTransactions(ctx context.Context, start, end time.Time) ([]aggregator.RawTransaction, error) {
	log := logger.FromContext(ctx)

	params := url.Values{
		"sort_cols":     {"transactionTime"},
		"sort_rev":      {"true"},
		"page":          {"0"},
		"rows_per_page": {strconv.Itoa(f.pageSize)},
		"startDate":     {start.Format(dateLayout)},
		"endDate":       {end.Format(dateLayout)},
		"component":     {"DATAGRID"},
	}

	resp, err := f.call(ctx, transactionsEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", err)
	}

	var txs []aggregator.RawTransaction
	if err := resp.Decode("$.spData.transactions", &txs); err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", missingField(resp, err))
	}

	log.Info().
		Str("start_date", start.Format(dateLayout)).
		Str("end_date", end.Format(dateLayout)).
		Int("transaction_count", len(txs)).
		Msg("Fetched transactions")

	if f.Truncated(len(txs)) {
		log.Warn().
			Int("transaction_count", len(txs)).
			Int("page_size", f.pageSize).
			Msg("Transaction count reached the page size, older transactions in the window may be missing")
	}
	return txs, nil
}

// call runs one request cycle: the request with its retry, a single
// re-authentication on an unauthorized reply, and the session save.
func (f *Fetcher) call(ctx context.Context, endpoint string, params url.Values) (*aggregator.Response, error) {
	resp, err := f.fetchWithRetry(ctx, endpoint, params)
	if err != nil && errors.Is(err, aggregator.ErrUnauthorized) && f.reauth != nil {
		if _, rerr := f.reauth.Reauthenticate(ctx); rerr != nil {
			return nil, fmt.Errorf("re-authenticating after %v: %w", err, rerr)
		}
		resp, err = f.fetchWithRetry(ctx, endpoint, params)
	}
	if err != nil {
		return nil, err
	}

	f.persistSession(ctx)
	return resp, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, endpoint string, params url.Values) (*aggregator.Response, error) {
	resp, err := f.client.Fetch(ctx, endpoint, params)
	if err == nil || !temporary(err) {
		return resp, err
	}

	log := logger.FromContext(ctx)
	log.Warn().
		Err(err).
		Str("endpoint", endpoint).
		Dur("retry_in", f.retryDelay).
		Msg("Aggregator request failed, retrying once")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.retryDelay):
	}
	return f.client.Fetch(ctx, endpoint, params)
}

func (f *Fetcher) persistSession(ctx context.Context) {
	if f.store == nil {
		return
	}
	if err := f.store.Save(ctx, f.client.Session()); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("location", f.store.Location()).Msg("Failed to persist session")
	}
}

func temporary(err error) bool {
	var remote *aggregator.RemoteError
	return errors.As(err, &remote) && remote.Temporary()
}

func missingField(resp *aggregator.Response, err error) error {
	return &aggregator.RemoteError{
		Endpoint:   resp.Endpoint,
		StatusCode: resp.StatusCode,
		Message:    "unexpected response shape",
		Err:        err,
	}
}
