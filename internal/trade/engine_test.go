package trade

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/ledger"
	"papertrade/internal/model"
)

// fakeQuotes is a canned QuoteService. Calls are counted so tests can
// prove that invalid input never reaches the provider. When typed is
// set, a symbol resolves only on its own asset-type endpoint, the way
// the real provider behaves.
type fakeQuotes struct {
	prices map[string]string
	typed  map[string]string
	err    error
	calls  int64
}

func (f *fakeQuotes) Lookup(ctx context.Context, symbol, assetType string) (model.Quote, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return model.Quote{}, f.err
	}
	upper := strings.ToUpper(symbol)
	raw, ok := f.prices[upper]
	if !ok {
		return model.Quote{}, model.ErrInvalidQuote
	}
	if f.typed != nil && f.typed[upper] != assetType {
		return model.Quote{}, model.ErrInvalidQuote
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{Symbol: upper, Name: upper, Price: price, Type: assetType}, nil
}

func newTestEngine(t *testing.T, prices map[string]string) (*Engine, *ledger.Memory, *fakeQuotes, model.User) {
	t.Helper()
	store := ledger.NewMemory()
	quotes := &fakeQuotes{prices: prices}
	engine := NewEngine(store, quotes)
	user, err := store.CreateUser(context.Background(), "alice", "hash")
	require.NoError(t, err)
	return engine, store, quotes, user
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestParseShares(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantMsg string
	}{
		{"valid", "10", 10, ""},
		{"empty", "", 0, "must enter a number of shares"},
		{"non-integer", "abc", 0, "shares must be a whole number"},
		{"fractional", "1.5", 0, "shares must be a whole number"},
		{"negative", "-3", 0, "shares must be a positive number"},
		{"plus-signed", "+5", 0, "shares must be a whole number"},
		{"zero", "0", 0, "shares must be at least one"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ParseShares(tc.raw)
			if tc.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.want, n)
				return
			}
			assert.ErrorIs(t, err, model.ErrInvalidInput)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestBuyCommitsExactCashDelta(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{"SYM": "50.00"})
	_, err := store.AdjustCash(ctx, user.ID, mustDecimal(t, "-9000.00")) // down to 1000.00
	require.NoError(t, err)

	receipt, err := engine.Buy(ctx, user.ID, "SYM", "10", model.AssetStock)
	require.NoError(t, err)

	assert.Equal(t, "SYM", receipt.Symbol)
	assert.Equal(t, int64(10), receipt.Shares)
	assert.True(t, receipt.Balance.Equal(mustDecimal(t, "500.00")), "balance = %s", receipt.Balance)

	holdings, err := store.Holdings(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), holdings["SYM"].Shares)

	history, err := store.History(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(10), history[0].Shares)
}

func TestSellCommitsExactCashDelta(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{"SYM": "50.00"})

	_, err := engine.Buy(ctx, user.ID, "SYM", "10", model.AssetStock)
	require.NoError(t, err)

	receipt, err := engine.Sell(ctx, user.ID, "SYM", "4", model.AssetStock)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), receipt.Shares)

	cash, err := store.Cash(ctx, user.ID)
	require.NoError(t, err)
	// 10000 - 500 + 200
	assert.True(t, cash.Equal(mustDecimal(t, "9700.00")), "cash = %s", cash)

	history, err := store.History(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(-4), history[0].Shares)
}

func TestBuyInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{"SYM": "50.00"})
	_, err := store.AdjustCash(ctx, user.ID, mustDecimal(t, "-9900.00")) // down to 100.00
	require.NoError(t, err)

	_, err = engine.Buy(ctx, user.ID, "SYM", "3", model.AssetStock)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	history, err := store.History(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSellTooManyShares(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{"SYM": "50.00"})

	_, err := engine.Buy(ctx, user.ID, "SYM", "5", model.AssetStock)
	require.NoError(t, err)
	cashBefore, err := store.Cash(ctx, user.ID)
	require.NoError(t, err)

	_, err = engine.Sell(ctx, user.ID, "SYM", "6", model.AssetStock)
	assert.ErrorIs(t, err, model.ErrInsufficientShares)

	// rejection leaves the ledger untouched
	history, err := store.History(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	cashAfter, err := store.Cash(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, cashAfter.Equal(cashBefore), "cash = %s", cashAfter)
}

func TestInvalidSharesRejectedBeforeQuoteFetch(t *testing.T) {
	ctx := context.Background()
	engine, _, quotes, user := newTestEngine(t, map[string]string{"SYM": "50.00"})

	for _, raw := range []string{"abc", "", "0", "-2", "1.5"} {
		_, err := engine.Buy(ctx, user.ID, "SYM", raw, model.AssetStock)
		assert.ErrorIs(t, err, model.ErrInvalidInput, "shares %q", raw)
	}
	assert.Zero(t, quotes.calls, "no quote may be fetched for invalid input")
}

func TestMalformedQuoteBecomesInvalidSymbol(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{})

	_, err := engine.Buy(ctx, user.ID, "NOPE", "1", model.AssetStock)
	assert.ErrorIs(t, err, model.ErrInvalidSymbol)

	history, err := store.History(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProviderOutagePassesThrough(t *testing.T) {
	ctx := context.Background()
	engine, _, quotes, user := newTestEngine(t, nil)
	quotes.err = model.ErrUnavailable

	_, err := engine.Buy(ctx, user.ID, "SYM", "1", model.AssetStock)
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestSymbolUppercasedOnCommit(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{"AAPL": "10.00"})

	receipt, err := engine.Buy(ctx, user.ID, "aapl", "2", model.AssetStock)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", receipt.Symbol)

	holdings, err := store.Holdings(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), holdings["AAPL"].Shares)
}

func TestConcurrentSellsCommitOnce(t *testing.T) {
	ctx := context.Background()
	engine, store, _, user := newTestEngine(t, map[string]string{"SYM": "10.00"})

	_, err := engine.Buy(ctx, user.ID, "SYM", "5", model.AssetStock)
	require.NoError(t, err)
	cashBefore, err := store.Cash(ctx, user.ID)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Sell(ctx, user.ID, "SYM", "5", model.AssetStock)
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		if !errors.Is(err, model.ErrInsufficientShares) && !errors.Is(err, model.ErrConflict) {
			t.Errorf("unexpected rejection: %v", err)
		}
	}
	assert.Equal(t, 1, committed, "exactly one of the racing sells may commit")

	holdings, err := store.Holdings(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, holdings["SYM"].Shares)

	cash, err := store.Cash(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(cashBefore.Add(mustDecimal(t, "50.00"))), "cash = %s", cash)
}

func TestPortfolioTotals(t *testing.T) {
	ctx := context.Background()
	engine, _, _, user := newTestEngine(t, map[string]string{
		"AAPL": "100.00",
		"NFLX": "25.00",
	})

	_, err := engine.Buy(ctx, user.ID, "AAPL", "10", model.AssetStock)
	require.NoError(t, err)
	_, err = engine.Buy(ctx, user.ID, "NFLX", "4", model.AssetStock)
	require.NoError(t, err)

	p, err := engine.Portfolio(ctx, user.ID)
	require.NoError(t, err)

	// 10000 - 1000 - 100 cash remains
	assert.True(t, p.Cash.Equal(mustDecimal(t, "8900.00")), "cash = %s", p.Cash)
	require.Len(t, p.Positions, 2)
	assert.Equal(t, "AAPL", p.Positions[0].Symbol)
	assert.True(t, p.Positions[0].Value.Equal(mustDecimal(t, "1000.00")))
	assert.True(t, p.GrandTotal.Equal(mustDecimal(t, "10000.00")), "grand total = %s", p.GrandTotal)
}

func TestPortfolioPricesEachAssetType(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	quotes := &fakeQuotes{
		prices: map[string]string{"AAPL": "100.00", "BTC": "4000.00"},
		typed:  map[string]string{"AAPL": model.AssetStock, "BTC": model.AssetCrypto},
	}
	engine := NewEngine(store, quotes)
	user, err := store.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)

	_, err = engine.Buy(ctx, user.ID, "AAPL", "10", model.AssetStock)
	require.NoError(t, err)
	_, err = engine.Buy(ctx, user.ID, "BTC", "2", model.AssetCrypto)
	require.NoError(t, err)

	// the crypto position must be re-priced on the crypto endpoint, not
	// the stock series it never traded on
	p, err := engine.Portfolio(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, p.Positions, 2)
	assert.Equal(t, model.AssetStock, p.Positions[0].Type)
	assert.Equal(t, model.AssetCrypto, p.Positions[1].Type)
	assert.True(t, p.Positions[1].Value.Equal(mustDecimal(t, "8000.00")), "value = %s", p.Positions[1].Value)
	assert.True(t, p.GrandTotal.Equal(mustDecimal(t, "10000.00")), "grand total = %s", p.GrandTotal)
}

// trailingTradeStore lands a second cash movement immediately after each
// successful commit, as a racing trade for the same user would.
type trailingTradeStore struct {
	ledger.Store
	delta decimal.Decimal
}

func (s *trailingTradeStore) CommitTrade(ctx context.Context, userID int64, symbol, assetType string, shares int64, price, cashDelta decimal.Decimal) (decimal.Decimal, error) {
	balance, err := s.Store.CommitTrade(ctx, userID, symbol, assetType, shares, price, cashDelta)
	if err == nil {
		if _, aerr := s.Store.AdjustCash(ctx, userID, s.delta); aerr != nil {
			return decimal.Zero, aerr
		}
	}
	return balance, err
}

func TestReceiptBalanceFromCommit(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	user, err := mem.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	store := &trailingTradeStore{Store: mem, delta: mustDecimal(t, "-123.00")}
	engine := NewEngine(store, &fakeQuotes{prices: map[string]string{"SYM": "50.00"}})

	receipt, err := engine.Buy(ctx, user.ID, "SYM", "10", model.AssetStock)
	require.NoError(t, err)

	// the receipt carries this trade's balance; the trailing movement
	// must not leak into it
	assert.True(t, receipt.Balance.Equal(mustDecimal(t, "9500.00")), "balance = %s", receipt.Balance)

	cash, err := mem.Cash(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(mustDecimal(t, "9377.00")), "cash = %s", cash)
}

func TestPortfolioEmpty(t *testing.T) {
	ctx := context.Background()
	engine, _, quotes, user := newTestEngine(t, nil)

	p, err := engine.Portfolio(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
	assert.True(t, p.GrandTotal.Equal(p.Cash))
	assert.Zero(t, quotes.calls)
}
