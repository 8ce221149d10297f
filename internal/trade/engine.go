// Package trade validates and executes buy/sell requests against the
// ledger and the quote provider.
//
// Every request walks the same fixed sequence: validate inputs, fetch a
// live quote, check affordability or holdings, commit atomically. The
// validation order is a contract: malformed input is always reported
// before affordability, and no quote is fetched for input that cannot
// trade.
package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/ledger"
	"papertrade/internal/logger"
	"papertrade/internal/model"
	"papertrade/internal/quote"
)

// QuoteService is the abstract quote contract the engine depends on; the
// provider wire format lives behind it.
type QuoteService interface {
	Lookup(ctx context.Context, symbol, assetType string) (model.Quote, error)
}

type Engine struct {
	store  ledger.Store
	quotes QuoteService
	log    *zap.Logger
}

func NewEngine(store ledger.Store, quotes QuoteService) *Engine {
	return &Engine{
		store:  store,
		quotes: quotes,
		log:    logger.L().With(zap.String("component", "trade-engine")),
	}
}

// ParseShares converts raw share-count input into a positive integer.
// Each failure mode gets its own message so the user sees exactly what
// was wrong, never a downstream affordability error.
func ParseShares(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: must enter a number of shares", model.ErrInvalidInput)
	}
	// ParseInt tolerates a leading plus sign; share counts are digits only.
	if strings.HasPrefix(raw, "+") {
		return 0, fmt.Errorf("%w: shares must be a whole number", model.ErrInvalidInput)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: shares must be a whole number", model.ErrInvalidInput)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: shares must be a positive number", model.ErrInvalidInput)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: shares must be at least one", model.ErrInvalidInput)
	}
	return n, nil
}

// Buy executes a market buy of rawShares shares of symbol at the live
// quoted price. A nil error means the trade committed.
func (e *Engine) Buy(ctx context.Context, userID int64, symbol, rawShares, assetType string) (model.Receipt, error) {
	return e.execute(ctx, userID, symbol, rawShares, assetType, false)
}

// Sell executes a market sell. The committed transaction carries a
// negative share count.
func (e *Engine) Sell(ctx context.Context, userID int64, symbol, rawShares, assetType string) (model.Receipt, error) {
	return e.execute(ctx, userID, symbol, rawShares, assetType, true)
}

func (e *Engine) execute(ctx context.Context, userID int64, symbol, rawShares, assetType string, sell bool) (model.Receipt, error) {
	// 1. Validate inputs, before any quote fetch.
	shares, err := ParseShares(rawShares)
	if err != nil {
		return model.Receipt{}, err
	}
	if err := quote.ValidateSymbol(symbol); err != nil {
		return model.Receipt{}, err
	}

	// 2. Fetch a live price. Provider failures that are not transport
	// level surface as an invalid symbol; the two are indistinguishable
	// here.
	q, err := e.quotes.Lookup(ctx, symbol, assetType)
	if err != nil {
		if errors.Is(err, model.ErrUnavailable) {
			return model.Receipt{}, err
		}
		return model.Receipt{}, fmt.Errorf("%w: %s", model.ErrInvalidSymbol, symbol)
	}

	// 3. Compute the cash effect.
	total := q.Price.Mul(decimal.NewFromInt(shares))
	cashDelta := total.Neg()
	signedShares := shares
	if sell {
		cashDelta = total
		signedShares = -shares
	}

	// 4/5. Check affordability or holdings against current state.
	if sell {
		holdings, err := e.store.Holdings(ctx, userID)
		if err != nil {
			return model.Receipt{}, err
		}
		if holdings[q.Symbol].Shares < shares {
			return model.Receipt{}, fmt.Errorf("%w: holding %d of %s, tried to sell %d",
				model.ErrInsufficientShares, holdings[q.Symbol].Shares, q.Symbol, shares)
		}
	} else {
		cash, err := e.store.Cash(ctx, userID)
		if err != nil {
			return model.Receipt{}, err
		}
		if cash.Add(cashDelta).Sign() < 0 {
			return model.Receipt{}, fmt.Errorf("%w: need %s, have %s",
				model.ErrInsufficientFunds, total.StringFixed(2), cash.StringFixed(2))
		}
	}

	// 6. Atomic commit; the store re-validates under the per-user lock
	// and reports a lost race as Conflict. The balance on the receipt is
	// the one the commit produced, not a later read that another trade
	// may have moved.
	balance, err := e.store.CommitTrade(ctx, userID, q.Symbol, q.Type, signedShares, q.Price, cashDelta)
	if err != nil {
		return model.Receipt{}, err
	}

	e.log.Info("trade committed",
		zap.Int64("user_id", userID),
		zap.String("symbol", q.Symbol),
		zap.Int64("shares", signedShares),
		zap.String("price", q.Price.String()),
	)

	return model.Receipt{
		Symbol:  q.Symbol,
		Shares:  signedShares,
		Price:   q.Price,
		Total:   total,
		Balance: balance,
	}, nil
}

// Portfolio assembles the account view: cash, every positive position
// priced at a fresh quote, and the grand total.
func (e *Engine) Portfolio(ctx context.Context, userID int64) (model.Portfolio, error) {
	cash, err := e.store.Cash(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}
	holdings, err := e.store.Holdings(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}

	symbols := make([]string, 0, len(holdings))
	for symbol := range holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	total := cash
	positions := make([]model.Position, 0, len(symbols))
	for _, symbol := range symbols {
		h := holdings[symbol]
		// Each position is re-priced on the endpoint that priced its
		// trades; a crypto position never hits the stock series.
		q, err := e.quotes.Lookup(ctx, symbol, h.Type)
		if err != nil {
			return model.Portfolio{}, fmt.Errorf("price %s: %w", symbol, err)
		}
		value := q.Price.Mul(decimal.NewFromInt(h.Shares))
		positions = append(positions, model.Position{
			Symbol: q.Symbol,
			Name:   q.Name,
			Type:   q.Type,
			Shares: h.Shares,
			Price:  q.Price,
			Value:  value,
		})
		total = total.Add(value)
	}

	return model.Portfolio{
		Cash:       cash,
		Positions:  positions,
		GrandTotal: total,
	}, nil
}
