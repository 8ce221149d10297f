// Package quote fetches live prices from the Alpha Vantage CSV API.
//
// The provider is treated as unreliable: every lookup is a single attempt
// with a bounded timeout, transport failures are classified separately
// from malformed payloads, and a circuit breaker fails fast while the
// provider is known to be down.
package quote

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/model"
)

const (
	defaultThreshold    = 5
	defaultResetTimeout = 30 * time.Second
)

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	breaker *Breaker
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		breaker: NewBreaker(defaultThreshold, defaultResetTimeout),
	}
}

// ValidateSymbol rejects symbols that would break the provider's query
// syntax: empty input, embedded commas, and the provider-reserved caret
// prefix. Runs before any network call.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: must enter a stock symbol", model.ErrInvalidInput)
	}
	if strings.HasPrefix(symbol, "^") {
		return fmt.Errorf("%w: symbol must not start with '^'", model.ErrInvalidInput)
	}
	if strings.Contains(symbol, ",") {
		return fmt.Errorf("%w: symbol must not contain a comma", model.ErrInvalidInput)
	}
	return nil
}

// Lookup fetches a current price for symbol. One request, bounded time,
// explicit failure: transport errors come back as ErrUnavailable,
// unparseable payloads as ErrInvalidQuote. The returned symbol is
// uppercased regardless of input casing.
func (c *Client) Lookup(ctx context.Context, symbol, assetType string) (model.Quote, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return model.Quote{}, err
	}

	var endpoint string
	switch assetType {
	case model.AssetStock:
		endpoint = fmt.Sprintf(
			"%s/query?apikey=%s&datatype=csv&function=TIME_SERIES_INTRADAY&interval=1min&symbol=%s",
			c.baseURL, c.apiKey, url.QueryEscape(symbol))
	case model.AssetCrypto:
		endpoint = fmt.Sprintf(
			"%s/query?apikey=%s&datatype=csv&function=DIGITAL_CURRENCY_INTRADAY&market=USD&symbol=%s",
			c.baseURL, c.apiKey, url.QueryEscape(symbol))
	default:
		return model.Quote{}, fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidInput, assetType)
	}

	var body []byte
	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			// Keep the caller's context error in the chain; the breaker
			// distinguishes an abandoned request from a provider failure.
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", model.ErrUnavailable, ctx.Err())
			}
			return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: provider returned %s", model.ErrUnavailable, resp.Status)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return model.Quote{}, err
	}

	price, err := parsePrice(body, assetType)
	if err != nil {
		return model.Quote{}, err
	}

	upper := strings.ToUpper(symbol)
	return model.Quote{
		Symbol: upper,
		Name:   upper,
		Price:  price,
		Type:   assetType,
	}, nil
}

// parsePrice pulls the price column out of the provider CSV: the close
// column of the first data row for stocks, the first price column for
// crypto (rounded to cents, matching the provider's USD series).
func parsePrice(body []byte, assetType string) (decimal.Decimal, error) {
	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1

	// header row
	if _, err := r.Read(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: missing header row", model.ErrInvalidQuote)
	}
	row, err := r.Read()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: missing data row", model.ErrInvalidQuote)
	}

	col := 4 // intraday close
	if assetType == model.AssetCrypto {
		col = 1
	}
	if len(row) <= col {
		return decimal.Zero, fmt.Errorf("%w: missing price column", model.ErrInvalidQuote)
	}

	price, err := decimal.NewFromString(row[col])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: unparseable price %q", model.ErrInvalidQuote, row[col])
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive price", model.ErrInvalidQuote)
	}
	if assetType == model.AssetCrypto {
		price = price.Round(2)
	}
	return price, nil
}
