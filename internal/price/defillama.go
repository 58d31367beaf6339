// Package price implements the spot price source against the DefiLlama
// current-prices API. Floating point stays inside this package: prices
// leave it either as decimals or already converted to integer quote units.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"liquidator/internal/core"
	apperrors "liquidator/pkg/errors"
	httpclient "liquidator/pkg/http"
)

const defaultBaseURL = "https://coins.llama.fi"

// QuoteDecimals is the fixed-point scale of quote-currency amounts used by
// the decision path.
const QuoteDecimals = 18

// Client looks up current prices by coingecko id, e.g. "governance-ohm" or
// "ethereum".
type Client struct {
	http   *httpclient.Client
	logger core.ILogger
}

// NewClient builds a price client. baseURL is overridable for tests; empty
// means the public API.
func NewClient(baseURL string, timeout time.Duration, logger core.ILogger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:   httpclient.NewClient(baseURL, timeout),
		logger: logger.WithField("component", "price_source"),
	}
}

type currentPricesResponse struct {
	Coins map[string]struct {
		Price decimal.Decimal `json:"price"`
	} `json:"coins"`
}

// SpotPrice returns the asset's current price in quote currency.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := "coingecko:" + symbol
	body, err := c.http.Get(ctx, "/prices/current/"+key, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", apperrors.ErrPriceUnavailable, symbol, err)
	}

	var payload currentPricesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", apperrors.ErrPriceUnavailable, symbol, err)
	}
	coin, ok := payload.Coins[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s missing from response", apperrors.ErrPriceUnavailable, symbol)
	}
	return coin.Price, nil
}

// QuoteUnits converts a decimal price to 18-decimal integer quote units.
// Fractional dust beyond 18 decimals is truncated.
func QuoteUnits(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s", apperrors.ErrInvalidPrice, d)
	}
	scaled := d.Shift(QuoteDecimals).Truncate(0)
	u, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: price %s out of range", apperrors.ErrInvalidPrice, d)
	}
	return u, nil
}

var _ core.IPriceSource = (*Client)(nil)
