package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
)

const DefaultSpotURL = "https://api.binance.com"

type tickerPrice struct {
	Symbol string         `json:"symbol"`
	Price  adapter.Number `json:"price"`
}

// SpotQuoter reads the last traded spot price for ASSETFIAT from the public
// Binance ticker endpoint.
type SpotQuoter struct {
	baseURL string
	http    adapter.HTTPDoer
}

// NewSpotQuoter creates a SpotQuoter. A nil doer uses http.DefaultClient.
func NewSpotQuoter(baseURL string, doer adapter.HTTPDoer) *SpotQuoter {
	if baseURL == "" {
		baseURL = DefaultSpotURL
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &SpotQuoter{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

// Quote returns the spot price for the pair. Unknown symbols surface as
// ErrSourceUnavailable since Binance answers them with HTTP 400.
func (q *SpotQuoter) Quote(ctx context.Context, pair adapter.PairSpec) (decimal.Decimal, error) {
	symbol := strings.ToUpper(pair.Asset + pair.Fiat)
	req, err := http.NewRequest(http.MethodGet, q.baseURL+"/api/v3/ticker/price?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	body, err := adapter.FetchBody(ctx, q.http, req)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: binance ticker: %v", adapter.ErrMalformedResponse, err)
	}
	price, ok := tp.Price.Decimal()
	if !ok || !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: binance ticker: bad price %q", adapter.ErrMalformedResponse, tp.Price)
	}
	return price, nil
}
