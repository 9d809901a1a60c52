// Package okx maps OKX C2C order book responses onto adapter.RawOffer
// values.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
)

const (
	DefaultBaseURL = "https://www.okx.com"
	booksPath      = "/v3/c2c/tradingOrders/books"
)

// rawData is the order book container. OKX groups ads by the advertiser's
// side: Sell holds ads the user buys from.
type rawData struct {
	Buy  []*rawOrder `json:"buy"`
	Sell []*rawOrder `json:"sell"`
}

// rawOrder accepts both the public books field names and the v5
// advertisements names; whichever is present wins.
type rawOrder struct {
	ID        string           `json:"id"`
	AdID      string           `json:"adId"`
	Side      string           `json:"side"`
	NickName  string           `json:"nickName"`
	Price     adapter.Number   `json:"price"`
	Available adapter.Number   `json:"availableAmount"`
	Payment   []rawPaymentName `json:"paymentMethods"`

	QuoteMin adapter.Number `json:"quoteMinAmountPerOrder"`
	QuoteMax adapter.Number `json:"quoteMaxAmountPerOrder"`
	MinTrans adapter.Number `json:"minSingleTransAmount"`
	MaxTrans adapter.Number `json:"maxSingleTransAmount"`

	CompletedOrderQuantity  adapter.Number `json:"completedOrderQuantity"`
	CompletedOrdersCount30d adapter.Number `json:"completedOrdersCount30d"`
	CompletedRate           adapter.Number `json:"completedRate"`
	CompletionRate30d       adapter.Number `json:"completionRate30d"`
	PositiveRate            adapter.Number `json:"positiveRate"`

	CreatorType        string         `json:"creatorType"`
	UserType           string         `json:"userType"`
	UserIdentity       string         `json:"userIdentity"`
	MerchantID         string         `json:"merchantId"`
	UserGrade          adapter.Number `json:"userGrade"`
	ActiveTimeInSecond adapter.Number `json:"activeTimeInSecond"`
}

// rawPaymentName is a payment method given either as a bare string or as
// an object carrying name and identifier.
type rawPaymentName struct {
	Label string
}

func (p *rawPaymentName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.Label = s
		return nil
	}
	var obj struct {
		Name       string `json:"name"`
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		p.Label = ""
		return nil
	}
	p.Label = obj.Identifier
	if p.Label == "" {
		p.Label = obj.Name
	}
	return nil
}

// Parse decodes an order book response body and returns the offers on the
// given user side. A body that is not an object or lacks the data key yields
// an empty slice and ErrMalformedResponse.
func Parse(body []byte, side adapter.Side) ([]adapter.RawOffer, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil || env == nil {
		return []adapter.RawOffer{}, fmt.Errorf("%w: okx: envelope is not an object", adapter.ErrMalformedResponse)
	}

	if code, ok := env["code"]; ok {
		var c adapter.Number
		_ = json.Unmarshal(code, &c)
		if c.IsSet() && c.String() != "0" {
			var msg string
			_ = json.Unmarshal(env["msg"], &msg)
			return []adapter.RawOffer{}, fmt.Errorf("%w: okx: code %s: %s", adapter.ErrSourceUnavailable, c, msg)
		}
	}

	data, ok := env["data"]
	if !ok {
		return []adapter.RawOffer{}, fmt.Errorf("%w: okx: missing data", adapter.ErrMalformedResponse)
	}

	orders, err := sideOrders(data, side)
	if err != nil {
		return []adapter.RawOffer{}, err
	}

	offers := make([]adapter.RawOffer, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		offers = append(offers, toRawOffer(o))
	}
	return offers, nil
}

// sideOrders selects the list holding the requested user side. The
// advertisements endpoint returns a flat list tagged per ad instead.
func sideOrders(data json.RawMessage, side adapter.Side) ([]*rawOrder, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var flat []*rawOrder
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, fmt.Errorf("%w: okx: data list: %v", adapter.ErrMalformedResponse, err)
		}
		out := flat[:0]
		for _, o := range flat {
			if o != nil && userSide(o.Side, side) == side {
				out = append(out, o)
			}
		}
		return out, nil
	}

	var d rawData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: okx: data is not an object: %v", adapter.ErrMalformedResponse, err)
	}
	if side == adapter.Buy {
		return d.Sell, nil
	}
	return d.Buy, nil
}

// userSide inverts the advertiser's side. Unknown sides are assumed to match
// the requested one.
func userSide(advSide string, requested adapter.Side) adapter.Side {
	switch strings.ToLower(advSide) {
	case "sell":
		return adapter.Buy
	case "buy":
		return adapter.Sell
	default:
		return requested
	}
}

func toRawOffer(o *rawOrder) adapter.RawOffer {
	id := o.ID
	if id == "" {
		id = o.AdID
	}

	methods := make([]string, 0, len(o.Payment))
	for _, p := range o.Payment {
		methods = append(methods, p.Label)
	}

	userType := o.UserType
	if userType == "" {
		userType = o.CreatorType
	}

	return adapter.RawOffer{
		AdID:           id,
		Price:          o.Price,
		Amount:         o.Available,
		MinAmount:      firstSet(o.QuoteMin, o.MinTrans),
		MaxAmount:      firstSet(o.QuoteMax, o.MaxTrans),
		PaymentMethods: methods,
		Merchant: adapter.RawMerchant{
			Name:             o.NickName,
			UserType:         userType,
			UserIdentity:     firstString(o.UserIdentity, o.MerchantID),
			PositiveRate:     o.PositiveRate,
			CompletionRate:   firstSet(o.CompletedRate, o.CompletionRate30d),
			CompletedTrades:  firstSet(o.CompletedOrderQuantity, o.CompletedOrdersCount30d),
			UserGrade:        o.UserGrade,
			ActiveSecondsAgo: o.ActiveTimeInSecond,
		},
	}
}

func firstSet(ns ...adapter.Number) adapter.Number {
	for _, n := range ns {
		if n.IsSet() {
			return n
		}
	}
	return adapter.Number{}
}

func firstString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// Config holds OKX client settings.
type Config struct {
	BaseURL string
}

// Client queries the public OKX C2C order book endpoint.
type Client struct {
	cfg  Config
	http adapter.HTTPDoer
	log  *logger.Logger
}

// NewClient creates a Client. A nil doer uses http.DefaultClient.
func NewClient(cfg Config, doer adapter.HTTPDoer, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		cfg:  cfg,
		http: doer,
		log:  log.With(logger.F("exchange", adapter.ExchangeOKX)),
	}
}

// Exchange implements adapter.Source.
func (c *Client) Exchange() adapter.Exchange { return adapter.ExchangeOKX }

// Fetch implements adapter.Source. The side query parameter is the
// advertiser's side, so a user-buy fetch asks for sell ads.
func (c *Client) Fetch(ctx context.Context, pair adapter.PairSpec, side adapter.Side) ([]adapter.RawOffer, error) {
	q := url.Values{}
	q.Set("quoteCurrency", strings.ToLower(pair.Fiat))
	q.Set("baseCurrency", strings.ToLower(pair.Asset))
	q.Set("side", side.Opposite().String())
	q.Set("paymentMethod", "all")
	if len(pair.PaymentMethods) > 0 {
		q.Set("paymentMethod", strings.Join(pair.PaymentMethods, ","))
	}
	q.Set("userType", "all")
	if pair.MerchantOnly {
		q.Set("userType", "certified")
	}

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+booksPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := adapter.FetchBody(ctx, c.http, req)
	if err != nil {
		return nil, err
	}

	offers, err := Parse(body, side)
	if err != nil {
		return offers, err
	}
	c.log.Debug("fetched offers", logger.F("pair", pair.String()), logger.F("side", side.String()), logger.F("count", len(offers)))
	return offers, nil
}
