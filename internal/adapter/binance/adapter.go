// Package binance maps Binance P2P advertisement search responses onto
// adapter.RawOffer values.
package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
)

const (
	DefaultBaseURL = "https://p2p.binance.com"
	searchPath     = "/bapi/c2c/v2/friendly/c2c/adv/search"
	successCode    = "000000"
)

// searchRequest is the advertisement search body. TradeType is expressed
// from the searching user's side: BUY lists ads the user can buy from.
type searchRequest struct {
	Asset         string   `json:"asset"`
	Fiat          string   `json:"fiat"`
	TradeType     string   `json:"tradeType"`
	Page          int      `json:"page"`
	Rows          int      `json:"rows"`
	PayTypes      []string `json:"payTypes"`
	PublisherType *string  `json:"publisherType"`
}

type rawItem struct {
	Adv        *rawAdv        `json:"adv"`
	Advertiser *rawAdvertiser `json:"advertiser"`
}

// rawAdv is the listing half of an item. TradeType is the advertiser's side.
type rawAdv struct {
	AdvNo                string           `json:"advNo"`
	TradeType            string           `json:"tradeType"`
	Price                adapter.Number   `json:"price"`
	TradableQuantity     adapter.Number   `json:"tradableQuantity"`
	SurplusAmount        adapter.Number   `json:"surplusAmount"`
	MinSingleTransAmount adapter.Number   `json:"minSingleTransAmount"`
	MaxSingleTransAmount adapter.Number   `json:"maxSingleTransAmount"`
	TradeMethods         []rawTradeMethod `json:"tradeMethods"`
}

type rawTradeMethod struct {
	Identifier      string `json:"identifier"`
	TradeMethodName string `json:"tradeMethodName"`
}

type rawAdvertiser struct {
	UserNo             string         `json:"userNo"`
	NickName           string         `json:"nickName"`
	MonthOrderCount    adapter.Number `json:"monthOrderCount"`
	MonthFinishRate    adapter.Number `json:"monthFinishRate"`
	PositiveRate       adapter.Number `json:"positiveRate"`
	UserType           string         `json:"userType"`
	UserIdentity       string         `json:"userIdentity"`
	UserGrade          adapter.Number `json:"userGrade"`
	ActiveTimeInSecond adapter.Number `json:"activeTimeInSecond"`
}

// Parse decodes a search response body and returns the offers on the given
// user side, in the order Binance returned them. A body that is not an
// object or lacks the data key yields an empty slice and
// ErrMalformedResponse.
func Parse(body []byte, side adapter.Side) ([]adapter.RawOffer, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil || env == nil {
		return []adapter.RawOffer{}, fmt.Errorf("%w: binance: envelope is not an object", adapter.ErrMalformedResponse)
	}

	if code, ok := env["code"]; ok {
		var c adapter.Number
		_ = json.Unmarshal(code, &c)
		if c.IsSet() && c.String() != successCode {
			var msg string
			_ = json.Unmarshal(env["message"], &msg)
			return []adapter.RawOffer{}, fmt.Errorf("%w: binance: code %s: %s", adapter.ErrSourceUnavailable, c, msg)
		}
	}

	data, ok := env["data"]
	if !ok {
		return []adapter.RawOffer{}, fmt.Errorf("%w: binance: missing data", adapter.ErrMalformedResponse)
	}

	var items []*rawItem
	if err := json.Unmarshal(data, &items); err != nil {
		return []adapter.RawOffer{}, fmt.Errorf("%w: binance: data is not a list: %v", adapter.ErrMalformedResponse, err)
	}

	offers := make([]adapter.RawOffer, 0, len(items))
	for _, it := range items {
		if it == nil || it.Adv == nil {
			continue
		}
		if userSide(it.Adv.TradeType, side) != side {
			continue
		}
		offers = append(offers, toRawOffer(it))
	}
	return offers, nil
}

// userSide inverts the advertiser's trade type. An unknown or missing trade
// type is assumed to match the side that was requested.
func userSide(advTradeType string, requested adapter.Side) adapter.Side {
	switch strings.ToUpper(advTradeType) {
	case "SELL":
		return adapter.Buy
	case "BUY":
		return adapter.Sell
	default:
		return requested
	}
}

func toRawOffer(it *rawItem) adapter.RawOffer {
	adv := it.Adv
	amount := adv.TradableQuantity
	if !amount.IsSet() {
		amount = adv.SurplusAmount
	}

	methods := make([]string, 0, len(adv.TradeMethods))
	for _, m := range adv.TradeMethods {
		label := m.Identifier
		if label == "" {
			label = m.TradeMethodName
		}
		methods = append(methods, label)
	}

	offer := adapter.RawOffer{
		AdID:           adv.AdvNo,
		Price:          adv.Price,
		Amount:         amount,
		MinAmount:      adv.MinSingleTransAmount,
		MaxAmount:      adv.MaxSingleTransAmount,
		PaymentMethods: methods,
	}

	if a := it.Advertiser; a != nil {
		offer.Merchant = adapter.RawMerchant{
			Name:             a.NickName,
			UserType:         a.UserType,
			UserIdentity:     a.UserIdentity,
			PositiveRate:     a.PositiveRate,
			CompletionRate:   a.MonthFinishRate,
			CompletedTrades:  a.MonthOrderCount,
			UserGrade:        a.UserGrade,
			ActiveSecondsAgo: a.ActiveTimeInSecond,
		}
	}
	return offer
}

// Config holds Binance client settings.
type Config struct {
	BaseURL string
	Rows    int
}

// Client queries the public Binance P2P search endpoint.
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
	if cfg.Rows <= 0 {
		cfg.Rows = 20
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		cfg:  cfg,
		http: doer,
		log:  log.With(logger.F("exchange", adapter.ExchangeBinance)),
	}
}

// Exchange implements adapter.Source.
func (c *Client) Exchange() adapter.Exchange { return adapter.ExchangeBinance }

// Fetch implements adapter.Source.
func (c *Client) Fetch(ctx context.Context, pair adapter.PairSpec, side adapter.Side) ([]adapter.RawOffer, error) {
	reqBody := searchRequest{
		Asset:     strings.ToUpper(pair.Asset),
		Fiat:      strings.ToUpper(pair.Fiat),
		TradeType: strings.ToUpper(side.String()),
		Page:      1,
		Rows:      c.cfg.Rows,
		PayTypes:  pair.PaymentMethods,
	}
	if reqBody.PayTypes == nil {
		reqBody.PayTypes = []string{}
	}
	if pair.MerchantOnly {
		merchant := "merchant"
		reqBody.PublisherType = &merchant
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
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
