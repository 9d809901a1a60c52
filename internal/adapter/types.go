package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Exchange identifies the source of P2P listings.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeOKX     Exchange = "okx"
)

// Side is the direction of an offer from the platform user's point of view:
// Buy offers are the ones a user can buy the asset from.
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the advertiser's side for a user side and vice versa.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return s
	}
}

// MarshalText renders the side as "buy" or "sell" in JSON payloads.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Errors shared by every exchange adapter.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedResponse = errors.New("malformed response")
)

// PairSpec is one fiat/asset query, e.g. USDT bought with USD.
type PairSpec struct {
	Fiat           string   `json:"fiat"`
	Asset          string   `json:"asset"`
	PaymentMethods []string `json:"paymentMethods,omitempty"`
	MerchantOnly   bool     `json:"merchantOnly,omitempty"`
}

// Key returns the canonical pair key used for state and cache keys.
func (p PairSpec) Key() string {
	return fmt.Sprintf("%s-%s", strings.ToUpper(p.Asset), strings.ToUpper(p.Fiat))
}

func (p PairSpec) String() string {
	return strings.ToUpper(p.Asset) + "/" + strings.ToUpper(p.Fiat)
}

// RawMerchant carries the advertiser fields exactly as the exchange reported
// them. Any field may be unset.
type RawMerchant struct {
	Name             string
	UserType         string
	UserIdentity     string
	PositiveRate     Number
	CompletionRate   Number
	CompletedTrades  Number
	UserGrade        Number
	ActiveSecondsAgo Number
}

// RawOffer is one advertisement after exchange-specific field mapping but
// before numeric parsing and validation.
type RawOffer struct {
	AdID           string
	Price          Number
	Amount         Number
	MinAmount      Number
	MaxAmount      Number
	PaymentMethods []string
	Merchant       RawMerchant
}

// Source fetches one side of one pair from an exchange.
type Source interface {
	Exchange() Exchange
	Fetch(ctx context.Context, pair PairSpec, side Side) ([]RawOffer, error)
}
