package engine

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
)

// ErrNoFeasibleSpot is returned when no precedence rule yields a price.
// Callers show "no spot price available", never zero.
var ErrNoFeasibleSpot = errors.New("no feasible spot price")

// SpotSource records which rule produced a spot price.
type SpotSource uint8

const (
	SpotUnresolved SpotSource = iota
	SpotExternal
	SpotPegged
	SpotAverage
	SpotBuySide
	SpotSellSide
)

func (s SpotSource) String() string {
	switch s {
	case SpotExternal:
		return "external"
	case SpotPegged:
		return "pegged"
	case SpotAverage:
		return "average"
	case SpotBuySide:
		return "buy-side"
	case SpotSellSide:
		return "sell-side"
	default:
		return "unresolved"
	}
}

// MarshalText renders the source name in JSON payloads.
func (s SpotSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SpotPrice is a resolved reference price.
type SpotPrice struct {
	Price  decimal.Decimal `json:"price"`
	Source SpotSource      `json:"source"`
}

// StablePegs lists stablecoins by the fiat they track 1:1.
var StablePegs = map[string][]string{
	"USD": {"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "DAI", "USDP"},
	"EUR": {"EURC", "EURT"},
}

// IsStablePeg reports whether asset is a stablecoin pegged to fiat.
func IsStablePeg(asset, fiat string) bool {
	for _, a := range StablePegs[strings.ToUpper(fiat)] {
		if a == strings.ToUpper(asset) {
			return true
		}
	}
	return false
}

// ResolveSpot picks a reference price for pair. A positive external quote
// wins, then a 1:1 stablecoin peg, then the mean of both side averages, then
// the average of whichever side has orders.
func ResolveSpot(pair adapter.PairSpec, buy, sell []Order, external *decimal.Decimal) (SpotPrice, error) {
	if external != nil && external.IsPositive() {
		return SpotPrice{Price: *external, Source: SpotExternal}, nil
	}
	if IsStablePeg(pair.Asset, pair.Fiat) {
		return SpotPrice{Price: decimal.NewFromInt(1), Source: SpotPegged}, nil
	}

	buyAvg, hasBuy := averagePrice(buy)
	sellAvg, hasSell := averagePrice(sell)
	switch {
	case hasBuy && hasSell:
		return SpotPrice{Price: decimal.Avg(buyAvg, sellAvg), Source: SpotAverage}, nil
	case hasBuy:
		return SpotPrice{Price: buyAvg, Source: SpotBuySide}, nil
	case hasSell:
		return SpotPrice{Price: sellAvg, Source: SpotSellSide}, nil
	default:
		return SpotPrice{}, ErrNoFeasibleSpot
	}
}

func averagePrice(orders []Order) (decimal.Decimal, bool) {
	if len(orders) == 0 {
		return decimal.Decimal{}, false
	}
	prices := make([]decimal.Decimal, len(orders))
	for i, o := range orders {
		prices[i] = o.Price
	}
	return decimal.Avg(prices[0], prices[1:]...), true
}

// DeviationPercent is how far price sits from spot, in percent.
func DeviationPercent(price decimal.Decimal, spot SpotPrice) float64 {
	if !spot.Price.IsPositive() {
		return 0
	}
	return price.Sub(spot.Price).Div(spot.Price).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// WithinDeviation returns the orders priced no further than maxPercent
// from spot, in either direction. A non-positive maxPercent or an
// unpriced spot keeps every order.
func WithinDeviation(orders []Order, spot SpotPrice, maxPercent float64) []Order {
	if maxPercent <= 0 || !spot.Price.IsPositive() {
		return orders
	}
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if math.Abs(DeviationPercent(o.Price, spot)) <= maxPercent {
			out = append(out, o)
		}
	}
	return out
}

// SpotKind distinguishes the spot-versus-P2P comparisons.
type SpotKind string

const (
	KindP2PInternal SpotKind = "p2p-internal"
	KindSpotToP2P   SpotKind = "spot-to-p2p"
	KindP2PToSpot   SpotKind = "p2p-to-spot"
)

// SpotOpportunity compares the best P2P prices of one exchange with an
// external spot quote.
type SpotOpportunity struct {
	Kind          SpotKind         `json:"kind"`
	Exchange      adapter.Exchange `json:"exchange"`
	BuyPrice      decimal.Decimal  `json:"buyPrice"`
	SellPrice     decimal.Decimal  `json:"sellPrice"`
	SpreadPercent float64          `json:"spreadPercent"`
}

// SpotArbitrage checks a snapshot against an externally quoted spot price:
// buying and selling on P2P, buying spot to sell on P2P, and buying on P2P
// to sell spot. Only kinds whose spread exceeds minPercent are returned.
func SpotArbitrage(snap Snapshot, spot SpotPrice, minPercent float64) []SpotOpportunity {
	if spot.Source != SpotExternal || !spot.Price.IsPositive() {
		return nil
	}

	bestBuy, hasBuy := bestPrice(snap.BuyOrders, false)
	bestSell, hasSell := bestPrice(snap.SellOrders, true)

	var out []SpotOpportunity
	add := func(kind SpotKind, buyAt, sellAt decimal.Decimal) {
		pct := spreadPercent(buyAt, sellAt)
		if pct > minPercent {
			out = append(out, SpotOpportunity{
				Kind: kind, Exchange: snap.Exchange,
				BuyPrice: buyAt, SellPrice: sellAt, SpreadPercent: pct,
			})
		}
	}

	if hasBuy && hasSell {
		add(KindP2PInternal, bestBuy, bestSell)
	}
	if hasSell {
		add(KindSpotToP2P, spot.Price, bestSell)
	}
	if hasBuy {
		add(KindP2PToSpot, bestBuy, spot.Price)
	}
	return out
}

// bestPrice returns the lowest price (highest when high is set).
func bestPrice(orders []Order, high bool) (decimal.Decimal, bool) {
	if len(orders) == 0 {
		return decimal.Decimal{}, false
	}
	best := orders[0].Price
	for _, o := range orders[1:] {
		if high && o.Price.GreaterThan(best) || !high && o.Price.LessThan(best) {
			best = o.Price
		}
	}
	return best, true
}

func spreadPercent(buyAt, sellAt decimal.Decimal) float64 {
	return sellAt.Sub(buyAt).Div(buyAt).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
