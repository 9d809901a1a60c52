package engine

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors returned by Filters.Validate.
var (
	ErrNegativeThreshold = errors.New("filter threshold must not be negative")
	ErrRatingOutOfRange  = errors.New("rating threshold out of [0,1]")
	ErrInvertedBounds    = errors.New("filter minAmount exceeds maxAmount")
)

// Filters bound which order pairs qualify as opportunities. Thresholds are
// inclusive lower bounds. A zero MaxAmount means no caller-side cap. When
// PaymentMethods is set, both orders must accept at least one of them.
// MaxPriceDeviationPercent, when positive, excludes orders priced further
// than that from the resolved spot price.
type Filters struct {
	MinSpreadPercent         float64
	MinAmount                decimal.Decimal
	MaxAmount                decimal.Decimal
	MinMerchantRating        float64
	MinCompletedTrades       int64
	MinCompletionRate        float64
	PaymentMethods           []string
	MaxPriceDeviationPercent float64
}

// Validate checks the filters before a matching run. It fails fast on the
// first bad field.
func (f Filters) Validate() error {
	if f.MinSpreadPercent < 0 {
		return fmt.Errorf("%w: minSpreadPercent %.4f", ErrNegativeThreshold, f.MinSpreadPercent)
	}
	if f.MinAmount.IsNegative() || f.MaxAmount.IsNegative() {
		return fmt.Errorf("%w: amount bounds %s-%s", ErrNegativeThreshold, f.MinAmount, f.MaxAmount)
	}
	if f.MaxPriceDeviationPercent < 0 {
		return fmt.Errorf("%w: maxPriceDeviationPercent %.4f", ErrNegativeThreshold, f.MaxPriceDeviationPercent)
	}
	if f.MinCompletedTrades < 0 {
		return fmt.Errorf("%w: minCompletedTrades %d", ErrNegativeThreshold, f.MinCompletedTrades)
	}
	if f.MinMerchantRating < 0 || f.MinMerchantRating > 1 {
		return fmt.Errorf("%w: %.4f", ErrRatingOutOfRange, f.MinMerchantRating)
	}
	if f.MinCompletionRate < 0 || f.MinCompletionRate > 1 {
		return fmt.Errorf("%w: completion rate %.4f", ErrRatingOutOfRange, f.MinCompletionRate)
	}
	if f.MaxAmount.IsPositive() && f.MinAmount.GreaterThan(f.MaxAmount) {
		return fmt.Errorf("%w: %s > %s", ErrInvertedBounds, f.MinAmount, f.MaxAmount)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// Match pairs every order the user can buy from with every order the user
// can sell into and returns the qualifying pairs sorted by spreadPercent,
// highest first. Pairs with equal spreads keep their enumeration order.
func Match(buyOrders, sellOrders []Order, f Filters, now time.Time) []Opportunity {
	minSpread := decimal.NewFromFloat(f.MinSpreadPercent)
	ts := now.UnixMilli()

	var out []Opportunity
	for _, b := range buyOrders {
		if !f.merchantOK(b.Merchant) {
			continue
		}
		for _, s := range sellOrders {
			if !f.merchantOK(s.Merchant) {
				continue
			}
			if !f.paymentOK(b.PaymentMethods, s.PaymentMethods) {
				continue
			}

			spread := s.Price.Sub(b.Price)
			pct := spread.Div(b.Price).Mul(hundred)
			if pct.LessThan(minSpread) {
				continue
			}

			effMin, effMax, ok := f.window(b, s)
			if !ok {
				continue
			}

			out = append(out, Opportunity{
				BuyExchange:        b.Exchange,
				SellExchange:       s.Exchange,
				BuyOrderID:         b.ID,
				SellOrderID:        s.ID,
				BuyIDGenerated:     b.GeneratedID,
				SellIDGenerated:    s.GeneratedID,
				BuyPrice:           b.Price,
				SellPrice:          s.Price,
				Spread:             spread,
				SpreadPercent:      pct.InexactFloat64(),
				MinAmount:          effMin,
				MaxAmount:          effMax,
				BuyPaymentMethods:  b.PaymentMethods,
				SellPaymentMethods: s.PaymentMethods,
				BuyMerchant:        summarize(b.Merchant),
				SellMerchant:       summarize(s.Merchant),
				Timestamp:          ts,
			})
		}
	}

	SortBySpread(out)
	return out
}

// SortBySpread orders opportunities by spreadPercent descending, keeping
// the relative order of ties.
func SortBySpread(opps []Opportunity) {
	slices.SortStableFunc(opps, func(a, b Opportunity) int {
		return cmp.Compare(b.SpreadPercent, a.SpreadPercent)
	})
}

func (f Filters) merchantOK(m Merchant) bool {
	return m.Rating >= f.MinMerchantRating &&
		m.CompletedTrades >= f.MinCompletedTrades &&
		m.CompletionRate >= f.MinCompletionRate
}

func (f Filters) paymentOK(buyMethods, sellMethods []string) bool {
	if len(f.PaymentMethods) == 0 {
		return true
	}
	return acceptsAny(buyMethods, f.PaymentMethods) && acceptsAny(sellMethods, f.PaymentMethods)
}

func acceptsAny(methods, wanted []string) bool {
	for _, m := range methods {
		for _, w := range wanted {
			if strings.EqualFold(m, w) {
				return true
			}
		}
	}
	return false
}

// window intersects both orders' limits with the caller bounds. The upper
// bound is also capped by what the buy-side advertiser has available.
func (f Filters) window(b, s Order) (decimal.Decimal, decimal.Decimal, bool) {
	effMin := decimal.Max(b.MinAmount, s.MinAmount, f.MinAmount)

	caps := []decimal.Decimal{s.MaxAmount, b.Amount}
	if f.MaxAmount.IsPositive() {
		caps = append(caps, f.MaxAmount)
	}
	effMax := decimal.Min(b.MaxAmount, caps...)

	if effMax.LessThan(effMin) {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return effMin, effMax, true
}
