package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
)

// ErrInvalidOffer marks an offer whose price or amount is missing,
// non-numeric, non-finite or not positive. Such offers are dropped.
var ErrInvalidOffer = errors.New("invalid offer")

// UnknownPaymentMethod is shown when an offer lists no usable method.
const UnknownPaymentMethod = "Unknown"

// Limits are the per-exchange fallbacks for missing transaction limits.
// A zero Max means the offer's notional value (price × amount).
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultLimits maps each exchange to its fallback limits.
var DefaultLimits = map[adapter.Exchange]Limits{
	adapter.ExchangeBinance: {Min: decimal.Zero},
	adapter.ExchangeOKX:     {Min: decimal.NewFromInt(1)},
}

// Warning is an out-of-band data-quality notice about an emitted order.
type Warning struct {
	Exchange adapter.Exchange `json:"exchange"`
	OrderID  string           `json:"orderId"`
	Message  string           `json:"message"`
}

// Normalizer converts adapter.RawOffer values from one exchange into Orders.
type Normalizer struct {
	exchange adapter.Exchange
	limits   Limits
	log      *logger.Logger

	nowFunc func() time.Time // injectable clock for testing
}

// NewNormalizer creates a Normalizer for the exchange using DefaultLimits.
func NewNormalizer(exchange adapter.Exchange, log *logger.Logger) *Normalizer {
	return &Normalizer{
		exchange: exchange,
		limits:   DefaultLimits[exchange],
		log:      log.With(logger.F("component", "normalizer"), logger.F("exchange", exchange)),
		nowFunc:  time.Now,
	}
}

// Normalize converts one offer. index is the offer's position in its batch
// and only feeds the fallback id. A non-nil Warning accompanies orders that
// are emitted despite inconsistent limits.
func (n *Normalizer) Normalize(raw adapter.RawOffer, side adapter.Side, index int) (Order, *Warning, error) {
	price, ok := raw.Price.Decimal()
	if !ok || !price.IsPositive() {
		return Order{}, nil, fmt.Errorf("%w: price %q", ErrInvalidOffer, raw.Price)
	}
	amount, ok := raw.Amount.Decimal()
	if !ok || !amount.IsPositive() {
		return Order{}, nil, fmt.Errorf("%w: amount %q", ErrInvalidOffer, raw.Amount)
	}

	now := n.nowFunc()

	id := strings.TrimSpace(raw.AdID)
	generated := id == ""
	if generated {
		id = fmt.Sprintf("%s-%s-%d-%d", n.exchange, side, index, now.UnixMilli())
	}

	minAmount, maxAmount := n.limitsFor(raw, price, amount)

	order := Order{
		ID:             id,
		GeneratedID:    generated,
		Exchange:       n.exchange,
		Side:           side,
		Price:          price,
		Amount:         amount,
		MinAmount:      minAmount,
		MaxAmount:      maxAmount,
		PaymentMethods: paymentMethods(raw.PaymentMethods),
		Merchant:       n.merchant(raw.Merchant, now),
	}

	if minAmount.GreaterThan(maxAmount) {
		w := &Warning{
			Exchange: n.exchange,
			OrderID:  id,
			Message:  fmt.Sprintf("minAmount %s exceeds maxAmount %s", minAmount, maxAmount),
		}
		n.log.Warn("inconsistent order limits", logger.F("order_id", id),
			logger.F("min", minAmount.String()), logger.F("max", maxAmount.String()))
		return order, w, nil
	}
	return order, nil, nil
}

// NormalizeBatch converts a whole response, preserving input order and
// silently dropping invalid offers.
func (n *Normalizer) NormalizeBatch(raws []adapter.RawOffer, side adapter.Side) ([]Order, []Warning) {
	orders := make([]Order, 0, len(raws))
	var warnings []Warning
	for i, raw := range raws {
		o, w, err := n.Normalize(raw, side, i)
		if err != nil {
			n.log.Debug("dropping offer", logger.F("ad_id", raw.AdID), logger.F("reason", err.Error()))
			continue
		}
		if w != nil {
			warnings = append(warnings, *w)
		}
		orders = append(orders, o)
	}
	return orders, warnings
}

func (n *Normalizer) limitsFor(raw adapter.RawOffer, price, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	minAmount, ok := raw.MinAmount.Decimal()
	if !ok || minAmount.IsNegative() {
		minAmount = n.limits.Min
	}
	maxAmount, ok := raw.MaxAmount.Decimal()
	if !ok || maxAmount.IsNegative() {
		maxAmount = n.limits.Max
		if maxAmount.IsZero() {
			maxAmount = price.Mul(amount)
		}
	}
	return minAmount, maxAmount
}

func (n *Normalizer) merchant(raw adapter.RawMerchant, now time.Time) Merchant {
	m := Merchant{
		Name:         strings.TrimSpace(raw.Name),
		UserType:     raw.UserType,
		UserIdentity: raw.UserIdentity,
	}

	m.CompletionRate = ratio(raw.CompletionRate)
	if raw.PositiveRate.IsSet() {
		m.Rating = ratio(raw.PositiveRate)
	} else {
		m.Rating = m.CompletionRate
	}
	if v, ok := raw.CompletedTrades.Int64(); ok && v > 0 {
		m.CompletedTrades = v
	}
	if v, ok := raw.UserGrade.Int64(); ok && v > 0 {
		m.UserGrade = int(v)
	}
	if secs, ok := raw.ActiveSecondsAgo.Int64(); ok && secs >= 0 {
		m.LastOnline = now.Unix() - secs
	}

	m.RiskScore = RiskScore(m)
	m.RiskLevel = LevelFor(m.RiskScore)
	return m
}

// ratio reads a rate that may be given as a fraction or a percentage and
// clamps it to [0, 1].
func ratio(n adapter.Number) float64 {
	f, ok := n.Float64()
	if !ok || f <= 0 {
		return 0
	}
	if f > 1 {
		f /= 100
	}
	if f > 1 {
		return 1
	}
	return f
}

func paymentMethods(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if len(out) == 0 {
		return []string{UnknownPaymentMethod}
	}
	return out
}
