package engine

import (
	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
)

// RiskLevel buckets a merchant's risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Merchant is the identity and reputation of an advertiser.
type Merchant struct {
	Name            string    `json:"name"`
	Rating          float64   `json:"rating"`
	CompletedTrades int64     `json:"completedTrades"`
	CompletionRate  float64   `json:"completionRate"`
	LastOnline      int64     `json:"lastOnlineEpochSeconds"` // 0 means unknown
	UserType        string    `json:"userType"`
	UserIdentity    string    `json:"userIdentity"`
	UserGrade       int       `json:"userGrade"`
	RiskScore       float64   `json:"riskScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
}

// Order is one normalized advertisement. Side is from the platform user's
// point of view. GeneratedID marks an id synthesized by the normalizer,
// which is not stable across cycles.
type Order struct {
	ID             string           `json:"id"`
	GeneratedID    bool             `json:"generatedId,omitempty"`
	Exchange       adapter.Exchange `json:"exchange"`
	Side           adapter.Side     `json:"side"`
	Price          decimal.Decimal  `json:"price"`
	Amount         decimal.Decimal  `json:"amount"`
	MinAmount      decimal.Decimal  `json:"minAmount"`
	MaxAmount      decimal.Decimal  `json:"maxAmount"`
	PaymentMethods []string         `json:"paymentMethods"`
	Merchant       Merchant         `json:"merchant"`
}

// Snapshot is one exchange's view of a pair for a single polling cycle.
// BuyOrders are sorted by ascending price, SellOrders by descending price.
// A side whose source failed is empty and flagged unavailable.
type Snapshot struct {
	Exchange      adapter.Exchange `json:"exchange"`
	Pair          string           `json:"pair"`
	BuyOrders     []Order          `json:"buyOrders"`
	SellOrders    []Order          `json:"sellOrders"`
	HasChanges    bool             `json:"hasChanges"`
	BuyAvailable  bool             `json:"buyAvailable"`
	SellAvailable bool             `json:"sellAvailable"`
}

// MerchantSummary is the merchant detail attached to an opportunity.
type MerchantSummary struct {
	Name           string  `json:"name"`
	CompletionRate float64 `json:"completionRate"`
	RiskScore      float64 `json:"riskScore"`
}

// Opportunity is a candidate trade: buy on BuyExchange, sell on
// SellExchange. MinAmount and MaxAmount bound the feasible trade size.
type Opportunity struct {
	BuyExchange        adapter.Exchange `json:"buyExchange"`
	SellExchange       adapter.Exchange `json:"sellExchange"`
	BuyOrderID         string           `json:"buyOrderId"`
	SellOrderID        string           `json:"sellOrderId"`
	BuyIDGenerated     bool             `json:"buyIdGenerated,omitempty"`
	SellIDGenerated    bool             `json:"sellIdGenerated,omitempty"`
	BuyPrice           decimal.Decimal  `json:"buyPrice"`
	SellPrice          decimal.Decimal  `json:"sellPrice"`
	Spread             decimal.Decimal  `json:"spread"`
	SpreadPercent      float64          `json:"spreadPercent"`
	MinAmount          decimal.Decimal  `json:"minAmount"`
	MaxAmount          decimal.Decimal  `json:"maxAmount"`
	BuyPaymentMethods  []string         `json:"buyPaymentMethods"`
	SellPaymentMethods []string         `json:"sellPaymentMethods"`
	BuyMerchant        MerchantSummary  `json:"buyMerchant"`
	SellMerchant       MerchantSummary  `json:"sellMerchant"`
	Timestamp          int64            `json:"timestampEpochMillis"`
}

func summarize(m Merchant) MerchantSummary {
	return MerchantSummary{Name: m.Name, CompletionRate: m.CompletionRate, RiskScore: m.RiskScore}
}
