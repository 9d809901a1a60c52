package engine

import (
	"testing"
	"time"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/adapter/binance"
	"github.com/deenoize/crypto-p2p-ai/internal/adapter/okx"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
)

// Exchange A lists a user-buy offer at 1.00 and a user-sell offer at 1.10.
const binanceBook = `{
	"code": "000000",
	"data": [
		{
			"adv": {
				"advNo": "a-buy",
				"tradeType": "SELL",
				"price": "1.00",
				"tradableQuantity": "100",
				"minSingleTransAmount": "10",
				"maxSingleTransAmount": "1000",
				"tradeMethods": [{"identifier": "BANK"}]
			},
			"advertiser": {"nickName": "alpha", "positiveRate": "0.99", "monthOrderCount": 400}
		},
		{
			"adv": {
				"advNo": "a-sell",
				"tradeType": "BUY",
				"price": "1.10",
				"tradableQuantity": "50",
				"minSingleTransAmount": "10",
				"maxSingleTransAmount": "500",
				"tradeMethods": [{"identifier": "BANK"}]
			},
			"advertiser": {"nickName": "beta", "positiveRate": "0.97", "monthOrderCount": 80}
		}
	]
}`

// Exchange B lists a single user-buy offer at 0.90.
const okxBook = `{
	"code": 0,
	"data": {
		"buy": [],
		"sell": [
			{
				"id": "b-buy",
				"side": "sell",
				"nickName": "gamma",
				"price": "0.90",
				"availableAmount": "80",
				"quoteMinAmountPerOrder": "10",
				"quoteMaxAmountPerOrder": "1000",
				"paymentMethods": ["BANK"],
				"completedRate": "0.95",
				"completedOrderQuantity": 150
			}
		]
	}
}`

func snapshotFrom(t *testing.T, ex adapter.Exchange, parse func([]byte, adapter.Side) ([]adapter.RawOffer, error), body string) Snapshot {
	t.Helper()
	n := NewNormalizer(ex, logger.Nop())
	n.nowFunc = func() time.Time { return fixedNow }

	snap := Snapshot{Exchange: ex, BuyAvailable: true, SellAvailable: true}
	for _, side := range []adapter.Side{adapter.Buy, adapter.Sell} {
		raws, err := parse([]byte(body), side)
		if err != nil {
			t.Fatalf("%s %s: %v", ex, side, err)
		}
		orders, _ := n.NormalizeBatch(raws, side)
		if side == adapter.Buy {
			snap.BuyOrders = orders
		} else {
			snap.SellOrders = orders
		}
	}
	return snap
}

func TestCrossBook_EndToEnd(t *testing.T) {
	snaps := []Snapshot{
		snapshotFrom(t, adapter.ExchangeBinance, binance.Parse, binanceBook),
		snapshotFrom(t, adapter.ExchangeOKX, okx.Parse, okxBook),
	}

	cb := NewCrossBook(Filters{MinSpreadPercent: 5}, false)
	cb.nowFunc = func() time.Time { return fixedNow }

	opps := cb.Opportunities(snaps)
	if len(opps) != 1 {
		t.Fatalf("expected exactly one opportunity, got %+v", opps)
	}

	o := opps[0]
	if o.BuyExchange != adapter.ExchangeOKX || o.SellExchange != adapter.ExchangeBinance {
		t.Fatalf("expected buy on OKX and sell on Binance, got %s -> %s", o.BuyExchange, o.SellExchange)
	}
	if o.BuyOrderID != "b-buy" || o.SellOrderID != "a-sell" {
		t.Fatalf("unexpected order ids %s/%s", o.BuyOrderID, o.SellOrderID)
	}
	if o.SpreadPercent < 22.2 || o.SpreadPercent > 22.3 {
		t.Fatalf("expected ~22.2%%, got %v", o.SpreadPercent)
	}
	if o.MinAmount.String() != "10" || o.MaxAmount.String() != "80" {
		t.Fatalf("expected window 10-80, got %s-%s", o.MinAmount, o.MaxAmount)
	}
	if o.Timestamp != fixedNow.UnixMilli() {
		t.Fatalf("unexpected timestamp %d", o.Timestamp)
	}
	if o.BuyMerchant.Name != "gamma" || o.SellMerchant.Name != "beta" {
		t.Fatalf("unexpected merchants %+v / %+v", o.BuyMerchant, o.SellMerchant)
	}
}

func TestCrossBook_SameExchange(t *testing.T) {
	snaps := []Snapshot{
		snapshotFrom(t, adapter.ExchangeBinance, binance.Parse, binanceBook),
		snapshotFrom(t, adapter.ExchangeOKX, okx.Parse, okxBook),
	}

	cb := NewCrossBook(Filters{MinSpreadPercent: 5}, true)
	opps := cb.Opportunities(snaps)

	// B->A at 22.2% and A->A at 10%.
	if len(opps) != 2 {
		t.Fatalf("expected 2 opportunities, got %+v", opps)
	}
	if opps[0].BuyExchange != adapter.ExchangeOKX {
		t.Fatalf("highest spread first, got %+v", opps[0])
	}
	if opps[1].BuyExchange != adapter.ExchangeBinance || opps[1].SellExchange != adapter.ExchangeBinance {
		t.Fatalf("expected same-exchange pair second, got %+v", opps[1])
	}
}

func TestCrossBook_UnavailableSideContributesNothing(t *testing.T) {
	a := Snapshot{
		Exchange:      adapter.ExchangeBinance,
		BuyOrders:     []Order{limitOrder("a-buy", adapter.ExchangeBinance, adapter.Buy, "1.00", "100", "10", "1000")},
		BuyAvailable:  true,
		SellAvailable: false,
	}
	b := Snapshot{
		Exchange:      adapter.ExchangeOKX,
		BuyOrders:     []Order{limitOrder("b-buy", adapter.ExchangeOKX, adapter.Buy, "0.90", "80", "10", "1000")},
		BuyAvailable:  true,
		SellAvailable: false,
	}

	if opps := NewCrossBook(Filters{}, true).Opportunities([]Snapshot{a, b}); len(opps) != 0 {
		t.Fatalf("no sell side anywhere, expected nothing, got %+v", opps)
	}
}

func TestCrossBook_NoNegativeSpreads(t *testing.T) {
	snaps := []Snapshot{
		snapshotFrom(t, adapter.ExchangeBinance, binance.Parse, binanceBook),
		snapshotFrom(t, adapter.ExchangeOKX, okx.Parse, okxBook),
	}

	for _, o := range NewCrossBook(Filters{}, true).Opportunities(snaps) {
		if o.SellPrice.LessThan(o.BuyPrice) {
			t.Fatalf("negative spread emitted: %+v", o)
		}
	}
}
