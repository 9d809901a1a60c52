package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
)

var btcNGN = adapter.PairSpec{Asset: "BTC", Fiat: "NGN"}

func TestResolveSpot_ExternalQuoteWins(t *testing.T) {
	quote := decimal.RequireFromString("1.23")
	buy := []Order{order("b", adapter.Buy, "9", "1")}
	sell := []Order{order("s", adapter.Sell, "11", "1")}

	for _, pair := range []adapter.PairSpec{btcNGN, {Asset: "USDT", Fiat: "USD"}} {
		spot, err := ResolveSpot(pair, buy, sell, &quote)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if !spot.Price.Equal(quote) || spot.Source != SpotExternal {
			t.Fatalf("expected external 1.23, got %s (%s)", spot.Price, spot.Source)
		}
	}
}

func TestResolveSpot_Precedence(t *testing.T) {
	buy := []Order{order("b1", adapter.Buy, "100", "1"), order("b2", adapter.Buy, "102", "1")}
	sell := []Order{order("s1", adapter.Sell, "98", "1")}
	zero := decimal.Zero

	tests := []struct {
		name       string
		pair       adapter.PairSpec
		buy, sell  []Order
		external   *decimal.Decimal
		wantPrice  string
		wantSource SpotSource
	}{
		{"stable peg", adapter.PairSpec{Asset: "usdc", Fiat: "usd"}, buy, sell, nil, "1", SpotPegged},
		{"non-positive quote ignored", adapter.PairSpec{Asset: "USDT", Fiat: "USD"}, buy, sell, &zero, "1", SpotPegged},
		{"average of averages", btcNGN, buy, sell, nil, "99.5", SpotAverage},
		{"buy side only", btcNGN, buy, nil, nil, "101", SpotBuySide},
		{"sell side only", btcNGN, nil, sell, nil, "98", SpotSellSide},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spot, err := ResolveSpot(tt.pair, tt.buy, tt.sell, tt.external)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if spot.Price.String() != tt.wantPrice || spot.Source != tt.wantSource {
				t.Fatalf("want %s (%s), got %s (%s)", tt.wantPrice, tt.wantSource, spot.Price, spot.Source)
			}
		})
	}
}

func TestResolveSpot_Unresolved(t *testing.T) {
	spot, err := ResolveSpot(btcNGN, nil, nil, nil)
	if !errors.Is(err, ErrNoFeasibleSpot) {
		t.Fatalf("expected ErrNoFeasibleSpot, got %v", err)
	}
	if spot.Source != SpotUnresolved {
		t.Fatalf("expected unresolved source, got %s", spot.Source)
	}
}

func TestSpotArbitrage(t *testing.T) {
	snap := Snapshot{
		Exchange:   adapter.ExchangeBinance,
		BuyOrders:  []Order{order("b1", adapter.Buy, "100", "1"), order("b2", adapter.Buy, "104", "1")},
		SellOrders: []Order{order("s1", adapter.Sell, "103", "1"), order("s2", adapter.Sell, "99", "1")},
	}

	spot := SpotPrice{Price: decimal.NewFromInt(98), Source: SpotExternal}
	opps := SpotArbitrage(snap, spot, 1.0)

	// P2P internal: buy 100, sell 103 (3%). Spot to P2P: 98 -> 103 (5.1%).
	// P2P to spot: 100 -> 98 is negative.
	if len(opps) != 2 {
		t.Fatalf("expected 2 opportunities, got %+v", opps)
	}
	if opps[0].Kind != KindP2PInternal || opps[1].Kind != KindSpotToP2P {
		t.Fatalf("unexpected kinds %+v", opps)
	}
	if !opps[1].BuyPrice.Equal(decimal.NewFromInt(98)) || !opps[1].SellPrice.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("unexpected spot-to-p2p prices %+v", opps[1])
	}

	derived := SpotPrice{Price: decimal.NewFromInt(98), Source: SpotAverage}
	if got := SpotArbitrage(snap, derived, 1.0); got != nil {
		t.Fatalf("derived spot must not be compared, got %+v", got)
	}
}

func TestDeviationPercent(t *testing.T) {
	spot := SpotPrice{Price: decimal.NewFromInt(100), Source: SpotPegged}
	if got := DeviationPercent(decimal.NewFromInt(102), spot); got != 2 {
		t.Fatalf("expected 2%%, got %v", got)
	}
	if got := DeviationPercent(decimal.NewFromInt(102), SpotPrice{}); got != 0 {
		t.Fatalf("expected 0 for missing spot, got %v", got)
	}
}

func TestWithinDeviation(t *testing.T) {
	spot := SpotPrice{Price: decimal.NewFromInt(100), Source: SpotExternal}
	orders := []Order{
		order("low", adapter.Buy, "94", "1"),
		order("near", adapter.Buy, "97", "1"),
		order("edge", adapter.Buy, "105", "1"),
		order("high", adapter.Buy, "106", "1"),
	}

	kept := WithinDeviation(orders, spot, 5)
	if len(kept) != 2 || kept[0].ID != "near" || kept[1].ID != "edge" {
		t.Fatalf("expected near and edge within 5%%, got %+v", kept)
	}

	if got := WithinDeviation(orders, spot, 0); len(got) != len(orders) {
		t.Fatalf("zero limit must keep every order, got %d", len(got))
	}
	if got := WithinDeviation(orders, SpotPrice{}, 5); len(got) != len(orders) {
		t.Fatalf("unresolved spot must keep every order, got %d", len(got))
	}
}
