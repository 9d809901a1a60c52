package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
)

func order(id string, side adapter.Side, price, amount string) Order {
	return Order{
		ID:        id,
		Side:      side,
		Price:     decimal.RequireFromString(price),
		Amount:    decimal.RequireFromString(amount),
		MinAmount: decimal.Zero,
		MaxAmount: decimal.NewFromInt(1_000_000),
	}
}

func sumAmounts(orders []Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Amount)
	}
	return total
}

func sumVolumes(vs []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, vs...)
}

func TestBucketize_CumulativeShape(t *testing.T) {
	buy := []Order{
		order("b1", adapter.Buy, "1.00", "10"),
		order("b2", adapter.Buy, "1.05", "20"),
		order("b3", adapter.Buy, "1.10", "5"),
	}
	sell := []Order{
		order("s1", adapter.Sell, "0.90", "7"),
		order("s2", adapter.Sell, "1.10", "3"),
	}

	chart, err := Bucketize(buy, sell, 4)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}

	// Range 0.90..1.10, width 0.05.
	wantBuckets := []string{"0.9000", "0.9500", "1.0000", "1.0500"}
	for i, want := range wantBuckets {
		if chart.Buckets[i] != want {
			t.Fatalf("bucket %d: want %s, got %s", i, want, chart.Buckets[i])
		}
	}

	wantBuy := []float64{0, 0, 10, 35}
	wantSell := []float64{10, 3, 3, 3}
	for i := range wantBuy {
		if chart.BuyCumulative[i] != wantBuy[i] {
			t.Errorf("buy cumulative %d: want %v, got %v", i, wantBuy[i], chart.BuyCumulative[i])
		}
		if chart.SellCumulative[i] != wantSell[i] {
			t.Errorf("sell cumulative %d: want %v, got %v", i, wantSell[i], chart.SellCumulative[i])
		}
	}
}

func TestBucketize_ConservesVolume(t *testing.T) {
	buy := []Order{
		order("b1", adapter.Buy, "101.37", "0.5"),
		order("b2", adapter.Buy, "99.01", "1.25"),
		order("b3", adapter.Buy, "100.5", "3.333"),
		order("b4", adapter.Buy, "102.99", "0.001"),
	}
	sell := []Order{
		order("s1", adapter.Sell, "98.40", "2"),
		order("s2", adapter.Sell, "103.10", "4.75"),
	}

	for _, n := range []int{1, 3, 7, 12} {
		chart, err := Bucketize(buy, sell, n)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if !sumVolumes(chart.BuyVolume).Equal(sumAmounts(buy)) {
			t.Errorf("n=%d: buy volume %s != %s", n, sumVolumes(chart.BuyVolume), sumAmounts(buy))
		}
		if !sumVolumes(chart.SellVolume).Equal(sumAmounts(sell)) {
			t.Errorf("n=%d: sell volume %s != %s", n, sumVolumes(chart.SellVolume), sumAmounts(sell))
		}
		if got := chart.BuyCumulative[n-1]; got != sumAmounts(buy).InexactFloat64() {
			t.Errorf("n=%d: last buy cumulative %v", n, got)
		}
		if got := chart.SellCumulative[0]; got != sumAmounts(sell).InexactFloat64() {
			t.Errorf("n=%d: first sell cumulative %v", n, got)
		}
	}
}

func TestBucketize_SinglePrice(t *testing.T) {
	buy := []Order{order("b1", adapter.Buy, "1.00", "10"), order("b2", adapter.Buy, "1.00", "5")}

	chart, err := Bucketize(buy, nil, 10)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if len(chart.Buckets) != 10 {
		t.Fatalf("expected 10 buckets, got %d", len(chart.Buckets))
	}
	if chart.BuyCumulative[9] != 15 {
		t.Fatalf("expected all volume accounted, got %v", chart.BuyCumulative)
	}
}

func TestBucketize_EmptyAndInvalid(t *testing.T) {
	chart, err := Bucketize(nil, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(chart.Buckets) != 0 {
		t.Fatalf("expected empty chart, got %d buckets", len(chart.Buckets))
	}

	if _, err := Bucketize(nil, nil, 0); !errors.Is(err, ErrInvalidBucketCount) {
		t.Fatalf("expected ErrInvalidBucketCount, got %v", err)
	}
}
