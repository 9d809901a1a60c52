package engine

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidBucketCount is returned when fewer than one bucket is requested.
var ErrInvalidBucketCount = errors.New("bucket count must be positive")

// MinBucketWidth keeps single-price books from producing a zero-width range.
var MinBucketWidth = decimal.New(1, -8)

// DepthChart is the cumulative volume curve of one pair. Buckets holds the
// lower price bound of each bucket. BuyVolume and SellVolume are the
// per-bucket (non-cumulative) amounts.
type DepthChart struct {
	Buckets        []string          `json:"buckets"`
	BuyCumulative  []float64         `json:"buyCumulative"`
	SellCumulative []float64         `json:"sellCumulative"`
	BuyVolume      []decimal.Decimal `json:"-"`
	SellVolume     []decimal.Decimal `json:"-"`
}

// Bucketize splits [min, max] of all prices into n equal-width buckets.
// Buy volume accumulates from the lowest bucket upward and sell volume from
// the highest bucket downward. With no orders the chart is empty.
func Bucketize(buy, sell []Order, n int) (DepthChart, error) {
	if n < 1 {
		return DepthChart{}, ErrInvalidBucketCount
	}

	lo, hi, ok := priceRange(buy, sell)
	if !ok {
		return DepthChart{Buckets: []string{}, BuyCumulative: []float64{}, SellCumulative: []float64{}}, nil
	}

	width := hi.Sub(lo).Div(decimal.NewFromInt(int64(n)))
	if width.LessThan(MinBucketWidth) {
		width = MinBucketWidth
	}

	chart := DepthChart{
		Buckets:        make([]string, n),
		BuyCumulative:  make([]float64, n),
		SellCumulative: make([]float64, n),
		BuyVolume:      make([]decimal.Decimal, n),
		SellVolume:     make([]decimal.Decimal, n),
	}
	for i := 0; i < n; i++ {
		chart.Buckets[i] = lo.Add(width.Mul(decimal.NewFromInt(int64(i)))).StringFixed(4)
		chart.BuyVolume[i] = decimal.Zero
		chart.SellVolume[i] = decimal.Zero
	}

	for _, o := range buy {
		i := bucketIndex(o.Price, lo, width, n)
		chart.BuyVolume[i] = chart.BuyVolume[i].Add(o.Amount)
	}
	for _, o := range sell {
		i := bucketIndex(o.Price, lo, width, n)
		chart.SellVolume[i] = chart.SellVolume[i].Add(o.Amount)
	}

	running := decimal.Zero
	for i := 0; i < n; i++ {
		running = running.Add(chart.BuyVolume[i])
		chart.BuyCumulative[i] = running.InexactFloat64()
	}
	running = decimal.Zero
	for i := n - 1; i >= 0; i-- {
		running = running.Add(chart.SellVolume[i])
		chart.SellCumulative[i] = running.InexactFloat64()
	}

	return chart, nil
}

func priceRange(buy, sell []Order) (decimal.Decimal, decimal.Decimal, bool) {
	var lo, hi decimal.Decimal
	seen := false
	for _, side := range [][]Order{buy, sell} {
		for _, o := range side {
			if !seen {
				lo, hi, seen = o.Price, o.Price, true
				continue
			}
			if o.Price.LessThan(lo) {
				lo = o.Price
			}
			if o.Price.GreaterThan(hi) {
				hi = o.Price
			}
		}
	}
	return lo, hi, seen
}

// bucketIndex places price in [0, n). The top edge belongs to the last
// bucket.
func bucketIndex(price, lo, width decimal.Decimal, n int) int {
	i := int(price.Sub(lo).Div(width).Floor().IntPart())
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
