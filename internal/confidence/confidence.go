// Package confidence blends line-item extraction confidence with
// partner resolution into one score in [0,100].
package confidence

import "math"

const (
	itemWeight   = 0.6
	soldToWeight = 0.2
	shipToWeight = 0.2
)

// Score returns the document confidence. items are per-line extraction
// confidences in [0,1]; NaN entries are ignored and a document without
// lines has an item average of 0.
//
// With both sold_to and ship_to resolved the items carry 60% and each
// partner 20%. Otherwise the item average and the two partner
// indicators are averaged equally.
func Score(items []float64, soldTo, shipTo bool) float64 {
	avg := ItemAverage(items)
	var s float64
	if soldTo && shipTo {
		s = 100 * (itemWeight*avg + soldToWeight + shipToWeight)
	} else {
		s = 100 * (avg + indicator(soldTo) + indicator(shipTo)) / 3
	}
	return clamp(math.Round(s*10) / 10)
}

// ItemAverage is the mean of the finite values in items, each clamped
// to [0,1].
func ItemAverage(items []float64) float64 {
	var sum float64
	n := 0
	for _, c := range items {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			continue
		}
		sum += math.Max(0, math.Min(1, c))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
