package signal

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// median averages the two middle values for even-length input.
func median(prices []int64) float64 {
	if len(prices) == 0 {
		return 0
	}
	sorted := make([]int64, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return (float64(sorted[mid-1]) + float64(sorted[mid])) / 2
}

// gaps returns the consecutive differences of prices.
func gaps(prices []int64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out = append(out, float64(prices[i]-prices[i-1]))
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func trailingZeros(v int64) int {
	if v <= 0 {
		return 0
	}
	n := 0
	for v%10 == 0 {
		v /= 10
		n++
	}
	return n
}
