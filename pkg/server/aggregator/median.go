package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

var two = decimal.NewFromInt(2)

// weighted is an observation with its effective weight and relative deviation
// from the weighted median.
type weighted struct {
	obs       sources.Observation
	index     int
	weight    float64
	deviation float64
}

// effectiveWeights returns the source weights, or equal weights when they sum to zero.
func effectiveWeights(obs []sources.Observation) []float64 {
	weights := make([]float64, len(obs))
	total := 0.0
	for i, o := range obs {
		w := o.SourceWeight
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
	}
	return weights
}

// weightedMedian finds the value where cumulative weight reaches 50% of the
// total. When the cumulative weight lands exactly on 50% the value is averaged
// with the next one. Ties in value are ordered by source id so the result does
// not depend on input order.
func weightedMedian(items []weighted) decimal.Decimal {
	n := len(items)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return items[0].obs.Value
	}

	sorted := make([]weighted, n)
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].obs.Value.Cmp(sorted[j].obs.Value); c != 0 {
			return c < 0
		}
		return sorted[i].obs.SourceID < sorted[j].obs.SourceID
	})

	totalWeight := 0.0
	for _, it := range sorted {
		totalWeight += it.weight
	}

	targetWeight := totalWeight / 2.0
	cumulativeWeight := 0.0

	for i, it := range sorted {
		cumulativeWeight += it.weight
		if cumulativeWeight >= targetWeight {
			if cumulativeWeight == targetWeight && i+1 < n {
				return it.obs.Value.Add(sorted[i+1].obs.Value).Div(two)
			}
			return it.obs.Value
		}
	}

	return sorted[n/2].obs.Value
}

// rejectOutliers splits items into survivors and rejected relative to the
// weighted median. When more than half would be rejected the threshold is
// widened once by widen. If that still rejects a majority, at most the
// floor(n/2) most deviant items are rejected; items whose deviation ties at
// the cut are all kept, so the outcome never depends on source ids.
// Survivors keep input order.
func rejectOutliers(items []weighted, threshold, widen float64) (survivors []weighted, rejected int, used float64) {
	n := len(items)
	if n <= 1 {
		return items, 0, threshold
	}

	median := weightedMedian(items)
	for i := range items {
		// Values are positive, so the median is too.
		items[i].deviation = items[i].obs.Value.Sub(median).Abs().Div(median).InexactFloat64()
	}

	used = threshold
	count := countAbove(items, used)
	if count*2 > n {
		used = threshold * widen
		count = countAbove(items, used)
	}

	drop := make(map[int]bool, count)
	if count*2 > n {
		candidates := make([]weighted, 0, count)
		for _, it := range items {
			if it.deviation > used {
				candidates = append(candidates, it)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].deviation > candidates[j].deviation
		})
		k := n / 2
		for k > 0 && candidates[k-1].deviation == candidates[k].deviation {
			k--
		}
		for _, c := range candidates[:k] {
			drop[c.index] = true
		}
	} else {
		for _, it := range items {
			if it.deviation > used {
				drop[it.index] = true
			}
		}
	}

	survivors = make([]weighted, 0, n-len(drop))
	for _, it := range items {
		if !drop[it.index] {
			survivors = append(survivors, it)
		}
	}
	return survivors, len(drop), used
}

func countAbove(items []weighted, threshold float64) int {
	count := 0
	for _, it := range items {
		if it.deviation > threshold {
			count++
		}
	}
	return count
}

// weightedMean returns sum(w_i * v_i) / sum(w_i).
func weightedMean(items []weighted) decimal.Decimal {
	sum := decimal.Zero
	total := decimal.Zero
	for _, it := range items {
		w := decimal.NewFromFloat(it.weight)
		sum = sum.Add(it.obs.Value.Mul(w))
		total = total.Add(w)
	}
	if total.IsZero() {
		for _, it := range items {
			sum = sum.Add(it.obs.Value)
		}
		return sum.Div(decimal.NewFromInt(int64(len(items))))
	}
	return sum.Div(total)
}
