package aggregator

import (
	"math"
	"sort"
	"time"
)

// confidence computes floor(100 * coverage * freshness * agreement).
func confidence(items []weighted, activeCount int, threshold float64, maxStaleness time.Duration, now time.Time) (int, Factors) {
	f := Factors{
		Coverage:  coverage(len(items), activeCount),
		Freshness: freshness(items, maxStaleness, now),
		Agreement: agreement(items, threshold),
	}

	score := int(math.Floor(100 * f.Coverage * f.Freshness * f.Agreement))
	if score > 100 {
		score = 100
	}
	// Zero is reserved for NoData.
	if score < 1 {
		score = 1
	}
	return score, f
}

// coverage is survivors over configured active sources, capped at 1.
func coverage(survivors, activeCount int) float64 {
	if activeCount <= 0 {
		return 1
	}
	return clamp01(float64(survivors) / float64(activeCount))
}

// freshness falls linearly from 1 for a brand new oldest observation to 0 at maxStaleness.
func freshness(items []weighted, maxStaleness time.Duration, now time.Time) float64 {
	if maxStaleness <= 0 || len(items) == 0 {
		return 1
	}
	oldest := items[0].obs.ObservedAt
	for _, it := range items[1:] {
		if it.obs.ObservedAt.Before(oldest) {
			oldest = it.obs.ObservedAt
		}
	}
	age := now.Sub(oldest)
	if age < 0 {
		age = 0
	}
	return clamp01(1 - float64(age)/float64(maxStaleness))
}

// agreement is 1 - min(1, cv/threshold) where cv is the weighted coefficient of variation.
func agreement(items []weighted, threshold float64) float64 {
	if len(items) <= 1 || allEqual(items) {
		return 1
	}

	// Fixed summation order keeps the float result independent of input order.
	items = append([]weighted(nil), items...)
	sort.Slice(items, func(i, j int) bool {
		return items[i].obs.SourceID < items[j].obs.SourceID
	})

	total := 0.0
	for _, it := range items {
		total += it.weight
	}
	if total == 0 {
		return 1
	}

	mean := 0.0
	for _, it := range items {
		mean += it.weight / total * it.obs.Value.InexactFloat64()
	}
	if mean <= 0 {
		return 0
	}

	variance := 0.0
	for _, it := range items {
		d := it.obs.Value.InexactFloat64() - mean
		variance += it.weight / total * d * d
	}
	if variance == 0 {
		return 1
	}
	if threshold <= 0 {
		return 0
	}

	cv := math.Sqrt(variance) / mean
	return clamp01(1 - math.Min(1, cv/threshold))
}

func allEqual(items []weighted) bool {
	for _, it := range items[1:] {
		if !it.obs.Value.Equal(items[0].obs.Value) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
