package energy

import (
	"slices"
	"time"
)

// DefaultRetention keeps enough history to compute yesterday's usage in any timezone, with room to spare.
const DefaultRetention = 8 * 24 * time.Hour

// History merges the samples of consecutive cycles into one sample set per scope.
type History struct {
	Retention time.Duration
}

// Merge combines existing and incoming samples. If both hold a sample with the same timestamp, the incoming one wins.
// Samples older than now - Retention are dropped. The result is sorted by timestamp.
func (h History) Merge(existing, incoming []Sample, now time.Time) []Sample {
	retention := h.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	merged := make(map[time.Time]float64, len(existing)+len(incoming))
	for _, samples := range [][]Sample{existing, incoming} {
		for _, sample := range samples {
			if sample.Timestamp.Before(cutoff) {
				continue
			}
			merged[sample.Timestamp.UTC()] = sample.Value
		}
	}

	result := make([]Sample, 0, len(merged))
	for ts, value := range merged {
		result = append(result, Sample{Timestamp: ts, Value: value})
	}
	slices.SortFunc(result, func(a, b Sample) int { return a.Timestamp.Compare(b.Timestamp) })
	return result
}
