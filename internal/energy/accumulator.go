package energy

import (
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"
)

// Accumulator adds usage samples to a State.
type Accumulator struct {
	Scale  Scale
	Logger *slog.Logger
}

// Absorb adds all samples more recent than state's high-water mark to state's total.
//
// Samples at or before the high-water mark have already been counted and are ignored. If no samples remain,
// state is returned unchanged. Negative (or non-finite) values are not added to the total, but they do move
// the high-water mark. If samples holds more than one value for the same timestamp, only the last one counts,
// as in History.Merge. Absorb is idempotent: absorbing the same samples twice has the same result as absorbing them once.
func (a Accumulator) Absorb(samples []Sample, state State) State {
	var increment float64
	var absorbed, discarded int
	next := state

	fresh := make(map[time.Time]float64, len(samples))
	for _, sample := range samples {
		if sample.Timestamp.After(state.HighWaterMark) {
			fresh[sample.Timestamp.UTC()] = sample.Value
		}
	}

	for _, timestamp := range slices.SortedFunc(maps.Keys(fresh), time.Time.Compare) {
		next.HighWaterMark = timestamp
		value := a.Scale.KWh(fresh[timestamp])
		if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			discarded++
			a.logger().Warn("discarding invalid usage sample", "timestamp", timestamp, "value", fresh[timestamp])
			continue
		}
		increment += value
		absorbed++
	}

	if absorbed == 0 && discarded == 0 {
		return state
	}
	if total := state.Total + increment; total > state.Total {
		next.Total = total
	}
	a.logger().Debug("samples absorbed",
		"absorbed", absorbed,
		"discarded", discarded,
		"increment", increment,
		"state", next,
	)
	return next
}

func (a Accumulator) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.Logger
}
