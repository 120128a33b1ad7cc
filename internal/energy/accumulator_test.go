package energy

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.February, 2, 10, 0, 0, 0, time.UTC)

func TestAccumulator_Absorb(t *testing.T) {
	tests := []struct {
		name    string
		scale   Scale
		samples []Sample
		state   State
		want    State
	}{
		{
			name:    "boundary sample is excluded",
			scale:   ScaleRaw,
			samples: []Sample{{Timestamp: t0, Value: 5}, {Timestamp: t0.Add(time.Hour), Value: 2}},
			state:   State{Total: 10, HighWaterMark: t0},
			want:    State{Total: 12, HighWaterMark: t0.Add(time.Hour)},
		},
		{
			name:  "empty",
			scale: ScaleRaw,
			state: State{Total: 10, HighWaterMark: t0},
			want:  State{Total: 10, HighWaterMark: t0},
		},
		{
			name:    "only old samples",
			scale:   ScaleRaw,
			samples: []Sample{{Timestamp: t0.Add(-time.Hour), Value: 5}, {Timestamp: t0, Value: 5}},
			state:   State{Total: 10, HighWaterMark: t0},
			want:    State{Total: 10, HighWaterMark: t0},
		},
		{
			name:    "zero state absorbs all samples",
			scale:   ScaleDeciWh,
			samples: []Sample{{Timestamp: t0, Value: 1000}, {Timestamp: t0.Add(time.Hour), Value: 500}},
			want:    State{Total: 15, HighWaterMark: t0.Add(time.Hour)},
		},
		{
			name:    "wh",
			scale:   ScaleWh,
			samples: []Sample{{Timestamp: t0.Add(time.Hour), Value: 1500}},
			state:   State{Total: 1, HighWaterMark: t0},
			want:    State{Total: 2.5, HighWaterMark: t0.Add(time.Hour)},
		},
		{
			name:    "unordered",
			scale:   ScaleRaw,
			samples: []Sample{{Timestamp: t0.Add(2 * time.Hour), Value: 1}, {Timestamp: t0.Add(time.Hour), Value: 2}},
			state:   State{Total: 1, HighWaterMark: t0},
			want:    State{Total: 4, HighWaterMark: t0.Add(2 * time.Hour)},
		},
		{
			name:    "negative values are discarded",
			scale:   ScaleRaw,
			samples: []Sample{{Timestamp: t0.Add(time.Hour), Value: 2}, {Timestamp: t0.Add(2 * time.Hour), Value: -5}},
			state:   State{Total: 1, HighWaterMark: t0},
			want:    State{Total: 3, HighWaterMark: t0.Add(2 * time.Hour)},
		},
		{
			name:    "repeated timestamp is counted once",
			scale:   ScaleRaw,
			samples: []Sample{{Timestamp: t0, Value: 2}, {Timestamp: t0, Value: 2}},
			want:    State{Total: 2, HighWaterMark: t0},
		},
		{
			name:    "last value for a timestamp wins",
			scale:   ScaleRaw,
			samples: []Sample{{Timestamp: t0.Add(time.Hour), Value: 2}, {Timestamp: t0.Add(time.Hour).In(time.FixedZone("CET", 3600)), Value: 3}},
			state:   State{Total: 1, HighWaterMark: t0},
			want:    State{Total: 4, HighWaterMark: t0.Add(time.Hour)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := Accumulator{Scale: tt.scale}
			got := a.Absorb(tt.samples, tt.state)
			assert.InDelta(t, tt.want.Total, got.Total, 1e-9)
			assert.Equal(t, tt.want.HighWaterMark, got.HighWaterMark)

			// absorbing the same samples again doesn't change anything
			assert.Equal(t, got, a.Absorb(tt.samples, got))
		})
	}
}

func TestAccumulator_Absorb_Duplicates(t *testing.T) {
	a := Accumulator{Scale: ScaleRaw}
	var samples []Sample
	var want float64
	for i := range 24 {
		sample := Sample{Timestamp: t0.Add(time.Duration(i) * time.Hour), Value: float64(i)}
		samples = append(samples, sample, sample)
		want += sample.Value
	}

	got := a.Absorb(samples, State{})
	assert.Equal(t, want, got.Total)

	merged := History{Retention: 48 * time.Hour}.Merge(nil, samples, t0.Add(24*time.Hour))
	require.Len(t, merged, 24)
	var sum float64
	for _, sample := range merged {
		sum += sample.Value
	}
	assert.Equal(t, sum, got.Total)
}

func TestAccumulator_Absorb_Monotonic(t *testing.T) {
	a := Accumulator{Scale: ScaleDeciWh}
	r := rand.New(rand.NewPCG(1, 2))

	var samples []Sample
	for i := range 48 {
		samples = append(samples, Sample{Timestamp: t0.Add(time.Duration(i) * time.Hour), Value: float64(r.IntN(1000))})
	}

	var state State
	for range 200 {
		// random, overlapping, possibly duplicated and out-of-order batches
		start := r.IntN(len(samples))
		end := start + r.IntN(len(samples)-start) + 1
		batch := append([]Sample(nil), samples[start:end]...)
		batch = append(batch, batch[r.IntN(len(batch))])
		r.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })

		next := a.Absorb(batch, state)
		assert.GreaterOrEqual(t, next.Total, state.Total)
		assert.False(t, next.HighWaterMark.Before(state.HighWaterMark))
		state = next
	}
}
