package energy

import (
	"time"
)

// Aggregator computes usage windows from a set of samples. Calendar windows (today, yesterday) are evaluated in Location.
// The reference time is always passed in by the caller.
type Aggregator struct {
	Scale    Scale
	Location *time.Location
}

// Windows holds the derived usage windows for one scope.
type Windows struct {
	Today      Amount `json:"today"`
	Yesterday  Amount `json:"yesterday"`
	LastHour   Amount `json:"last_hour"`
	Rolling24h Amount `json:"rolling_24h"`
}

// Windows computes all windows for the samples at time now.
func (a Aggregator) Windows(samples []Sample, now time.Time) Windows {
	return Windows{
		Today:      a.Today(samples, now),
		Yesterday:  a.Yesterday(samples, now),
		LastHour:   a.Last(samples),
		Rolling24h: a.Rolling(samples, now, 24),
	}
}

// Today returns the usage of all samples on the same local calendar date as now.
func (a Aggregator) Today(samples []Sample, now time.Time) Amount {
	return a.day(samples, now, 0)
}

// Yesterday returns the usage of all samples on the local calendar date before now's.
func (a Aggregator) Yesterday(samples []Sample, now time.Time) Amount {
	return a.day(samples, now, -1)
}

func (a Aggregator) day(samples []Sample, now time.Time, offset int) Amount {
	loc := a.location()
	y, m, d := now.In(loc).Date()
	// time.Date normalizes day 0, so this works across month & year boundaries
	y, m, d = time.Date(y, m, d+offset, 12, 0, 0, 0, loc).Date()

	return a.sum(samples, func(ts time.Time) bool {
		sy, sm, sd := ts.In(loc).Date()
		return sy == y && sm == m && sd == d
	})
}

// Rolling returns the usage of all samples in the interval [now-hours, now].
func (a Aggregator) Rolling(samples []Sample, now time.Time, hours int) Amount {
	start := now.Add(-time.Duration(hours) * time.Hour)
	return a.sum(samples, func(ts time.Time) bool {
		return !ts.Before(start) && !ts.After(now)
	})
}

// Last returns the usage of the most recent sample.
func (a Aggregator) Last(samples []Sample) Amount {
	var last Sample
	var found bool
	for _, sample := range samples {
		if !found || sample.Timestamp.After(last.Timestamp) {
			last = sample
			found = true
		}
	}
	if !found {
		return Amount{}
	}
	return Present(a.Scale.KWh(last.Value))
}

func (a Aggregator) sum(samples []Sample, include func(time.Time) bool) Amount {
	var result Amount
	for _, sample := range samples {
		if include(sample.Timestamp) {
			result.KWh += a.Scale.KWh(sample.Value)
			result.Present = true
		}
	}
	return result
}

func (a Aggregator) location() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}
