// Package sink forwards the per-scope energy accounting of each poll cycle to external systems.
package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/internal/poller"
)

// Record is the energy accounting of one scope at the end of a cycle.
type Record struct {
	CycleID       string        `json:"cycle_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Scope         string        `json:"scope"`
	TotalKWh      float64       `json:"total_kwh"`
	HighWaterMark time.Time     `json:"high_water_mark"`
	Today         energy.Amount `json:"today_kwh"`
	Yesterday     energy.Amount `json:"yesterday_kwh"`
	LastHour      energy.Amount `json:"last_hour_kwh"`
	Rolling24h    energy.Amount `json:"rolling_24h_kwh"`
	// Stale is set if the scope's usage could not be fetched in this cycle.
	Stale bool `json:"stale"`
}

// Records returns one Record per scope in the snapshot, in scope order. Scopes without usage are skipped.
func Records(snapshot *poller.Snapshot) []Record {
	scopes := snapshot.Scopes()
	records := make([]Record, 0, len(scopes))
	for _, scope := range scopes {
		usage, ok := snapshot.Usage[scope]
		if !ok {
			continue
		}
		_, stale := snapshot.FetchErrors[scope]
		records = append(records, Record{
			CycleID:       snapshot.CycleID,
			Timestamp:     snapshot.Timestamp,
			Scope:         string(scope),
			TotalKWh:      usage.Energy.Total,
			HighWaterMark: usage.Energy.HighWaterMark,
			Today:         usage.Windows.Today,
			Yesterday:     usage.Windows.Yesterday,
			LastHour:      usage.Windows.LastHour,
			Rolling24h:    usage.Windows.Rolling24h,
			Stale:         stale,
		})
	}
	return records
}

type Writer interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

// Sink writes the records of each successful cycle to a Writer. Failed cycles are skipped.
type Sink struct {
	Poller poller.Poller
	Writer Writer
	Logger *slog.Logger
}

func (s *Sink) Run(ctx context.Context) error {
	s.Logger.Debug("started")
	defer s.Logger.Debug("stopped")
	defer func() {
		if err := s.Writer.Close(); err != nil {
			s.Logger.Warn("failed to close writer", slog.Any("err", err))
		}
	}()

	ch := s.Poller.Subscribe()
	defer s.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			if update.Err != nil || update.Snapshot == nil {
				continue
			}
			records := Records(update.Snapshot)
			if len(records) == 0 {
				continue
			}
			if err := s.Writer.Write(ctx, records); err != nil {
				s.Logger.Warn("failed to write records", slog.String("cycle", update.Snapshot.CycleID), slog.Any("err", err))
				continue
			}
			s.Logger.Debug("records written", slog.String("cycle", update.Snapshot.CycleID), slog.Int("records", len(records)))
		}
	}
}
