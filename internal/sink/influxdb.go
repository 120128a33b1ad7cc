package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/clambin/radialight-monitor/internal/energy"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	influxMeasurement = "radialight_energy"
	influxTimeout     = 5 * time.Second
	influxAttempts    = 3
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxDBWriter writes each record as a point in the radialight_energy measurement, tagged by scope.
type InfluxDBWriter struct {
	writer     pointWriter
	close      func()
	retryDelay time.Duration
}

var _ Writer = &InfluxDBWriter{}

func NewInfluxDBWriter(url, token, org, bucket string) *InfluxDBWriter {
	client := influxdb2.NewClient(url, token)
	return &InfluxDBWriter{
		writer:     client.WriteAPIBlocking(org, bucket),
		close:      client.Close,
		retryDelay: time.Second,
	}
}

func (i *InfluxDBWriter) Write(ctx context.Context, records []Record) error {
	points := make([]*write.Point, 0, len(records))
	for _, record := range records {
		points = append(points, makePoint(record))
	}
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(ctx, influxTimeout)
			defer cancel()
			return i.writer.WritePoint(ctx, points...)
		},
		retry.Context(ctx),
		retry.Attempts(influxAttempts),
		retry.Delay(i.retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("influxdb: %w", err)
	}
	return nil
}

func makePoint(record Record) *write.Point {
	fields := map[string]interface{}{
		"total_kwh": record.TotalKWh,
		"stale":     record.Stale,
	}
	for name, amount := range map[string]energy.Amount{
		"today_kwh":       record.Today,
		"yesterday_kwh":   record.Yesterday,
		"last_hour_kwh":   record.LastHour,
		"rolling_24h_kwh": record.Rolling24h,
	} {
		if amount.Present {
			fields[name] = amount.KWh
		}
	}
	return influxdb2.NewPoint(
		influxMeasurement,
		map[string]string{"scope": record.Scope},
		fields,
		record.Timestamp,
	)
}

func (i *InfluxDBWriter) Close() error {
	if i.close != nil {
		i.close()
	}
	return nil
}
