package collector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	energyTotal = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "energy", "total_kwh"),
		"Total energy consumed in kWh",
		[]string{"scope"},
		nil,
	)
	energyToday = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "energy", "today_kwh"),
		"Energy consumed today in kWh",
		[]string{"scope"},
		nil,
	)
	energyYesterday = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "energy", "yesterday_kwh"),
		"Energy consumed yesterday in kWh",
		[]string{"scope"},
		nil,
	)
	energyLastHour = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "energy", "last_hour_kwh"),
		"Energy consumed in the most recent usage sample in kWh",
		[]string{"scope"},
		nil,
	)
	energyRolling24h = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "energy", "rolling_24h_kwh"),
		"Energy consumed in the last 24 hours in kWh",
		[]string{"scope"},
		nil,
	)
	zoneTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "temperature_celsius"),
		"Average temperature of the online products in this zone in degrees celsius",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	zoneTemperatureMin = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "temperature_min_celsius"),
		"Lowest temperature of the online products in this zone in degrees celsius",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	zoneTemperatureMax = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "temperature_max_celsius"),
		"Highest temperature of the online products in this zone in degrees celsius",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	zoneComfortTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "comfort_temp_celsius"),
		"Comfort target temperature of this zone in degrees celsius",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	zoneECOTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "eco_temp_celsius"),
		"ECO target temperature of this zone in degrees celsius",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	zoneWarming = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "warming"),
		"1 if any product in this zone is warming",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	zoneOverride = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "zone", "override"),
		"1 if this zone is in override mode",
		[]string{"zone_id", "zone_name"},
		nil,
	)
	productOnline = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "product", "online"),
		"1 if the product is online",
		[]string{"zone_id", "zone_name", "id", "name"},
		nil,
	)
	productTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "product", "temperature_celsius"),
		"Temperature detected by the product in degrees celsius",
		[]string{"zone_id", "zone_name", "id", "name"},
		nil,
	)
	usageFetchError = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "usage", "fetch_error"),
		"1 if the usage of this scope could not be fetched in the last cycle",
		[]string{"scope"},
		nil,
	)
	usageDroppedSamples = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "usage", "dropped_samples"),
		"Number of malformed usage samples in the last cycle",
		[]string{"scope"},
		nil,
	)
	pollSuccess = prometheus.NewDesc(
		prometheus.BuildFQName("radialight", "poll", "success"),
		"1 if the last poll cycle succeeded",
		nil,
		nil,
	)
)

// Collector exports the last published Snapshot as Prometheus metrics.
type Collector struct {
	Poller     poller.Poller
	Logger     *slog.Logger
	lock       sync.RWMutex
	lastUpdate *poller.Update
}

var _ prometheus.Collector = &Collector{}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Poller.Subscribe()
	defer c.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.process(update)
		}
	}
}

func (c *Collector) process(update poller.Update) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lastUpdate = &update
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- energyTotal
	ch <- energyToday
	ch <- energyYesterday
	ch <- energyLastHour
	ch <- energyRolling24h
	ch <- zoneTemperature
	ch <- zoneTemperatureMin
	ch <- zoneTemperatureMax
	ch <- zoneComfortTemperature
	ch <- zoneECOTemperature
	ch <- zoneWarming
	ch <- zoneOverride
	ch <- productOnline
	ch <- productTemperature
	ch <- usageFetchError
	ch <- usageDroppedSamples
	ch <- pollSuccess
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.lastUpdate == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(pollSuccess, prometheus.GaugeValue, boolValue(c.lastUpdate.Err == nil))

	if snapshot := c.lastUpdate.Snapshot; snapshot != nil {
		c.collectEnergy(ch, snapshot)
		c.collectZones(ch, snapshot)
	}
}

func (c *Collector) collectEnergy(ch chan<- prometheus.Metric, snapshot *poller.Snapshot) {
	for _, scope := range snapshot.Scopes() {
		if _, failed := snapshot.FetchErrors[scope]; failed {
			ch <- prometheus.MustNewConstMetric(usageFetchError, prometheus.GaugeValue, 1, string(scope))
		} else {
			ch <- prometheus.MustNewConstMetric(usageFetchError, prometheus.GaugeValue, 0, string(scope))
		}
		usage, ok := snapshot.Usage[scope]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(energyTotal, prometheus.CounterValue, usage.Energy.Total, string(scope))
		ch <- prometheus.MustNewConstMetric(usageDroppedSamples, prometheus.GaugeValue, float64(usage.Dropped), string(scope))
		collectAmount(ch, energyToday, usage.Windows.Today, scope)
		collectAmount(ch, energyYesterday, usage.Windows.Yesterday, scope)
		collectAmount(ch, energyLastHour, usage.Windows.LastHour, scope)
		collectAmount(ch, energyRolling24h, usage.Windows.Rolling24h, scope)
	}
}

// collectAmount only reports amounts that are present: an absent window is not the same as zero usage.
func collectAmount(ch chan<- prometheus.Metric, desc *prometheus.Desc, amount energy.Amount, scope poller.Scope) {
	if amount.Present {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, amount.KWh, string(scope))
	}
}

func (c *Collector) collectZones(ch chan<- prometheus.Metric, snapshot *poller.Snapshot) {
	for _, zone := range snapshot.Zones {
		if temperature, ok := zone.Temperature(); ok {
			ch <- prometheus.MustNewConstMetric(zoneTemperature, prometheus.GaugeValue, temperature, zone.ID, zone.Name)
		}
		if low, high, ok := zone.TemperatureRange(); ok {
			ch <- prometheus.MustNewConstMetric(zoneTemperatureMin, prometheus.GaugeValue, low, zone.ID, zone.Name)
			ch <- prometheus.MustNewConstMetric(zoneTemperatureMax, prometheus.GaugeValue, high, zone.ID, zone.Name)
		}
		if zone.ComfortTemperature != nil {
			ch <- prometheus.MustNewConstMetric(zoneComfortTemperature, prometheus.GaugeValue, zone.ComfortTemperature.Celsius(), zone.ID, zone.Name)
		}
		if zone.ECOTemperature != nil {
			ch <- prometheus.MustNewConstMetric(zoneECOTemperature, prometheus.GaugeValue, zone.ECOTemperature.Celsius(), zone.ID, zone.Name)
		}
		ch <- prometheus.MustNewConstMetric(zoneWarming, prometheus.GaugeValue, boolValue(zone.Warming()), zone.ID, zone.Name)
		ch <- prometheus.MustNewConstMetric(zoneOverride, prometheus.GaugeValue, boolValue(zone.InOverride()), zone.ID, zone.Name)
		c.collectProducts(ch, zone)
	}
}

func (c *Collector) collectProducts(ch chan<- prometheus.Metric, zone radialight.Zone) {
	for _, product := range zone.Products {
		if product.ID == "" {
			c.Logger.Warn("product without id. skipping", slog.String("zone", zone.Name))
			continue
		}
		ch <- prometheus.MustNewConstMetric(productOnline, prometheus.GaugeValue, boolValue(product.Online()), zone.ID, zone.Name, product.ID, product.Name)
		if product.DetectedTemperature != nil {
			ch <- prometheus.MustNewConstMetric(productTemperature, prometheus.GaugeValue, product.DetectedTemperature.Celsius(), zone.ID, zone.Name, product.ID, product.Name)
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
