// Package config turns the viper configuration into the settings of the monitor's components.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/spf13/viper"
)

const (
	minInterval         = 10 * time.Second
	maxInterval         = time.Hour
	recommendedInterval = 30 * time.Second
	minRetention        = 48 * time.Hour
)

var (
	ErrMissingAPIKey       = errors.New("radialight.apiKey not set")
	ErrMissingRefreshToken = errors.New("radialight.refreshToken not set")
)

// Credentials holds the secrets needed to access the Radialight API.
type Credentials struct {
	APIKey       string
	RefreshToken string
	URL          string
	TokenURL     string
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("apiKey", redacted(c.APIKey)),
		slog.String("refreshToken", redacted(c.RefreshToken)),
		slog.String("url", c.URL),
		slog.String("tokenURL", c.TokenURL),
	)
}

func redacted(s string) string {
	if s == "" {
		return ""
	}
	return radialight.RedactedPlaceholder
}

func GetCredentials(v *viper.Viper) (Credentials, error) {
	c := Credentials{
		APIKey:       v.GetString("radialight.apiKey"),
		RefreshToken: v.GetString("radialight.refreshToken"),
		URL:          v.GetString("radialight.url"),
		TokenURL:     v.GetString("radialight.tokenURL"),
	}
	if c.APIKey == "" {
		return c, ErrMissingAPIKey
	}
	if c.RefreshToken == "" {
		return c, ErrMissingRefreshToken
	}
	if c.URL == "" {
		c.URL = radialight.DefaultURL
	}
	if c.TokenURL == "" {
		c.TokenURL = radialight.DefaultTokenURL
	}
	return c, nil
}

// GetPollerConfig returns the poller configuration. Out-of-range values are corrected and logged.
func GetPollerConfig(v *viper.Viper, logger *slog.Logger) (poller.Config, error) {
	cfg := poller.DefaultConfig()

	cfg.Interval = v.GetDuration("poller.interval")
	switch {
	case cfg.Interval < minInterval:
		logger.Warn("poller interval too short. using minimum", slog.Duration("interval", cfg.Interval), slog.Duration("minimum", minInterval))
		cfg.Interval = minInterval
	case cfg.Interval > maxInterval:
		logger.Warn("poller interval too long. using maximum", slog.Duration("interval", cfg.Interval), slog.Duration("maximum", maxInterval))
		cfg.Interval = maxInterval
	}
	if cfg.Interval < recommendedInterval {
		logger.Warn("poller interval below recommended value. this may trigger rate limiting", slog.Duration("interval", cfg.Interval), slog.Duration("recommended", recommendedInterval))
	}
	cfg.Jitter = max(0, v.GetDuration("poller.jitter"))
	if attempts := v.GetInt("poller.listingAttempts"); attempts > 0 {
		cfg.ListingAttempts = uint(attempts)
	}
	if fetches := v.GetInt("poller.maxConcurrentFetches"); fetches > 0 {
		cfg.MaxConcurrentFetches = fetches
	}

	var err error
	cfg.Usage, err = getUsageConfig(v, logger)
	return cfg, err
}

func getUsageConfig(v *viper.Viper, logger *slog.Logger) (poller.UsageConfig, error) {
	cfg := poller.UsageConfig{
		Enabled:   v.GetBool("usage.enabled"),
		Account:   v.GetBool("usage.account"),
		Products:  v.GetBool("usage.products"),
		Period:    v.GetString("usage.period"),
		Retention: v.GetDuration("usage.retention"),
	}

	switch cfg.Period {
	case "":
		cfg.Period = radialight.PeriodDay
	case radialight.PeriodDay, radialight.PeriodWeek, radialight.PeriodMonth:
	default:
		return cfg, fmt.Errorf("usage.period: invalid period %q", cfg.Period)
	}

	var err error
	if cfg.Scale, err = energy.ParseScale(v.GetString("usage.scale")); err != nil {
		return cfg, fmt.Errorf("usage.scale: %w", err)
	}

	timezone := v.GetString("usage.timezone")
	if timezone == "" {
		timezone = "UTC"
	}
	if cfg.Location, err = time.LoadLocation(timezone); err != nil {
		return cfg, fmt.Errorf("usage.timezone: %w", err)
	}

	if cfg.Retention < minRetention {
		logger.Warn("usage retention too short to compute yesterday's usage. using minimum", slog.Duration("retention", cfg.Retention), slog.Duration("minimum", minRetention))
		cfg.Retention = minRetention
	}

	if scopes := splitList(v.GetString("usage.scopes")); len(scopes) > 0 {
		cfg.Scopes = set.New(scopes...)
	}
	return cfg, nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var entries []string
	for _, entry := range strings.Split(s, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// GetKafkaConfig returns the Kafka sink configuration. If no brokers are configured, the sink is disabled.
func GetKafkaConfig(v *viper.Viper) (KafkaConfig, bool) {
	cfg := KafkaConfig{
		Brokers: splitList(v.GetString("sinks.kafka.brokers")),
		Topic:   v.GetString("sinks.kafka.topic"),
	}
	return cfg, len(cfg.Brokers) > 0 && cfg.Topic != ""
}

type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// GetInfluxDBConfig returns the InfluxDB sink configuration. If no URL is configured, the sink is disabled.
func GetInfluxDBConfig(v *viper.Viper) (InfluxDBConfig, bool) {
	cfg := InfluxDBConfig{
		URL:    v.GetString("sinks.influxdb.url"),
		Token:  v.GetString("sinks.influxdb.token"),
		Org:    v.GetString("sinks.influxdb.org"),
		Bucket: v.GetString("sinks.influxdb.bucket"),
	}
	return cfg, cfg.URL != "" && cfg.Bucket != ""
}

// NewClient returns a Radialight client for the credentials. Token exchanges and API calls share httpClient.
func NewClient(c Credentials, httpClient *http.Client, logger *slog.Logger) (*radialight.Client, *radialight.TokenManager) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	tokens := radialight.NewTokenManager(c.APIKey, c.RefreshToken, logger.With("component", "tokens"))
	tokens.TokenURL = c.TokenURL
	tokens.HTTPClient = httpClient
	client := radialight.NewClient(tokens, httpClient, logger.With("component", "radialight"))
	client.URL = c.URL
	return client, tokens
}
