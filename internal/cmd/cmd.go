package cmd

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/radialight-monitor/internal/cmd/monitor"
	"github.com/clambin/radialight-monitor/internal/cmd/zones"
	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "radialight-monitor",
		Short: "Monitor Radialight heaters and their energy usage",
		PersistentPreRun: func(*cobra.Command, []string) {
			var opts slog.HandlerOptions
			if viper.GetBool("debug") {
				opts.Level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &opts)))
		},
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	if err := charmer.SetPersistentFlags(&RootCmd, viper.GetViper(), args); err != nil {
		panic("failed to set flags: " + err.Error())
	}

	RootCmd.AddCommand(&monitor.Cmd, &zones.Cmd)
}

var args = charmer.Arguments{
	"debug":                       {Default: false, Help: "Log debug messages"},
	"radialight.apiKey":           {Default: "", Help: "Radialight API key"},
	"radialight.refreshToken":     {Default: "", Help: "Radialight refresh token"},
	"radialight.url":              {Default: "", Help: "Radialight API URL (default: production API)"},
	"radialight.tokenURL":         {Default: "", Help: "Token endpoint URL (default: production endpoint)"},
	"radialight.timeout":          {Default: 30 * time.Second, Help: "Timeout for Radialight API calls"},
	"poller.interval":             {Default: time.Minute, Help: "Poller interval"},
	"poller.jitter":               {Default: 10 * time.Second, Help: "Maximum random delay added to the poller interval"},
	"poller.listingAttempts":      {Default: 3, Help: "Attempts to get the zone listing in one cycle"},
	"poller.maxConcurrentFetches": {Default: 2, Help: "Maximum number of concurrent usage requests"},
	"usage.enabled":               {Default: true, Help: "Track energy usage"},
	"usage.account":               {Default: true, Help: "Track account-level energy usage"},
	"usage.products":              {Default: false, Help: "Track per-product energy usage"},
	"usage.scopes":                {Default: "", Help: "Comma-separated product IDs to track (default: all products)"},
	"usage.period":                {Default: "day", Help: "Usage period to request (day, week, month)"},
	"usage.scale":                 {Default: "deciwh", Help: "Unit of reported usage values (deciwh, wh, raw)"},
	"usage.timezone":              {Default: "UTC", Help: "Timezone used to determine today & yesterday"},
	"usage.retention":             {Default: energy.DefaultRetention, Help: "How long to keep usage samples in memory"},
	"store.type":                  {Default: "file", Help: "Energy state store (file, sqlite)"},
	"store.path":                  {Default: "radialight-state.json", Help: "Path of the energy state store"},
	"exporter.addr":               {Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":                 {Default: ":8080", Help: "Address of /health endpoint"},
	"slack.token":                 {Default: "", Help: "Slack token"},
	"slack.channel":               {Default: "", Help: "Slack channel for notifications"},
	"sinks.kafka.brokers":         {Default: "", Help: "Comma-separated Kafka brokers"},
	"sinks.kafka.topic":           {Default: "radialight-energy", Help: "Kafka topic"},
	"sinks.influxdb.url":          {Default: "", Help: "InfluxDB URL"},
	"sinks.influxdb.token":        {Default: "", Help: "InfluxDB token"},
	"sinks.influxdb.org":          {Default: "", Help: "InfluxDB organization"},
	"sinks.influxdb.bucket":       {Default: "radialight", Help: "InfluxDB bucket"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/radialight-monitor/")
		viper.AddConfigPath("$HOME/.radialight-monitor")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("RADIALIGHT_MONITOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFilename != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", "err", err)
			os.Exit(1)
		}
	}
}
