package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/radialight-monitor/internal/bot"
	"github.com/clambin/radialight-monitor/internal/cmd/config"
	"github.com/clambin/radialight-monitor/internal/collector"
	"github.com/clambin/radialight-monitor/internal/energy/store"
	"github.com/clambin/radialight-monitor/internal/health"
	"github.com/clambin/radialight-monitor/internal/notifier"
	"github.com/clambin/radialight-monitor/internal/poller"
	"github.com/clambin/radialight-monitor/internal/sink"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "Monitor Radialight heaters and their energy usage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return Run(cmd.Context(), viper.GetViper(), registry, cmd.Root().Version, slog.Default())
	},
}

// A Task is a long-running component of the monitor.
type Task interface {
	Run(ctx context.Context) error
}

// Registry registers the monitor's metrics and serves them.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Run starts all components and waits for them to stop. Run returns when ctx is cancelled or any component fails.
func Run(ctx context.Context, v *viper.Viper, registry Registry, version string, logger *slog.Logger) error {
	logger.Info("radialight-monitor starting", "version", version)
	defer logger.Info("radialight-monitor stopped")

	credentials, err := config.GetCredentials(v)
	if err != nil {
		return err
	}
	pollerConfig, err := config.GetPollerConfig(v, logger)
	if err != nil {
		return err
	}

	s, err := store.New(v.GetString("store.type"), v.GetString("store.path"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close store", "err", err)
		}
	}()

	requestMetrics := radialight.NewRequestMetrics("radialight", "monitor", nil)
	registry.MustRegister(requestMetrics)
	client, tokens := config.NewClient(credentials, radialight.NewHTTPClient(requestMetrics, v.GetDuration("radialight.timeout")), logger)

	tasks := makeTasks(v, client, tokens, s, pollerConfig, registry, version, logger)

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task.Run(ctx) })
	}
	return g.Wait()
}

func makeTasks(v *viper.Viper, client *radialight.Client, tokens *radialight.TokenManager, s store.Store, cfg poller.Config, registry Registry, version string, l *slog.Logger) []Task {
	var tasks []Task

	// Poller
	p := poller.New(client, s, cfg, l.With("component", "poller"))
	tasks = append(tasks, p)

	// Collector
	coll := &collector.Collector{Poller: p, Logger: l.With("component", "collector")}
	registry.MustRegister(coll)
	tasks = append(tasks, coll)

	// Prometheus Server
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	tasks = append(tasks, newHTTPServer(v.GetString("exporter.addr"), m, l.With("component", "exporter")))

	// Health Endpoint
	h := health.New(p, tokens, v.AllSettings(), l.With("component", "health"))
	tasks = append(tasks, h, newHTTPServer(v.GetString("health.addr"), h.Handler(), l.With("component", "health")))

	// Notifications
	notifiers := notifier.Notifiers{notifier.SLogNotifier{Logger: l.With("component", "notifier")}}

	// Slackbot
	if token := v.GetString("slack.token"); token != "" {
		b := slackbot.New(
			token,
			slackbot.WithName("radialightBot "+version),
			slackbot.WithLogger(l.With("component", "slackbot")),
		)
		tasks = append(tasks, b, bot.New(client, b, p, l.With("component", "radialightbot")))
		if channel := v.GetString("slack.channel"); channel != "" {
			notifiers = append(notifiers, &notifier.SlackNotifier{SlackSender: b, Channel: channel, Logger: l.With("component", "notifier")})
		}
	}
	tasks = append(tasks, &notifier.Watcher{Poller: p, Notifier: notifiers, Logger: l.With("component", "watcher")})

	// Sinks
	if kafkaConfig, ok := config.GetKafkaConfig(v); ok {
		tasks = append(tasks, &sink.Sink{
			Poller: p,
			Writer: sink.NewKafkaWriter(kafkaConfig.Brokers, kafkaConfig.Topic),
			Logger: l.With("component", "sink", "sink", "kafka"),
		})
	}
	if influxConfig, ok := config.GetInfluxDBConfig(v); ok {
		tasks = append(tasks, &sink.Sink{
			Poller: p,
			Writer: sink.NewInfluxDBWriter(influxConfig.URL, influxConfig.Token, influxConfig.Org, influxConfig.Bucket),
			Logger: l.With("component", "sink", "sink", "influxdb"),
		})
	}

	return tasks
}

const shutdownTimeout = 5 * time.Second

// httpServer serves handler on addr until its context is cancelled.
type httpServer struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

// newHTTPServer returns an httpServer that logs all requests at debug level and recovers from panics in handler.
func newHTTPServer(addr string, handler http.Handler, logger *slog.Logger) *httpServer {
	logged := handlers.CustomLoggingHandler(io.Discard, handler, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Debug("http request",
			slog.String("method", p.Request.Method),
			slog.String("path", p.URL.Path),
			slog.Int("code", p.StatusCode),
			slog.Int("size", p.Size),
		)
	})
	return &httpServer{
		addr:    addr,
		handler: handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger: logger}))(logged),
		logger:  logger,
	}
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (r recoveryLogger) Println(args ...any) {
	r.logger.Error("http handler panicked", "err", fmt.Sprint(args...))
}

func (s *httpServer) Run(ctx context.Context) error {
	server := http.Server{Addr: s.addr, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Debug("http server started", "addr", s.addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server %s: %w", s.addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.logger.Debug("http server stopped", "addr", s.addr)
	return err
}
