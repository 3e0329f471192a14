// Package app wires every collaborator package into one running
// process: load configuration, build the masking/serializer/sink stack,
// construct the root logger, optionally attach a broker adapter and
// HTTP client, and serve a metrics/health endpoint. The lifecycle shape
// (New builds everything up front and fails fast; Start/Stop/Run manage
// goroutines and signals) is adapted from the teacher's
// internal/app.App, trimmed to the collaborators this system actually
// has.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"structlog/internal/config"
	"structlog/pkg/backpressure"
	"structlog/pkg/broker"
	"structlog/pkg/dlq"
	apperrors "structlog/pkg/errors"
	"structlog/pkg/httpclient"
	"structlog/pkg/levels"
	"structlog/pkg/logctx"
	"structlog/pkg/masking"
	"structlog/pkg/metrics"
	"structlog/pkg/record"
	"structlog/pkg/secrets"
	"structlog/pkg/sinklog"
	"structlog/pkg/structlog"
)

// App coordinates the logging pipeline's full process lifecycle.
type App struct {
	cfg    *config.Config
	Logger *structlog.Logger

	sinks           []sinklog.Sink
	secretsManager  *secrets.MultiManager
	backpressureMgr *backpressure.Manager
	dlqQueue        *dlq.Queue
	metricsCollector *metrics.Collector
	brokerAdapter   *broker.KafkaAdapter
	httpClient      *httpclient.HTTPClient

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// dropReporter adapts metrics.SinkDropCounter's IncSinkDrops to
// sinklog.DropReporter's ReportDrop, which sinks need at construction
// time, before the Logger (which implements the same counting via
// structlog.DropCounter) exists.
type dropReporter struct{ metrics.SinkDropCounter }

func (d dropReporter) ReportDrop(sinkName string) { d.IncSinkDrops(sinkName) }

// New loads configuration from configFile and constructs every
// collaborator. It fails fast: a bad configuration or an unparsable
// level never becomes a partially-initialized App.
func New(configFile string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeConfigNotFound, "config", "Load", "failed to load config").Wrap(err)
	}

	level, err := levels.Parse(cfg.Logger.Level)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeConfigValidation, "config", "ParseLevel",
			fmt.Sprintf("invalid logger.level %q", cfg.Logger.Level)).Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	application := &App{cfg: cfg, ctx: ctx, cancel: cancel}

	reporter := dropReporter{}
	sinks, err := buildSinks(cfg.Logger.Sinks, level, reporter)
	if err != nil {
		cancel()
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "config", "buildSinks", "failed to build sinks").Wrap(err)
	}
	application.sinks = sinks

	matrix := logctx.LevelKeyFilter(cfg.LoggingMatrix)

	application.Logger = structlog.New(structlog.Config{
		ServiceName: cfg.Logger.ServiceName,
		Level:       level,
		Sinks:       sinks,
		SerializerTimeout: cfg.SerializerTimeout(),
		MaskingConfig: masking.Config{
			Rules:    buildMaskingRules(cfg.Masking),
			MaxDepth: cfg.Masking.MaxDepth,
		},
		LoggingMatrix:  matrix,
		DropCounter:    metrics.SinkDropCounter{},
		FailureCounter: metrics.SerializerFailureCounter{},
		RecordCounter:  metrics.RecordEmitCounter{},
	})

	application.secretsManager = secrets.NewMultiManager(secrets.Config{
		Backends: []secrets.BackendConfig{{Type: "env", Enabled: true}},
	})
	application.Logger.RefreshMasking(application.secretsManager)

	application.backpressureMgr = backpressure.NewManager(backpressure.Config{})
	application.backpressureMgr.SetLevelChangeCallback(func(from, to backpressure.Level, factor float64) {
		metrics.BackpressureLevel.Set(float64(to))
		application.Logger.Warn("backpressure level changed",
			record.F("from", from.String()), record.F("to", to.String()), record.F("factor", factor))
	})

	application.dlqQueue = dlq.New(dlq.Config{Enabled: true, EntryCounter: metrics.DLQEntryCounter{}})

	application.metricsCollector = metrics.NewCollector(15 * time.Second)

	if len(cfg.Broker.Brokers) > 0 {
		application.brokerAdapter = broker.NewKafkaAdapter(broker.KafkaConfig{
			Brokers: cfg.Broker.Brokers,
			SASL: broker.SASLConfig{
				Enabled:   cfg.Broker.SASLEnabled,
				Username:  cfg.Broker.SASLUsername,
				Password:  cfg.Broker.SASLPassword,
				Mechanism: cfg.Broker.SASLMechanism,
			},
			FailureCallback: func(topic string, payload []byte, cause error) {
				application.dlqQueue.Enqueue(record.NewMap(record.F("topic", topic), record.F("payload", string(payload))), "broker.kafka", cause)
			},
			HandlerConcurrency: cfg.Broker.HandlerConcurrency,
		}, application.Logger)
	}

	if cfg.HTTPClient.RateLimit > 0 {
		application.httpClient = httpclient.New(httpclient.Config{
			MaxIdleConnsPerHost: cfg.HTTPClient.MaxIdleConnsPerHost,
			RequestTimeout:      time.Duration(cfg.HTTPClient.RequestTimeoutMs) * time.Millisecond,
			RateLimit:           cfg.HTTPClient.RateLimit,
			RateBurst:           cfg.HTTPClient.RateBurst,
		}, application.Logger)
	}

	application.initHTTPServer()

	return application, nil
}

func buildSinks(names []string, level levels.Level, reporter sinklog.DropReporter) ([]sinklog.Sink, error) {
	sinks := make([]sinklog.Sink, 0, len(names))
	for _, name := range names {
		switch name {
		case "json", "":
			sinks = append(sinks, sinklog.NewJSONSink(level, 1024, reporter))
		case "memory":
			sinks = append(sinks, sinklog.NewMemorySink(level, 1024))
		default:
			return nil, apperrors.New(apperrors.CodeConfigInvalid, "config", "buildSinks", fmt.Sprintf("unknown sink %q", name))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sinklog.NewJSONSink(level, 1024, reporter))
	}
	return sinks, nil
}

// memUtilization returns the process heap's in-use fraction of its
// reserved size, a cheap proxy the backpressure manager can react to
// without importing a host-level sampler.
func memUtilization() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapInuse) / float64(m.HeapSys)
}

func buildMaskingRules(cfg config.MaskingConfig) []masking.Rule {
	strategy := masking.StrategyFull
	if cfg.Style == "preserve-length" {
		strategy = masking.StrategyPreserveLength
	}
	rules := make([]masking.Rule, 0, len(cfg.Fields))
	for _, field := range cfg.Fields {
		rules = append(rules, masking.Rule{Key: field, Strategy: strategy, Mask: cfg.MaskChar})
	}
	return rules
}

// initHTTPServer wires /metrics and /health, grounded on the teacher's
// internal/metrics.NewMetricsServer.
func (app *App) initHTTPServer() {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	app.httpServer = &http.Server{Addr: ":9090", Handler: router}
}

// Start launches background components: the metrics sampler, the
// metrics/health HTTP server, and the broker connection if configured.
func (app *App) Start() error {
	app.Logger.Info("starting structlogd")

	if err := app.dlqQueue.Start(); err != nil {
		return apperrors.New(apperrors.CodeResourceExhausted, "dlq", "Start", "failed to start dead-letter queue").Wrap(err)
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.metricsCollector.Run(app.ctx.Done())
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.backpressureMgr.Run(app.ctx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.sampleBackpressure()
	}()

	if app.brokerAdapter != nil {
		if err := app.brokerAdapter.Connect(app.ctx); err != nil {
			return apperrors.New(apperrors.CodeNetworkUnavailable, "app", "Start", "failed to connect broker adapter").Wrap(err)
		}
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.Logger.InfoCtx(app.ctx, "metrics server listening", record.F("addr", app.httpServer.Addr))
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Error("metrics server error", record.F("err", err))
		}
	}()

	app.Logger.Info("structlogd started")
	return nil
}

// Stop cancels the root context and shuts every component down,
// mirroring the teacher's App.Stop: cancel first, then tear components
// down in dependency order, logging but not failing on individual
// errors.
func (app *App) Stop() error {
	app.Logger.Info("stopping structlogd")
	app.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("failed to shut down metrics server", record.F("err", err))
	}

	if app.brokerAdapter != nil {
		if err := app.brokerAdapter.Disconnect(); err != nil {
			app.Logger.Error("failed to disconnect broker adapter", record.F("err", err))
		}
	}

	for _, sink := range app.sinks {
		sink.Flush()
		sink.Shutdown()
	}

	if err := app.dlqQueue.Stop(); err != nil {
		app.Logger.Error("failed to stop dead-letter queue", record.F("err", err))
	}

	app.wg.Wait()
	app.Logger.Info("structlogd stopped")
	return nil
}

// sampleBackpressure feeds the backpressure manager a coarse
// memory-utilization sample every 5 seconds, driving the
// structlog_backpressure_level gauge and the ShouldThrottle/ShouldReject
// signals a future sink could consult before admitting more work.
func (app *App) sampleBackpressure() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.metricsCollector.Sample()
			app.backpressureMgr.UpdateMetrics(backpressure.Metrics{
				MemoryUtilization: memUtilization(),
			})
		}
	}
}

// Run starts the application and blocks until SIGINT/SIGTERM.
func (app *App) Run() error {
	if err := app.Start(); err != nil {
		return err
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	app.Logger.Info("shutdown signal received")
	return app.Stop()
}
