package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartbiofloc/biofloc/server/internal/alerts"
	"github.com/smartbiofloc/biofloc/server/internal/api"
	"github.com/smartbiofloc/biofloc/server/internal/auth"
	"github.com/smartbiofloc/biofloc/server/internal/config"
	"github.com/smartbiofloc/biofloc/server/internal/metrics"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
	"github.com/smartbiofloc/biofloc/server/internal/receiver"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
	"github.com/smartbiofloc/biofloc/server/internal/shipper"
	"github.com/smartbiofloc/biofloc/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file; defaults are used if it does not exist")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("biofloc-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	watchConfig := true
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", *configPath)
		cfg, watchConfig = config.Defaults(), false
	case err != nil:
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server
	level.Set(sc.SlogLevel())
	evictAfter, activeWithin := sc.Devices.Windows()

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"evict_after", evictAfter,
		"active_within", activeWithin,
		"mqtt", sc.MQTT.Enabled,
		"kafka", sc.Kafka.Enabled,
		"alert_rules", len(sc.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Listeners observe every accepted reading, from HTTP and MQTT alike.
	m := metrics.New()
	alertEngine := alerts.New(sc.Alerts)
	var hub *ws.Hub
	opts := []registry.Option{
		registry.WithListener(m),
		registry.WithListener(alertEngine),
		registry.WithListener(registry.ListenerFunc(func(ev registry.Ingested) { hub.OnIngest(ev) })),
	}

	var kafkaShipper *shipper.Shipper
	if sc.Kafka.Enabled {
		kafkaShipper = shipper.New(sc.Kafka)
		kafkaShipper.OnDrop(func() { m.Dropped("kafka") })
		opts = append(opts, registry.WithListener(kafkaShipper))
	}

	model := quality.DefaultModel()
	reg := registry.New(registry.Config{
		DefaultDeviceID: sc.Devices.DefaultID,
		EvictAfter:      evictAfter,
		ActiveWithin:    activeWithin,
	}, model, opts...)
	slog.Info("model loaded", "version", model.Version, "type", model.Type)

	hub = ws.New(reg, sc.Stream.Interval)
	go hub.Run(ctx)

	shipperDone := make(chan struct{})
	if kafkaShipper != nil {
		go func() {
			kafkaShipper.Run(ctx)
			close(shipperDone)
		}()
		slog.Info("kafka shipper started", "brokers", sc.Kafka.Brokers, "topic", sc.Kafka.Topic)
	} else {
		close(shipperDone)
	}

	var mqttReceiver *receiver.Receiver
	if sc.MQTT.Enabled {
		mqttReceiver = receiver.New(sc.MQTT, reg, m)
		if err := mqttReceiver.Start(ctx); err != nil {
			slog.Error("failed to start mqtt receiver", "err", err)
			os.Exit(1)
		}
	}

	if watchConfig {
		go func() {
			err := config.Watch(ctx, *configPath, func(ch config.Change) {
				next := ch.Config.Server
				if ch.Has(config.SectionLogLevel) {
					level.Set(next.SlogLevel())
					slog.Info("log level changed", "level", next.SlogLevel().String())
				}
				if ch.Has(config.SectionAlerts) {
					alertEngine.Reload(next.Alerts)
					slog.Info("alert rules reloaded", "rules", len(next.Alerts.Rules))
				}
				if stale := ch.RestartRequired(); len(stale) > 0 {
					slog.Warn("config sections changed that take effect after a restart", "sections", stale)
				}
			})
			if err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	apiHandler := api.New(reg, api.Options{
		DeviceHeader: sc.Devices.Header,
		IngestGate:   auth.APIKey(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key()),
		Alerts:       alertEngine,
		Failures:     m,
	})

	mux := http.NewServeMux()
	mux.Handle("/predict", apiHandler)
	mux.Handle("/api/", apiHandler)
	mux.Handle("/ws/stream", hub)
	if sc.Metrics.Enabled {
		mux.Handle(sc.Metrics.Path, m.Handler())
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("biofloc-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	if mqttReceiver != nil {
		mqttReceiver.Stop()
	}
	<-shipperDone
}
