package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"iot-gateway/internal/database"
	"iot-gateway/internal/listener"
	"iot-gateway/internal/metrics"
	"iot-gateway/internal/ml"
	"iot-gateway/internal/mqtt"
	"iot-gateway/internal/services"
	"iot-gateway/pkg/config"
)

func main() {
	cli, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log.Println("Starting IoT Gateway...")

	// Load configuration
	cfg := config.Load(cli.Operating)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// === Store ===
	store, err := database.Open(cfg.Store)
	if err != nil {
		log.Printf("Store: Failed to open %s backend, writes will fail until restart: %v", cfg.Store.Backend, err)
		store = database.Unavailable(err)
	}
	guarded := database.NewGuard(store, database.GuardConfig{
		Timeout:  cfg.Store.WriteTimeout,
		Failures: cfg.Store.BreakerFailures,
		Cooldown: cfg.Store.BreakerCooldown,
		Observer: m.StoreWrite,
	})

	// === Forecaster ===
	forecaster := ml.NewForecaster(ml.Config{
		ModelDir: cfg.ModelDir,
		Horizon:  cfg.ForecastHorizon,
		Step:     cfg.ForecastStep,
		Space:    ml.Space(cfg.ForecastSpace),
	})

	// === Ingestion Service ===
	ingestion := services.NewIngestionService(guarded, forecaster, m, services.IngestionServiceConfig{
		Strict:    cfg.StrictIngest,
		Policy:    services.ModelPolicy(cfg.ModelPolicy),
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})
	if err := ingestion.Start(ctx); err != nil {
		log.Fatalf("Failed to start ingestion service: %v", err)
	}
	m.WatchQueue(func() int { return ingestion.PoolStats().QueueDepth })

	// === Metrics ===
	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, m)
		if err := metricsServer.Start(); err != nil {
			log.Printf("Metrics: %v", err)
			metricsServer = nil
		}
	}

	// === MQTT config broadcast ===
	broadcaster := mqtt.NewBroadcaster(mqtt.BroadcasterConfig{
		TopicPrefix: cfg.MQTTTopicPrefix,
		QoS:         byte(cfg.MQTTQoS),
	}, cfg.Operating)

	mqttClient := mqtt.NewClient(mqtt.ClientConfig{
		Broker:    cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		OnConnect: broadcaster.OnConnect,
	})
	log.Println("Connecting to MQTT broker...")
	mqttClient.Connect()

	// === Listener ===
	l, err := listener.New(cfg.Operating.Protocol, listener.Options{
		Addr:     cfg.ListenAddr(),
		DataPath: cfg.DataPath,
		Ingester: ingestion,
		Recorder: m,
	})
	if err != nil {
		log.Fatalf("Failed to create listener: %v", err)
	}
	if err := l.Start(ctx); err != nil {
		log.Fatalf("Failed to start %s listener: %v", l.Name(), err)
	}

	// === Log startup info ===
	log.Println("=== IoT Gateway is running ===")
	log.Printf("Protocol: %s on %s (path /%s)", l.Name(), cfg.ListenAddr(), cfg.DataPath)
	log.Printf("Sampling rate: %ds, motion alert: %ds", cfg.Operating.SamplingRateSeconds, cfg.Operating.MotionAlertSeconds)
	log.Printf("Store: %s, models: %s (%s, %d x %s)", cfg.Store.Backend, cfg.ModelDir, cfg.ForecastSpace, cfg.ForecastHorizon, cfg.ForecastStep)
	log.Println("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Println("Shutdown signal received, stopping services...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer shutdownCancel()

	if err := l.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping %s listener: %v", l.Name(), err)
	}
	if err := ingestion.Stop(cli.ShutdownTimeout); err != nil {
		log.Printf("Error stopping ingestion service: %v", err)
	}
	mqttClient.Close()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping metrics server: %v", err)
		}
	}
	if err := guarded.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}
	cancel()

	log.Println("Shutdown complete. Goodbye!")
}
