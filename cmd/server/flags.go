package main

import (
	"flag"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"iot-gateway/pkg/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Operating       config.Operating
	ShutdownTimeout time.Duration
}

// parseFlags reads the operating configuration. Each flag falls back to an
// environment variable, then to the built-in default. Values are validated
// later by config.Load.
func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	def := config.DefaultOperating()
	cfg := &CLIConfig{}

	fs := flag.NewFlagSet("iot-gateway", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Operating.Protocol, "protocol",
		getEnv("PROTOCOL", def.Protocol),
		"Ingestion protocol: coap or http (env: PROTOCOL)")

	fs.IntVar(&cfg.Operating.SamplingRateSeconds, "sampling_rate",
		getEnvInt("SAMPLING_RATE", def.SamplingRateSeconds),
		"Sensor sampling period in seconds (env: SAMPLING_RATE)")

	fs.IntVar(&cfg.Operating.MotionAlertSeconds, "motion_alert",
		getEnvInt("MOTION_ALERT", def.MotionAlertSeconds),
		"Motion alert window in seconds, must exceed 10 (env: MOTION_ALERT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		10*time.Second,
		"Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return i
}
