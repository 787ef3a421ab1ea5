package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iot-gateway/pkg/config"
)

// Row is one timestamped set of field values in a batch
type Row struct {
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Store persists points to a time-series backend. Each call is attempted once
// and its outcome reported; implementations must be safe for concurrent use.
type Store interface {
	WritePoint(ctx context.Context, series string, tags map[string]string, fields map[string]interface{}, ts time.Time) error
	WriteBatch(ctx context.Context, series string, tags map[string]string, rows []Row) error
	Close() error
}

// WriteError reports a failed write to a series
type WriteError struct {
	Series string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Series, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Open builds the store selected by cfg.Backend
func Open(cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case "influx", "":
		if cfg.InfluxHost == "" {
			return nil, errors.New("InfluxDB host is not configured (IDB_HOST)")
		}
		return NewInfluxDB(cfg.InfluxHost, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket), nil
	case "clickhouse":
		return NewClickHouseDB(cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePass)
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, errors.New("kafka brokers and topic must be configured")
		}
		return NewKafkaStore(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Unavailable returns a store whose every write fails with err. The gateway
// keeps serving when the backend cannot be opened at startup.
func Unavailable(err error) Store {
	return unavailableStore{err: err}
}

type unavailableStore struct {
	err error
}

func (s unavailableStore) WritePoint(context.Context, string, map[string]string, map[string]interface{}, time.Time) error {
	return fmt.Errorf("store unavailable: %w", s.err)
}

func (s unavailableStore) WriteBatch(context.Context, string, map[string]string, []Row) error {
	return fmt.Errorf("store unavailable: %w", s.err)
}

func (s unavailableStore) Close() error { return nil }
