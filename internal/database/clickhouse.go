package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"iot-gateway/internal/models"
)

type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", addr)

	db := &ClickHouseDB{conn: conn}

	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the telemetry tables if they don't exist
func (db *ClickHouseDB) InitSchema() error {
	ctx := context.Background()

	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// WritePoint inserts a single row
func (db *ClickHouseDB) WritePoint(ctx context.Context, series string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	return db.WriteBatch(ctx, series, tags, []Row{{Timestamp: ts, Fields: fields}})
}

// WriteBatch inserts all rows in one native batch
func (db *ClickHouseDB) WriteBatch(ctx context.Context, series string, tags map[string]string, rows []Row) error {
	if !knownSeries[series] {
		return fmt.Errorf("unknown series %q", series)
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (timestamp, node_id, temperature, humidity, light)", series))
	if err != nil {
		return fmt.Errorf("failed to prepare %s batch: %w", series, err)
	}

	nodeID := tags[models.TagNodeID]
	for _, r := range rows {
		err := batch.Append(
			r.Timestamp,
			nodeID,
			nullableFloat(r.Fields, models.FieldTemperature),
			nullableFloat(r.Fields, models.FieldHumidity),
			nullableFloat(r.Fields, models.FieldLight),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append %s row: %w", series, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert %s rows: %w", series, err)
	}
	return nil
}

func nullableFloat(fields map[string]interface{}, f models.Field) *float64 {
	v, ok := fields[string(f)].(float64)
	if !ok {
		return nil
	}
	return &v
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("ClickHouse connection closed")
	}
	return nil
}
