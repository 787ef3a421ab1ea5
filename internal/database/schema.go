package database

import "iot-gateway/internal/models"

// SQL schemas for the ClickHouse tables

const (
	// SensorsTableSQL creates the raw telemetry table
	SensorsTableSQL = `
		CREATE TABLE IF NOT EXISTS sensors (
			timestamp DateTime64(3),
			node_id String,
			temperature Nullable(Float64),
			humidity Nullable(Float64),
			light Nullable(Float64)
		) ENGINE = MergeTree()
		ORDER BY (node_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// SensorsForecastTableSQL creates the forecast table. A field is NULL
	// when its model was unavailable for that batch.
	SensorsForecastTableSQL = `
		CREATE TABLE IF NOT EXISTS sensors_forecast (
			timestamp DateTime64(3),
			node_id String,
			temperature Nullable(Float64),
			humidity Nullable(Float64),
			light Nullable(Float64)
		) ENGINE = MergeTree()
		ORDER BY (node_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		SensorsTableSQL,
		SensorsForecastTableSQL,
	}
}

// knownSeries guards the table name interpolated into INSERT statements
var knownSeries = map[string]bool{
	models.SeriesRaw:      true,
	models.SeriesForecast: true,
}
