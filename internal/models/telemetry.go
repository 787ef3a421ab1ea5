package models

import "time"

// Series names written to the time-series store
const (
	SeriesRaw      = "sensors"
	SeriesForecast = "sensors_forecast"
	TagNodeID      = "node_id"
)

// Field identifies one of the physical quantities a sensing node reports
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldHumidity    Field = "humidity"
	FieldLight       Field = "light"
)

// AllFields lists the telemetry fields in their canonical order
var AllFields = []Field{FieldTemperature, FieldHumidity, FieldLight}

// Valid reports whether f names a known telemetry field
func (f Field) Valid() bool {
	switch f {
	case FieldTemperature, FieldHumidity, FieldLight:
		return true
	}
	return false
}

// TelemetryRecord is the normalized form of one sensor reading.
// ObservedAt is always assigned by the gateway at receipt time.
type TelemetryRecord struct {
	NodeID      string    `json:"node_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Light       float64   `json:"light"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Value returns the reading for a single field
func (r TelemetryRecord) Value(f Field) float64 {
	switch f {
	case FieldTemperature:
		return r.Temperature
	case FieldHumidity:
		return r.Humidity
	case FieldLight:
		return r.Light
	}
	return 0
}

// StoreFields returns the record's values keyed by field name
func (r TelemetryRecord) StoreFields() map[string]interface{} {
	return map[string]interface{}{
		string(FieldTemperature): r.Temperature,
		string(FieldHumidity):    r.Humidity,
		string(FieldLight):       r.Light,
	}
}

// Tags returns the store tags identifying the originating node
func (r TelemetryRecord) Tags() map[string]string {
	return map[string]string{TagNodeID: r.NodeID}
}
