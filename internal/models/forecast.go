package models

import "time"

// ForecastPoint holds predicted values for one future timestamp.
// Values only contains the fields whose model could be evaluated.
type ForecastPoint struct {
	NodeID     string            `json:"node_id"`
	ObservedAt time.Time         `json:"observed_at"`
	Values     map[Field]float64 `json:"field_values"`
}

// ForecastBatch is the forecast produced for one ingestion event
type ForecastBatch struct {
	NodeID  string          `json:"node_id"`
	Points  []ForecastPoint `json:"points"`
	Skipped []Field         `json:"skipped,omitempty"`
}

// Empty reports whether no field could be forecast
func (b ForecastBatch) Empty() bool {
	for _, p := range b.Points {
		if len(p.Values) > 0 {
			return false
		}
	}
	return true
}

// Prediction is a single forecast value for one field
type Prediction struct {
	Timestamp time.Time
	Value     float64
}
