package ml

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"

	"iot-gateway/internal/models"
)

// Space is the value space a model was trained in
type Space string

const (
	// SpaceLog1p models were trained on log1p(y) and are inverted with expm1
	SpaceLog1p Space = "log1p"
	// SpaceNone models were trained on raw values
	SpaceNone Space = "none"
)

// Bounds is a closed physical range [Floor, Cap]
type Bounds struct {
	Floor float64
	Cap   float64
}

// PhysicalBounds are the sensor ranges every forecast value is clamped to
var PhysicalBounds = map[models.Field]Bounds{
	models.FieldTemperature: {Floor: -40, Cap: 80},
	models.FieldHumidity:    {Floor: 0, Cap: 100},
	models.FieldLight:       {Floor: 0, Cap: 660},
}

// Config controls how forecasts are produced
type Config struct {
	ModelDir string
	Horizon  int
	Step     time.Duration
	Space    Space
}

// Forecaster produces per-field forecasts from model files on disk.
// Models are re-read on every call so retraining takes effect immediately.
type Forecaster struct {
	cfg Config
}

// NewForecaster creates a forecaster
func NewForecaster(cfg Config) *Forecaster {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 288
	}
	if cfg.Step <= 0 {
		cfg.Step = 5 * time.Minute
	}
	if cfg.Space == "" {
		cfg.Space = SpaceLog1p
	}
	return &Forecaster{cfg: cfg}
}

// Grid returns horizon timestamps spaced step apart. The first is the
// smallest step boundary at or after now, in UTC.
func Grid(now time.Time, horizon int, step time.Duration) []time.Time {
	now = now.UTC()
	first := now.Truncate(step)
	if first.Before(now) {
		first = first.Add(step)
	}

	grid := make([]time.Time, horizon)
	for i := range grid {
		grid[i] = first.Add(time.Duration(i) * step)
	}
	return grid
}

// Clamp limits v to [floor, cap]. NaN maps to floor.
func Clamp(v, floor, cap float64) float64 {
	switch {
	case math.IsNaN(v):
		return floor
	case v < floor:
		return floor
	case v > cap:
		return cap
	}
	return v
}

// modelBounds converts physical bounds into the model's value space
func modelBounds(b Bounds, space Space) (float64, float64) {
	if space == SpaceLog1p {
		return math.Log1p(math.Max(b.Floor, 0)), math.Log1p(b.Cap)
	}
	return b.Floor, b.Cap
}

// Forecast evaluates a loaded model over the grid starting at now. Values are
// converted back from the model space and clamped to the handle's bounds.
func Forecast(h *ModelHandle, space Space, now time.Time, horizon int, step time.Duration) []models.Prediction {
	grid := Grid(now, horizon, step)
	floor, cap := modelBounds(Bounds{Floor: h.Floor, Cap: h.Cap}, space)

	raw := h.Model.Predict(grid, floor, cap)
	out := make([]models.Prediction, len(grid))
	for i, ts := range grid {
		v := raw[i]
		if space == SpaceLog1p {
			v = math.Expm1(v)
		}
		out[i] = models.Prediction{Timestamp: ts, Value: Clamp(v, h.Floor, h.Cap)}
	}
	return out
}

// Load reads the model for a field and attaches its physical bounds
func (f *Forecaster) Load(field models.Field) (*ModelHandle, error) {
	b, ok := PhysicalBounds[field]
	if !ok {
		return nil, &ModelUnavailableError{Field: field, Err: errors.New("unknown field")}
	}
	model, err := LoadModel(f.cfg.ModelDir, field)
	if err != nil {
		return nil, err
	}
	return &ModelHandle{Field: field, Floor: b.Floor, Cap: b.Cap, Model: model}, nil
}

// Forecast predicts one field over the configured horizon
func (f *Forecaster) Forecast(field models.Field, now time.Time) ([]models.Prediction, error) {
	h, err := f.Load(field)
	if err != nil {
		return nil, err
	}
	return Forecast(h, f.cfg.Space, now, f.cfg.Horizon, f.cfg.Step), nil
}

// Batch forecasts every telemetry field for a node and merges them into one
// point per grid timestamp. Fields whose model is unavailable are listed in
// Skipped and their errors returned together; the batch is still usable.
func (f *Forecaster) Batch(nodeID string, now time.Time) (models.ForecastBatch, error) {
	grid := Grid(now, f.cfg.Horizon, f.cfg.Step)
	batch := models.ForecastBatch{NodeID: nodeID, Points: make([]models.ForecastPoint, len(grid))}
	for i, ts := range grid {
		batch.Points[i] = models.ForecastPoint{
			NodeID:     nodeID,
			ObservedAt: ts,
			Values:     make(map[models.Field]float64, len(models.AllFields)),
		}
	}

	var result *multierror.Error
	for _, field := range models.AllFields {
		preds, err := f.Forecast(field, now)
		if err != nil {
			log.Printf("Forecaster: Skipping %s: %v", field, err)
			batch.Skipped = append(batch.Skipped, field)
			result = multierror.Append(result, err)
			continue
		}
		for i, p := range preds {
			batch.Points[i].Values[field] = p.Value
		}
	}

	return batch, result.ErrorOrNil()
}
