package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"iot-gateway/internal/models"
)

// Model is a trained seasonal regression model (Prophet point forecast).
// Only the parameters needed for yhat are kept; uncertainty is not modelled.
type Model struct {
	Growth        string
	Start         time.Time
	TScale        float64 // seconds
	YScale        float64
	YMin          float64
	Scaling       string
	LogisticFloor bool
	ChangepointsT []float64

	K      float64
	M      float64
	Deltas []float64
	Beta   []float64

	Seasonalities []Seasonality
}

// Seasonality is one Fourier seasonal component
type Seasonality struct {
	Name         string
	Period       float64 // days
	FourierOrder int
	Mode         string
}

// ModelHandle pairs a loaded model with the bounds it is evaluated against.
// Floor and Cap are physical units; the model may work in a transformed space.
type ModelHandle struct {
	Field models.Field
	Floor float64
	Cap   float64
	Model *Model
}

// ModelUnavailableError reports that a field's model could not be loaded
type ModelUnavailableError struct {
	Field models.Field
	Path  string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("forecast model for %s unavailable (%s): %v", e.Field, e.Path, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

var errUnsupported = errors.New("unsupported model feature")

// ModelPath returns the artifact path for a field: <dir>/model_<field>.json
func ModelPath(dir string, field models.Field) string {
	return filepath.Join(dir, fmt.Sprintf("model_%s.json", field))
}

// LoadModel reads and parses a field's model file. It never caches: the
// training pipeline replaces files atomically and the next read sees it.
func LoadModel(dir string, field models.Field) (*Model, error) {
	path := ModelPath(dir, field)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelUnavailableError{Field: field, Path: path, Err: fmt.Errorf("failed to read model file: %w", err)}
	}

	model, err := ParseModel(data)
	if err != nil {
		return nil, &ModelUnavailableError{Field: field, Path: path, Err: err}
	}
	return model, nil
}

// prophetDoc is the subset of Prophet's model_to_json output we consume
type prophetDoc struct {
	Growth          string                     `json:"growth"`
	Start           *float64                   `json:"start"`
	TScale          *float64                   `json:"t_scale"`
	YScale          *float64                   `json:"y_scale"`
	YMin            float64                    `json:"y_min"`
	Scaling         string                     `json:"scaling"`
	LogisticFloor   bool                       `json:"logistic_floor"`
	ChangepointsT   []float64                  `json:"changepoints_t"`
	Params          map[string]json.RawMessage `json:"params"`
	Seasonalities   json.RawMessage            `json:"seasonalities"`
	ExtraRegressors json.RawMessage            `json:"extra_regressors"`
	Holidays        json.RawMessage            `json:"holidays"`
	CountryHolidays json.RawMessage            `json:"country_holidays"`
}

type seasonalityDoc struct {
	Period        float64 `json:"period"`
	FourierOrder  int     `json:"fourier_order"`
	Mode          string  `json:"mode"`
	ConditionName *string `json:"condition_name"`
}

// ParseModel decodes a serialized Prophet model. The training pipeline writes
// the serialized model as a JSON string, so a doubly encoded document is accepted.
func ParseModel(data []byte) (*Model, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model: %w", err)
		}
		data = []byte(inner)
	}

	var doc prophetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	if doc.Start == nil || doc.TScale == nil || doc.YScale == nil {
		return nil, errors.New("model is missing start, t_scale or y_scale")
	}
	if *doc.TScale <= 0 {
		return nil, fmt.Errorf("invalid t_scale %v", *doc.TScale)
	}

	m := &Model{
		Growth:        doc.Growth,
		Start:         unixSeconds(*doc.Start),
		TScale:        *doc.TScale,
		YScale:        *doc.YScale,
		YMin:          doc.YMin,
		Scaling:       doc.Scaling,
		LogisticFloor: doc.LogisticFloor,
		ChangepointsT: doc.ChangepointsT,
	}
	if m.Growth == "" {
		m.Growth = "linear"
	}
	if m.Scaling == "" {
		m.Scaling = "absmax"
	}
	switch m.Growth {
	case "linear", "logistic", "flat":
	default:
		return nil, fmt.Errorf("%w: growth %q", errUnsupported, m.Growth)
	}

	var err error
	if m.K, err = paramScalar(doc.Params, "k"); err != nil {
		return nil, err
	}
	if m.M, err = paramScalar(doc.Params, "m"); err != nil {
		return nil, err
	}
	if m.Deltas, err = paramVector(doc.Params, "delta"); err != nil {
		return nil, err
	}
	if m.Beta, err = paramVector(doc.Params, "beta"); err != nil {
		return nil, err
	}
	if len(m.Deltas) < len(m.ChangepointsT) {
		return nil, fmt.Errorf("model has %d changepoints but %d deltas", len(m.ChangepointsT), len(m.Deltas))
	}

	names, props, err := decodeOrdered(doc.Seasonalities)
	if err != nil {
		return nil, fmt.Errorf("failed to decode seasonalities: %w", err)
	}
	columns := 0
	for _, name := range names {
		p := props[name]
		if p.ConditionName != nil && *p.ConditionName != "" {
			return nil, fmt.Errorf("%w: conditional seasonality %q", errUnsupported, name)
		}
		if p.Period <= 0 || p.FourierOrder < 0 {
			return nil, fmt.Errorf("invalid seasonality %q", name)
		}
		mode := p.Mode
		if mode == "" {
			mode = "additive"
		}
		m.Seasonalities = append(m.Seasonalities, Seasonality{
			Name:         name,
			Period:       p.Period,
			FourierOrder: p.FourierOrder,
			Mode:         mode,
		})
		columns += 2 * p.FourierOrder
	}
	if len(m.Beta) < columns {
		return nil, fmt.Errorf("model has %d seasonal features but %d betas", columns, len(m.Beta))
	}

	regressors, _, err := decodeOrdered(doc.ExtraRegressors)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extra_regressors: %w", err)
	}
	if len(regressors) > 0 {
		return nil, fmt.Errorf("%w: extra regressors %v", errUnsupported, regressors)
	}

	// Holiday features add beta columns Predict does not evaluate
	if present(doc.Holidays) || present(doc.CountryHolidays) {
		return nil, fmt.Errorf("%w: holidays", errUnsupported)
	}

	return m, nil
}

// present reports whether an optional field carries a value
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte(`""`))
}

func unixSeconds(s float64) time.Time {
	sec := int64(s)
	nsec := int64((s - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// decodeOrdered decodes an ordered dict serialized either as [keys, {k: v}]
// or as a plain object, keeping key order.
func decodeOrdered(raw json.RawMessage) ([]string, map[string]seasonalityDoc, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}

	if raw[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, nil, err
		}
		if len(pair) != 2 {
			return nil, nil, fmt.Errorf("expected [keys, values], got %d elements", len(pair))
		}
		var keys []string
		if err := json.Unmarshal(pair[0], &keys); err != nil {
			return nil, nil, err
		}
		values := make(map[string]seasonalityDoc)
		if err := json.Unmarshal(pair[1], &values); err != nil {
			return nil, nil, err
		}
		for _, k := range keys {
			if _, ok := values[k]; !ok {
				return nil, nil, fmt.Errorf("missing entry for %q", k)
			}
		}
		return keys, values, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, nil, fmt.Errorf("expected object")
	}
	var keys []string
	values := make(map[string]seasonalityDoc)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected key %v", tok)
		}
		var v seasonalityDoc
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values[key] = v
	}
	return keys, values, nil
}

// paramScalar averages a parameter stored as x, [x...] or [[x]...]
func paramScalar(params map[string]json.RawMessage, name string) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("model is missing parameter %q", name)
	}

	var x float64
	if err := json.Unmarshal(raw, &x); err == nil {
		return x, nil
	}
	var xs []float64
	if err := json.Unmarshal(raw, &xs); err == nil {
		return mean(xs)
	}
	var xss [][]float64
	if err := json.Unmarshal(raw, &xss); err == nil {
		var flat []float64
		for _, row := range xss {
			flat = append(flat, row...)
		}
		return mean(flat)
	}
	return 0, fmt.Errorf("invalid parameter %q", name)
}

// paramVector returns a parameter stored as [x...] or per-sample rows [[x...]...],
// averaging across samples.
func paramVector(params map[string]json.RawMessage, name string) ([]float64, error) {
	raw, ok := params[name]
	if !ok {
		return nil, nil
	}

	var xss [][]float64
	if err := json.Unmarshal(raw, &xss); err == nil {
		if len(xss) == 0 {
			return nil, nil
		}
		out := make([]float64, len(xss[0]))
		for _, row := range xss {
			if len(row) != len(out) {
				return nil, fmt.Errorf("ragged parameter %q", name)
			}
			for i, v := range row {
				out[i] += v / float64(len(xss))
			}
		}
		return out, nil
	}
	var xs []float64
	if err := json.Unmarshal(raw, &xs); err == nil {
		return xs, nil
	}
	return nil, fmt.Errorf("invalid parameter %q", name)
}

func mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, errors.New("empty parameter")
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), nil
}
