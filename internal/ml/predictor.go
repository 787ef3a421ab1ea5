package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// Predict evaluates the point forecast (yhat) at each timestamp.
// floor and cap are only consulted by logistic growth and must be in
// the model's own space.
func (m *Model) Predict(ds []time.Time, floor, cap float64) []float64 {
	out := make([]float64, len(ds))
	for i, ts := range ds {
		trend := m.trend(ts, floor, cap)

		var additive, multiplicative float64
		days := float64(ts.UnixNano()) / float64(24*time.Hour)
		col := 0
		for _, s := range m.Seasonalities {
			var component float64
			for n := 1; n <= s.FourierOrder; n++ {
				x := 2 * math.Pi * float64(n) * days / s.Period
				component += math.Sin(x)*m.Beta[col] + math.Cos(x)*m.Beta[col+1]
				col += 2
			}
			if s.Mode == "multiplicative" {
				multiplicative += component
			} else {
				additive += component * m.YScale
			}
		}

		out[i] = trend*(1+multiplicative) + additive
	}
	return out
}

// offset is the value the scaled series is measured from
func (m *Model) offset(floor float64) float64 {
	switch {
	case m.LogisticFloor:
		return floor
	case m.Scaling == "minmax":
		return m.YMin
	default:
		return 0
	}
}

func (m *Model) trend(ts time.Time, floor, cap float64) float64 {
	t := (float64(ts.UnixNano())/1e9 - float64(m.Start.UnixNano())/1e9) / m.TScale
	base := m.offset(floor)

	var scaled float64
	switch m.Growth {
	case "flat":
		scaled = m.M
	case "logistic":
		scaled = m.logisticTrend(t, (cap-base)/m.YScale)
	default:
		scaled = m.linearTrend(t)
	}
	return scaled*m.YScale + base
}

func (m *Model) linearTrend(t float64) float64 {
	k, off := m.K, m.M
	for i, cp := range m.ChangepointsT {
		if t >= cp {
			k += m.Deltas[i]
			off -= cp * m.Deltas[i]
		}
	}
	return k*t + off
}

func (m *Model) logisticTrend(t, cap float64) float64 {
	// Offsets keep the curve continuous across each rate change
	gammas := make([]float64, len(m.ChangepointsT))
	k, prev := m.K, m.M
	for i, cp := range m.ChangepointsT {
		next := k + m.Deltas[i]
		gammas[i] = (cp - prev) * (1 - k/next)
		prev += gammas[i]
		k = next
	}

	kt, mt := m.K, m.M
	for i, cp := range m.ChangepointsT {
		if t >= cp {
			kt += m.Deltas[i]
			mt += gammas[i]
		}
	}
	return cap / (1 + math.Exp(-kt*(t-mt)))
}

// SaveModel writes a model in the serialized form the loader reads,
// as produced by the training pipeline.
func SaveModel(path string, m *Model) error {
	keys := make([]string, 0, len(m.Seasonalities))
	props := make(map[string]interface{}, len(m.Seasonalities))
	for _, s := range m.Seasonalities {
		keys = append(keys, s.Name)
		props[s.Name] = map[string]interface{}{
			"period":         s.Period,
			"fourier_order":  s.FourierOrder,
			"prior_scale":    10.0,
			"mode":           s.Mode,
			"condition_name": nil,
		}
	}

	doc := map[string]interface{}{
		"growth":         m.Growth,
		"start":          float64(m.Start.UnixNano()) / 1e9,
		"t_scale":        m.TScale,
		"y_scale":        m.YScale,
		"y_min":          m.YMin,
		"scaling":        m.Scaling,
		"logistic_floor": m.LogisticFloor,
		"changepoints_t": nonNil(m.ChangepointsT),
		"seasonalities":  []interface{}{keys, props},
		"params": map[string]interface{}{
			"k":     [][]float64{{m.K}},
			"m":     [][]float64{{m.M}},
			"delta": [][]float64{nonNil(m.Deltas)},
			"beta":  [][]float64{nonNil(m.Beta)},
		},
		"extra_regressors": []interface{}{[]string{}, map[string]interface{}{}},
	}

	inner, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	data, err := json.Marshal(string(inner))
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}

func nonNil(xs []float64) []float64 {
	if xs == nil {
		return []float64{}
	}
	return xs
}
