package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"iot-gateway/internal/models"
)

// DecodeError reports a request body that is not a usable telemetry object
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid telemetry payload: %s: %v", e.Reason, e.Err)
	}
	return "invalid telemetry payload: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeRecord parses a JSON telemetry object. Numeric fields accept numbers,
// numeric strings and booleans; missing or null fields read as 0 unless strict
// is set. ObservedAt is left for the caller to stamp.
func DecodeRecord(body []byte, strict bool) (models.TelemetryRecord, error) {
	var rec models.TelemetryRecord

	if !utf8.Valid(body) {
		return rec, &DecodeError{Reason: "body is not valid UTF-8"}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return rec, &DecodeError{Reason: "body is not a JSON object", Err: err}
	}
	if raw == nil {
		return rec, &DecodeError{Reason: "body is not a JSON object"}
	}
	if _, err := dec.Token(); err != io.EOF {
		return rec, &DecodeError{Reason: "trailing data after JSON object"}
	}

	nodeID, err := coerceNodeID(raw[models.TagNodeID])
	if err != nil {
		return rec, err
	}
	rec.NodeID = nodeID

	for _, f := range models.AllFields {
		v, present := raw[string(f)]
		if !present || v == nil {
			if strict {
				return rec, &DecodeError{Reason: fmt.Sprintf("missing field %q", f)}
			}
			continue
		}

		x, err := coerceNumber(v)
		if err != nil {
			return rec, &DecodeError{Reason: fmt.Sprintf("field %q", f), Err: err}
		}
		switch f {
		case models.FieldTemperature:
			rec.Temperature = x
		case models.FieldHumidity:
			rec.Humidity = x
		case models.FieldLight:
			rec.Light = x
		}
	}

	return rec, nil
}

func coerceNumber(v interface{}) (float64, error) {
	var x float64
	switch t := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("number %s out of range", t)
		}
		x = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", t)
		}
		x = f
	case bool:
		if t {
			x = 1
		}
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}

	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("non-finite value %v", x)
	}
	return x, nil
}

func coerceNodeID(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", &DecodeError{Reason: fmt.Sprintf("node_id has unsupported type %T", v)}
	}
}
