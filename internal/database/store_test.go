package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-gateway/pkg/config"
)

func TestOpen_RejectsIncompleteConfig(t *testing.T) {
	_, err := Open(config.Store{Backend: "influx"})
	assert.ErrorContains(t, err, "IDB_HOST")

	_, err = Open(config.Store{Backend: "kafka"})
	assert.Error(t, err)

	_, err = Open(config.Store{Backend: "cassandra"})
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestOpen_Kafka(t *testing.T) {
	store, err := Open(config.Store{Backend: "kafka", KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "telemetry"})
	require.NoError(t, err)
	assert.IsType(t, &KafkaStore{}, store)
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	store := Unavailable(cause)

	err := store.WritePoint(context.Background(), "sensors", nil, nil, time.Now())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, store.WriteBatch(context.Background(), "sensors_forecast", nil, nil), cause)
	assert.NoError(t, store.Close())
}
