package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-gateway/internal/database"
	"iot-gateway/internal/ml"
	"iot-gateway/internal/models"
)

type write struct {
	series string
	tags   map[string]string
	rows   []database.Row
}

type fakeStore struct {
	mu     sync.Mutex
	writes []write
	errs   map[string]error
	// block holds writes for the given node until the channel is closed
	blockNode string
	block     chan struct{}
}

func (f *fakeStore) record(series string, tags map[string]string, rows []database.Row) error {
	if f.block != nil && tags[models.TagNodeID] == f.blockNode {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{series: series, tags: tags, rows: rows})
	return f.errs[series]
}

func (f *fakeStore) WritePoint(_ context.Context, series string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	return f.record(series, tags, []database.Row{{Timestamp: ts, Fields: fields}})
}

func (f *fakeStore) WriteBatch(_ context.Context, series string, tags map[string]string, rows []database.Row) error {
	return f.record(series, tags, rows)
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) bySeries(series string) []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []write
	for _, w := range f.writes {
		if w.series == series {
			out = append(out, w)
		}
	}
	return out
}

// fakeForecaster returns a constant forecast and fails for the listed fields
type fakeForecaster struct {
	missing []models.Field
}

func (f *fakeForecaster) Batch(nodeID string, now time.Time) (models.ForecastBatch, error) {
	grid := ml.Grid(now, 288, 5*time.Minute)
	batch := models.ForecastBatch{NodeID: nodeID}
	var err error
	for _, field := range f.missing {
		batch.Skipped = append(batch.Skipped, field)
		err = &ml.ModelUnavailableError{Field: field, Err: errors.New("no such file")}
	}
	for _, ts := range grid {
		p := models.ForecastPoint{NodeID: nodeID, ObservedAt: ts, Values: map[models.Field]float64{}}
		for _, field := range models.AllFields {
			if !contains(f.missing, field) {
				p.Values[field] = 1
			}
		}
		batch.Points = append(batch.Points, p)
	}
	return batch, err
}

func contains(fields []models.Field, f models.Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

type countingObserver struct {
	mu      sync.Mutex
	skipped []models.Field
}

func (o *countingObserver) ForecastSkipped(f models.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, f)
}

func newService(t *testing.T, store database.Store, fc Forecaster, cfg IngestionServiceConfig) *IngestionService {
	t.Helper()
	svc := NewIngestionService(store, fc, nil, cfg)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(time.Second) })
	return svc
}

func TestIngest_StoresRawAndForecast(t *testing.T) {
	store := &fakeStore{}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())
	fixed := time.Date(2024, 6, 1, 9, 2, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	out, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n1","temperature":22.5,"humidity":48.0,"light":310}`))
	require.NoError(t, err)

	assert.Equal(t, models.TelemetryRecord{NodeID: "n1", Temperature: 22.5, Humidity: 48, Light: 310, ObservedAt: fixed}, out.Record)
	assert.Equal(t, 288, out.ForecastPoints)

	raw := store.bySeries(models.SeriesRaw)
	require.Len(t, raw, 1)
	assert.Equal(t, map[string]string{"node_id": "n1"}, raw[0].tags)
	assert.Equal(t, fixed, raw[0].rows[0].Timestamp)
	assert.Equal(t, 310.0, raw[0].rows[0].Fields["light"])

	forecast := store.bySeries(models.SeriesForecast)
	require.Len(t, forecast, 1)
	require.Len(t, forecast[0].rows, 288)
	assert.Equal(t, map[string]string{"node_id": "n1"}, forecast[0].tags)
	for _, r := range forecast[0].rows {
		assert.True(t, r.Timestamp.After(fixed))
	}
}

func TestIngest_EmptyObject(t *testing.T) {
	store := &fakeStore{}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())

	out, err := svc.Ingest(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "", out.Record.NodeID)
	assert.Zero(t, out.Record.Temperature)
	assert.False(t, out.Record.ObservedAt.IsZero())
	assert.Len(t, store.bySeries(models.SeriesRaw), 1)
}

func TestIngest_DecodeErrorWritesNothing(t *testing.T) {
	store := &fakeStore{}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())

	_, err := svc.Ingest(context.Background(), []byte(`not json`))
	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	assert.Empty(t, store.writes)
}

func TestIngest_RawFailureStillWritesForecast(t *testing.T) {
	store := &fakeStore{errs: map[string]error{models.SeriesRaw: errors.New("store down")}}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())

	_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
	assert.Len(t, store.bySeries(models.SeriesForecast), 1)
}

func TestIngest_ForecastFailureStillWritesRaw(t *testing.T) {
	store := &fakeStore{errs: map[string]error{models.SeriesForecast: errors.New("forecast store down")}}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())

	_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n1"}`))
	require.Error(t, err)
	assert.Len(t, store.bySeries(models.SeriesRaw), 1)
}

func TestIngest_BothFailuresReported(t *testing.T) {
	store := &fakeStore{errs: map[string]error{
		models.SeriesRaw:      errors.New("raw down"),
		models.SeriesForecast: errors.New("forecast down"),
	}}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())

	_, err := svc.Ingest(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw down")
	assert.Contains(t, err.Error(), "forecast down")
}

func TestIngest_SkipFieldPolicy(t *testing.T) {
	store := &fakeStore{}
	observer := &countingObserver{}
	svc := NewIngestionService(store, &fakeForecaster{missing: []models.Field{models.FieldLight}}, observer, DefaultIngestionServiceConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(time.Second)

	out, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n2"}`))
	require.NoError(t, err)
	assert.Equal(t, []models.Field{models.FieldLight}, out.SkippedFields)
	assert.Equal(t, []models.Field{models.FieldLight}, observer.skipped)

	forecast := store.bySeries(models.SeriesForecast)
	require.Len(t, forecast, 1)
	assert.NotContains(t, forecast[0].rows[0].Fields, "light")
	assert.Contains(t, forecast[0].rows[0].Fields, "temperature")
}

func TestIngest_AllModelsMissingSkipsForecastWrite(t *testing.T) {
	store := &fakeStore{}
	svc := newService(t, store, &fakeForecaster{missing: models.AllFields}, DefaultIngestionServiceConfig())

	_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n2"}`))
	require.NoError(t, err)
	assert.Len(t, store.bySeries(models.SeriesRaw), 1)
	assert.Empty(t, store.bySeries(models.SeriesForecast))
}

func TestIngest_FailRequestPolicy(t *testing.T) {
	store := &fakeStore{}
	cfg := DefaultIngestionServiceConfig()
	cfg.Policy = PolicyFailRequest
	svc := newService(t, store, &fakeForecaster{missing: []models.Field{models.FieldHumidity}}, cfg)

	_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n3"}`))
	var unavailable *ml.ModelUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Len(t, store.bySeries(models.SeriesRaw), 1)
	assert.Empty(t, store.bySeries(models.SeriesForecast))
}

func TestIngest_SlowStoreDoesNotBlockOtherNodes(t *testing.T) {
	block := make(chan struct{})
	store := &fakeStore{blockNode: "slow", block: block}
	svc := newService(t, store, &fakeForecaster{}, IngestionServiceConfig{Workers: 4, QueueSize: 8})

	slowDone := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"slow"}`))
		slowDone <- err
	}()

	fastDone := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"fast"}`))
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fast request blocked behind slow store write")
	}

	close(block)
	assert.NoError(t, <-slowDone)
}

func TestIngest_AbandonedRequest(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	store := &fakeStore{blockNode: "n1", block: block}
	svc := newService(t, store, &fakeForecaster{}, DefaultIngestionServiceConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := svc.Ingest(ctx, []byte(`{"node_id":"n1"}`))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIngest_QueueFullIsReported(t *testing.T) {
	store := &fakeStore{}
	svc := newService(t, store, &fakeForecaster{}, IngestionServiceConfig{Workers: 1, QueueSize: 1})

	// Occupy the only worker, then fill the queue
	block := make(chan struct{})
	hold := svc.submit(context.Background(), "hold", func(context.Context) error {
		<-block
		return nil
	})
	require.Eventually(t, func() bool {
		s := svc.PoolStats()
		return s.Submitted == 1 && s.QueueDepth == 0
	}, time.Second, 5*time.Millisecond)
	fill := svc.submit(context.Background(), "fill", func(context.Context) error { return nil })

	_, err := svc.Ingest(context.Background(), []byte(`{"node_id":"n1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
	assert.Empty(t, store.writes)

	close(block)
	assert.NoError(t, <-hold)
	assert.NoError(t, <-fill)
}
