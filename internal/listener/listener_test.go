package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-gateway/internal/models"
	"iot-gateway/internal/services"
)

// fakeIngester decodes like the real pipeline and fails writes on demand
type fakeIngester struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, body []byte) (*services.Outcome, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	rec, err := services.DecodeRecord(body, false)
	if err != nil {
		return nil, err
	}
	if f.err != nil {
		return &services.Outcome{Record: rec}, f.err
	}
	return &services.Outcome{Record: rec, ForecastPoints: 288}, nil
}

func (f *fakeIngester) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *fakeRecorder) RequestHandled(protocol, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[protocol+"/"+status]++
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusAccepted, Classify(nil))
	assert.Equal(t, StatusBadRequest, Classify(&services.DecodeError{Reason: "bad"}))
	assert.Equal(t, StatusBadRequest, Classify(fmt.Errorf("wrapped: %w", &services.DecodeError{Reason: "bad"})))
	assert.Equal(t, StatusServerError, Classify(errors.New("store down")))
}

func TestIngestPaths(t *testing.T) {
	assert.Equal(t, []string{"/sensors", "/data"}, ingestPaths("sensors"))
	assert.Equal(t, []string{"/data"}, ingestPaths("data"))
}

func TestNew_SelectsExactlyOneListener(t *testing.T) {
	opts := Options{Addr: "127.0.0.1:0", DataPath: "sensors", Ingester: &fakeIngester{}}

	l, err := New("coap", opts)
	require.NoError(t, err)
	assert.Equal(t, "coap", l.Name())

	l, err = New("http", opts)
	require.NoError(t, err)
	assert.Equal(t, "http", l.Name())

	_, err = New("mqtt", opts)
	assert.Error(t, err)
}

func TestHandler_RecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	h := &handler{protocol: "http", ingester: &fakeIngester{err: errors.New("down")}, recorder: rec}

	assert.Equal(t, StatusServerError, h.handle(context.Background(), []byte(`{"node_id":"n1"}`)))
	assert.Equal(t, StatusBadRequest, h.handle(context.Background(), []byte(`{`)))
	assert.Equal(t, 1, rec.counts["http/server_error"])
	assert.Equal(t, 1, rec.counts["http/bad_request"])
}

func TestNodeID(t *testing.T) {
	out := &services.Outcome{Record: models.TelemetryRecord{NodeID: "n9"}}
	assert.Equal(t, "n9", nodeID(out, nil))
	assert.Equal(t, "n5", nodeID(nil, []byte(`{"node_id":"n5"}`)))
	assert.Equal(t, "", nodeID(nil, []byte(`garbage`)))
}
