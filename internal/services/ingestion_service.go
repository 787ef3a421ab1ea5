package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"

	"iot-gateway/internal/database"
	"iot-gateway/internal/models"
	"iot-gateway/internal/worker"
)

// ModelPolicy decides what an unavailable forecast model does to a request
type ModelPolicy string

const (
	// PolicySkipField drops the field from the forecast batch; the request succeeds
	PolicySkipField ModelPolicy = "skip-field"
	// PolicyFailRequest skips the forecast write and fails the request
	PolicyFailRequest ModelPolicy = "fail-request"
)

// Forecaster produces the forecast batch for one reading
type Forecaster interface {
	Batch(nodeID string, now time.Time) (models.ForecastBatch, error)
}

// Observer is told about forecast fields that could not be produced
type Observer interface {
	ForecastSkipped(field models.Field)
}

// IngestionServiceConfig holds configuration for the ingestion pipeline
type IngestionServiceConfig struct {
	Strict    bool
	Policy    ModelPolicy
	Workers   int
	QueueSize int
}

// DefaultIngestionServiceConfig returns default configuration
func DefaultIngestionServiceConfig() IngestionServiceConfig {
	return IngestionServiceConfig{
		Policy:    PolicySkipField,
		Workers:   8,
		QueueSize: 256,
	}
}

// Outcome describes what one ingestion did
type Outcome struct {
	Record         models.TelemetryRecord
	ForecastPoints int
	SkippedFields  []models.Field
}

// job is one unit of store or model-file I/O run on the pool
type job struct {
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

// IngestionService decodes readings and persists them with their forecast
type IngestionService struct {
	store      database.Store
	forecaster Forecaster
	observer   Observer
	config     IngestionServiceConfig
	pool       *worker.Pool[job]

	now func() time.Time
}

// NewIngestionService creates a new ingestion service; call Start before Ingest
func NewIngestionService(
	store database.Store,
	forecaster Forecaster,
	observer Observer,
	config IngestionServiceConfig,
) *IngestionService {
	if config.Policy == "" {
		config.Policy = PolicySkipField
	}
	return &IngestionService{
		store:      store,
		forecaster: forecaster,
		observer:   observer,
		config:     config,
		pool: worker.NewPool[job](config.Workers, config.QueueSize, func(_ context.Context, j job) error {
			err := j.run(j.ctx)
			j.done <- err
			return err
		}),
		now: time.Now,
	}
}

// Start launches the I/O workers. They keep running after ctx is cancelled
// until Stop drains the queue, so every accepted job reports back.
func (s *IngestionService) Start(ctx context.Context) error {
	log.Printf("IngestionService: Starting (policy=%s, strict=%v)", s.config.Policy, s.config.Strict)
	return s.pool.Start(context.WithoutCancel(ctx))
}

// Stop waits up to timeout for in-flight writes to finish
func (s *IngestionService) Stop(timeout time.Duration) error {
	log.Println("IngestionService: Stopping...")
	return s.pool.Stop(timeout)
}

// PoolStats exposes the worker pool counters
func (s *IngestionService) PoolStats() worker.Stats {
	return s.pool.Stats()
}

// Ingest runs the whole pipeline for one request body. A *DecodeError means
// nothing was written. Otherwise the raw write and the forecast write are both
// attempted and every failure is returned together.
func (s *IngestionService) Ingest(ctx context.Context, body []byte) (*Outcome, error) {
	rec, err := DecodeRecord(body, s.config.Strict)
	if err != nil {
		return nil, err
	}
	rec.ObservedAt = s.now().UTC()

	out := &Outcome{Record: rec}

	rawDone := s.submit(ctx, "raw write", func(ctx context.Context) error {
		return s.store.WritePoint(ctx, models.SeriesRaw, rec.Tags(), rec.StoreFields(), rec.ObservedAt)
	})
	forecastDone := s.submit(ctx, "forecast", func(ctx context.Context) error {
		return s.writeForecast(ctx, rec, out)
	})

	var result *multierror.Error
	abandoned := false
	wait := func(done <-chan error) error {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			abandoned = true
			return fmt.Errorf("request abandoned: %w", ctx.Err())
		}
	}

	if err := wait(rawDone); err != nil {
		log.Printf("IngestionService: Raw write for node %q failed: %v", rec.NodeID, err)
		result = multierror.Append(result, err)
	}
	if err := wait(forecastDone); err != nil {
		log.Printf("IngestionService: Forecast for node %q failed: %v", rec.NodeID, err)
		result = multierror.Append(result, err)
	}

	// An abandoned job may still be filling out
	if abandoned {
		return nil, result.ErrorOrNil()
	}
	return out, result.ErrorOrNil()
}

// submit queues fn and returns the channel its result arrives on
func (s *IngestionService) submit(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	if err := s.pool.Submit(job{ctx: ctx, run: fn, done: done}); err != nil {
		done <- fmt.Errorf("%s rejected: %w", name, err)
	}
	return done
}

func (s *IngestionService) writeForecast(ctx context.Context, rec models.TelemetryRecord, out *Outcome) error {
	batch, err := s.forecaster.Batch(rec.NodeID, rec.ObservedAt)
	out.SkippedFields = batch.Skipped
	if s.observer != nil {
		for _, f := range batch.Skipped {
			s.observer.ForecastSkipped(f)
		}
	}
	if err != nil {
		if s.config.Policy == PolicyFailRequest {
			return fmt.Errorf("forecast unavailable: %w", err)
		}
		log.Printf("IngestionService: Forecast for node %q continues without %v", rec.NodeID, batch.Skipped)
	}

	if batch.Empty() {
		log.Printf("IngestionService: No forecast fields available for node %q, skipping forecast write", rec.NodeID)
		return nil
	}

	rows := make([]database.Row, 0, len(batch.Points))
	for _, p := range batch.Points {
		fields := make(map[string]interface{}, len(p.Values))
		for f, v := range p.Values {
			fields[string(f)] = v
		}
		rows = append(rows, database.Row{Timestamp: p.ObservedAt, Fields: fields})
	}

	if err := s.store.WriteBatch(ctx, models.SeriesForecast, rec.Tags(), rows); err != nil {
		return err
	}
	out.ForecastPoints = len(rows)
	return nil
}
