package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// WriteObserver is told about every guarded write
type WriteObserver func(series string, elapsed time.Duration, err error)

// GuardConfig controls the Guard decorator
type GuardConfig struct {
	Timeout  time.Duration
	Failures uint32
	Cooldown time.Duration
	Observer WriteObserver
}

// Guard bounds every write with a timeout and fails fast through a circuit
// breaker while the backend keeps failing. Each series has its own breaker so
// a failing raw series never blocks forecast writes. Errors are wrapped in
// *WriteError.
type Guard struct {
	next     Store
	timeout  time.Duration
	settings gobreaker.Settings
	observer WriteObserver

	mu       sync.Mutex
	circuits map[string]*gobreaker.CircuitBreaker
}

// NewGuard wraps a store
func NewGuard(next Store, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	failures := cfg.Failures
	return &Guard{
		next:    next,
		timeout: cfg.Timeout,
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("Store: Circuit %s changed from %s to %s", name, from, to)
			},
		},
		observer: cfg.Observer,
		circuits: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// circuit returns the breaker for a series, creating it on first use
func (g *Guard) circuit(series string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.circuits[series]
	if !ok {
		settings := g.settings
		settings.Name = series
		cb = gobreaker.NewCircuitBreaker(settings)
		g.circuits[series] = cb
	}
	return cb
}

// WritePoint writes a single point through the guard
func (g *Guard) WritePoint(ctx context.Context, series string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	return g.do(ctx, series, func(ctx context.Context) error {
		return g.next.WritePoint(ctx, series, tags, fields, ts)
	})
}

// WriteBatch writes a batch through the guard
func (g *Guard) WriteBatch(ctx context.Context, series string, tags map[string]string, rows []Row) error {
	return g.do(ctx, series, func(ctx context.Context) error {
		return g.next.WriteBatch(ctx, series, tags, rows)
	})
}

// Close closes the wrapped store
func (g *Guard) Close() error {
	return g.next.Close()
}

// State reports the circuit breaker state for a series
func (g *Guard) State(series string) gobreaker.State {
	return g.circuit(series).State()
}

func (g *Guard) do(ctx context.Context, series string, write func(context.Context) error) error {
	start := time.Now()
	_, err := g.circuit(series).Execute(func() (interface{}, error) {
		return nil, g.withTimeout(ctx, write)
	})
	if g.observer != nil {
		g.observer(series, time.Since(start), err)
	}
	if err != nil {
		return &WriteError{Series: series, Err: err}
	}
	return nil
}

// withTimeout returns when the write finishes or the deadline passes,
// whichever is first, even if the backend ignores its context.
func (g *Guard) withTimeout(ctx context.Context, write func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- write(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("store write abandoned after %s: %w", g.timeout, ctx.Err())
	}
}
