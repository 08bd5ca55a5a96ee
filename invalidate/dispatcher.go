package invalidate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meadowfold/cattery"
	"github.com/meadowfold/cattery/telemetry"
)

// DefaultDispatchTimeout bounds one full dispatch: every regeneration
// plus the purge batch.
const DefaultDispatchTimeout = 2 * time.Minute

// Renderer regenerates a single public path.
type Renderer interface {
	Render(ctx context.Context, path string) error
}

// Purger purges a batch of paths from the edge cache.
type Purger interface {
	Purge(ctx context.Context, paths []string) error
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used by the dispatcher.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithProduction enables CDN purging. Outside production the purge step
// is skipped so development mutations never touch the live edge cache.
func WithProduction(production bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.production = production
	}
}

// WithDispatchTimeout overrides the per-dispatch deadline.
func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// Dispatcher consumes invalidation requests produced by mutations and
// runs them in the background. The caller never waits: regeneration and
// purge failures are logged and counted but have no way to fail the
// mutation that has already committed.
type Dispatcher struct {
	renderer   Renderer
	purger     Purger
	production bool
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher. purger may be nil when no CDN is
// configured.
func NewDispatcher(renderer Renderer, purger Purger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		renderer: renderer,
		purger:   purger,
		timeout:  DefaultDispatchTimeout,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.With("component", "invalidate")

	return d
}

// Dispatch schedules the request in the background and returns
// immediately. The request's paths are regenerated one by one; failures
// are independent, one bad path never blocks the rest. When production
// purging is enabled, all paths then go to the CDN as one batch.
func (d *Dispatcher) Dispatch(ctx context.Context, req cattery.InvalidationRequest) {
	if req.Empty() {
		return
	}

	// Detach from the request context: the mutation response does not
	// wait for regeneration.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, req)
	}()
}

// Wait blocks until all in-flight dispatches have finished. Called on
// shutdown so a terminating server drains its invalidation work.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, req cattery.InvalidationRequest) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	paths := req.Paths()

	failed := 0
	for _, path := range paths {
		if err := d.renderer.Render(ctx, path); err != nil {
			failed++
			d.logger.Warn("page regeneration failed", "path", path, "error", err)
		}
	}

	if d.production && d.purger != nil {
		if err := d.purger.Purge(ctx, paths); err != nil {
			d.logger.Warn("cdn purge failed", "paths", len(paths), "error", err)
		}
	}

	duration := time.Since(start)
	telemetry.RecordInvalidation(ctx, len(paths), failed, duration)

	if failed > 0 {
		d.logger.Warn("invalidation finished with failures",
			"paths", len(paths), "failed", failed, "duration", duration)
		return
	}

	d.logger.Debug("invalidation finished",
		"paths", len(paths), "duration", duration)
}
