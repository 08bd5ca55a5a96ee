// Package cleanup removes orphaned media objects after their referencing
// asset records have been deleted.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/meadowfold/cattery/objectstore"
	"github.com/meadowfold/cattery/telemetry"
)

// Result summarizes one cleanup run.
type Result struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Deleted   int           `json:"deleted"`
	Failed    []string      `json:"failed,omitempty"`
}

// Agent deletes objects from the store, batched and best-effort: a key that
// cannot be confirmed deleted is logged as an operational alert, never
// surfaced as a request failure. Orphaned objects cost storage but cause no
// correctness problem.
type Agent struct {
	store  objectstore.Store
	logger *slog.Logger
	retry  time.Duration
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithLogger sets the logger for the agent.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithRetryDelay sets the pause before the single retry pass.
func WithRetryDelay(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.retry = d
	}
}

// NewAgent creates a cleanup agent over the given object store.
func NewAgent(store objectstore.Store, opts ...AgentOption) *Agent {
	a := &Agent{
		store:  store,
		logger: slog.Default(),
		retry:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Delete removes the given object keys. Invoked only after the relational
// removal of the referencing records has committed. Transient failures get
// one retry pass; whatever still fails is logged with the key list.
func (a *Agent) Delete(ctx context.Context, keys []string) Result {
	result := Result{StartedAt: time.Now()}
	if len(keys) == 0 {
		return result
	}

	failed := a.deleteBatch(ctx, keys)

	if len(failed) > 0 && ctx.Err() == nil {
		select {
		case <-time.After(a.retry):
			still := a.deleteBatch(ctx, failed)
			result.Deleted = len(keys) - len(still)
			result.Failed = still
		case <-ctx.Done():
			result.Deleted = len(keys) - len(failed)
			result.Failed = failed
		}
	} else {
		result.Deleted = len(keys) - len(failed)
		result.Failed = failed
	}

	result.Duration = time.Since(result.StartedAt)

	if len(result.Failed) > 0 {
		a.logger.Warn("cleanup could not confirm deletion",
			"deleted", result.Deleted,
			"failed", result.Failed,
			"duration", result.Duration.String(),
		)
	} else {
		a.logger.Debug("cleanup deleted objects",
			"deleted", result.Deleted,
			"duration", result.Duration.String(),
		)
	}

	telemetry.RecordCleanup(ctx, result.Deleted, len(result.Failed), result.Duration)
	return result
}

// deleteBatch issues one batched delete when the store supports it, falling
// back to per-key deletes otherwise. Returns the keys that failed.
func (a *Agent) deleteBatch(ctx context.Context, keys []string) []string {
	if bd, ok := a.store.(objectstore.BatchDeleter); ok {
		failed, err := bd.DeleteBatch(ctx, keys)
		if err != nil {
			a.logger.Warn("batch delete failed", "keys", len(keys), "error", err)
			return keys
		}
		return failed
	}

	var failed []string
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			a.logger.Warn("object delete failed", "key", key, "error", err)
			failed = append(failed, key)
		}
	}
	return failed
}
