package search

import (
	"context"
	"log/slog"

	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/store"
)

// Adapter fronts an Engine with the primary store as fallback. Reads that
// fail on the engine are retried against the store with a warning, so a
// degraded search tier degrades ranking, never availability. Indexing is
// best-effort; a failed write is logged and skipped, the document catches up
// on the next index of the same event.
type Adapter struct {
	engine Engine
	store  store.Store
	logger *slog.Logger
}

// NewAdapter wires engine (may be nil to run store-only) and store together.
func NewAdapter(engine Engine, st store.Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, store: st, logger: logger}
}

// EnsureIndex prepares the engine's index. Failure is reported but not
// fatal; queries fall back until the engine recovers.
func (a *Adapter) EnsureIndex(ctx context.Context) {
	if a.engine == nil {
		return
	}
	if err := a.engine.EnsureIndex(ctx); err != nil {
		a.logger.Warn("failed to ensure search index", "error", err)
	}
}

// Index writes the event to the search engine, best-effort.
func (a *Adapter) Index(ctx context.Context, event *model.Event) {
	if a.engine == nil {
		return
	}
	if err := a.engine.Index(ctx, event); err != nil {
		a.logger.Warn("failed to index event", "event_id", event.ID, "error", err)
	}
}

// Search queries the engine, falling back to the primary store on failure.
// Fallback results use substring matching, so ranking may differ from the
// engine's relevance order.
func (a *Adapter) Search(ctx context.Context, filter model.Filter) ([]*model.Event, int, error) {
	if a.engine != nil {
		events, total, err := a.engine.Search(ctx, filter)
		if err == nil {
			return events, total, nil
		}
		a.logger.Warn("search engine query failed, falling back to store", "error", err)
	}
	return a.store.FindEvents(ctx, filter)
}

// Stats aggregates on the engine, falling back to the primary store.
func (a *Adapter) Stats(ctx context.Context, filter model.Filter) (*model.Stats, error) {
	if a.engine != nil {
		stats, err := a.engine.Stats(ctx, filter)
		if err == nil {
			return stats, nil
		}
		a.logger.Warn("search engine stats failed, falling back to store", "error", err)
	}
	return a.store.Stats(ctx, filter)
}

// Close releases the engine, if any.
func (a *Adapter) Close() error {
	if a.engine == nil {
		return nil
	}
	return a.engine.Close()
}
