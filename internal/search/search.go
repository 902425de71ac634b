// Package search provides full-text lookup and aggregation over events. A
// typed boolean query DSL is built from the domain filter and executed by an
// Engine; the Adapter falls back to the primary store when the engine is
// down so reads never fail on a degraded search tier.
package search

import (
	"context"

	"github.com/errsight/errsight/internal/model"
)

// Engine executes queries against a search index.
type Engine interface {
	// EnsureIndex creates the event index if it does not exist yet.
	EnsureIndex(ctx context.Context) error
	// Index writes one event document, replacing any previous version.
	Index(ctx context.Context, event *model.Event) error
	// Search returns the matching page of events and the total match count.
	Search(ctx context.Context, filter model.Filter) ([]*model.Event, int, error)
	// Stats computes the aggregation summary for the filtered set.
	Stats(ctx context.Context, filter model.Filter) (*model.Stats, error)
	Close() error
}
