package store

import (
	"context"

	"github.com/errsight/errsight/internal/model"
)

// Field names a column usable with Distinct. A closed set keeps column
// names out of caller hands.
type Field string

const (
	FieldSubjectID Field = "subject_id"
	FieldCategory  Field = "category"
	FieldSourceURL Field = "source_url"
)

// Valid reports whether f is a member of the closed field set.
func (f Field) Valid() bool {
	switch f {
	case FieldSubjectID, FieldCategory, FieldSourceURL:
		return true
	}
	return false
}

// Store is the authoritative persistence interface for events. It is the
// source of truth: search-index and cache contents are projections of it.
type Store interface {
	// CreateEvent persists a new event. The event's ID and timestamps must
	// already be populated by the caller.
	CreateEvent(ctx context.Context, event *model.Event) error

	// GetEvent returns the event with the given id, or (nil, nil) when absent.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// FindEvents returns one page of events matching the filter plus the
	// total match count. Free-text filters degrade to substring matching;
	// this is the search-engine fallback path.
	FindEvents(ctx context.Context, filter model.Filter) ([]*model.Event, int, error)

	// Distinct returns the sorted distinct values of the given field.
	Distinct(ctx context.Context, field Field) ([]string, error)

	// Stats computes the aggregate view for the filtered set. Used when the
	// search engine is unavailable.
	Stats(ctx context.Context, filter model.Filter) (*model.Stats, error)

	// Lifecycle
	Close() error
}
