package postgres

import (
	"database/sql"
	"errors"

	"github.com/errsight/errsight/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
// An absent row yields (nil, nil).
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID,
		&e.Timestamp,
		&e.SubjectID,
		&e.Category,
		&e.SourceURL,
		&e.Message,
		&e.Trace,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// scanEventWithTotal scans a row that has a leading total_count column.
func scanEventWithTotal(row scannable) (*model.Event, int, error) {
	var e model.Event
	var total int
	err := row.Scan(
		&total,
		&e.ID,
		&e.Timestamp,
		&e.SubjectID,
		&e.Category,
		&e.SourceURL,
		&e.Message,
		&e.Trace,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	return &e, total, nil
}
