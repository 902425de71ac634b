// Package archive periodically exports the event store as JSONL to external
// destinations, giving the data a life outside the service's own retention.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every event in the store as JSONL to w, oldest first,
// preceded by a header record with the export metadata.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	var events []*model.Event
	filter := model.Filter{
		Page:      1,
		PageSize:  model.MaxPageSize,
		SortField: "timestamp",
	}
	for {
		page, total, err := s.FindEvents(ctx, filter)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		events = append(events, page...)
		if len(events) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: len(events),
	}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range events {
		if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
			return fmt.Errorf("write event %s: %w", e.ID, err)
		}
	}
	return nil
}
