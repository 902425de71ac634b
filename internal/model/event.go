package model

import "time"

// Event is a single ingested error event. Events are immutable: they are
// written once by the create path and never updated in place. Retention is
// handled outside this service (store-level TTL expiry).
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SubjectID string    `json:"subject_id"`
	Category  string    `json:"category"`
	SourceURL string    `json:"source_url"`
	Message   string    `json:"message"`
	Trace     string    `json:"trace"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventCreate is the payload accepted by the create path, both from direct
// callers and from the message bus.
type EventCreate struct {
	Timestamp time.Time `json:"timestamp"`
	SubjectID string    `json:"subject_id"`
	Category  string    `json:"category"`
	SourceURL string    `json:"source_url"`
	Message   string    `json:"message"`
	Trace     string    `json:"trace"`
}
