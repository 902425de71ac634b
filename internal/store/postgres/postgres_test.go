package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// eventRowColumns is the column list for scanEvent results.
var eventRowColumns = []string{
	"id", "timestamp", "subject_id", "category", "source_url", "message", "trace",
	"created_at", "updated_at",
}

// eventWithTotalColumns is the column list for queryFindEvents results.
var eventWithTotalColumns = append([]string{"total_count"}, eventRowColumns...)

func sampleEvent(id string, now time.Time) *model.Event {
	return &model.Event{
		ID:        id,
		Timestamp: now,
		SubjectID: "u1",
		Category:  "Chrome",
		SourceURL: "https://app.example.com/checkout",
		Message:   "TypeError",
		Trace:     "at checkout.js:42",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestParseSortClause(t *testing.T) {
	for _, tc := range []struct {
		field string
		desc  bool
		want  string
	}{
		{"", false, "timestamp DESC"},
		{"timestamp", true, "timestamp DESC"},
		{"timestamp", false, "timestamp ASC"},
		{"category", true, "category DESC"},
		{"evil_column; DROP TABLE events", true, "timestamp DESC"},
	} {
		if got := parseSortClause(tc.field, tc.desc); got != tc.want {
			t.Errorf("parseSortClause(%q, %v) = %q, want %q", tc.field, tc.desc, got, tc.want)
		}
	}
}

func TestBuildWhere(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	filter := model.Filter{
		Start:        &start,
		End:          &end,
		SubjectID:    "u1",
		Category:     "Chrome",
		URLSubstring: "checkout",
		FreeText:     "TypeError",
	}

	clauses, args := buildWhere(filter)
	if len(clauses) != 6 {
		t.Fatalf("expected 6 clauses, got %d: %v", len(clauses), clauses)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if clauses[2] != "subject_id = $3" {
		t.Errorf("subject clause = %q", clauses[2])
	}

	clauses, args = buildWhere(model.Filter{})
	if len(clauses) != 0 || len(args) != 0 {
		t.Errorf("empty filter produced clauses %v args %v", clauses, args)
	}
}

func TestQueryCreateEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	e := sampleEvent("ev-1", now)

	mock.ExpectExec("INSERT INTO events").
		WithArgs(e.ID, e.Timestamp, e.SubjectID, e.Category, e.SourceURL, e.Message, e.Trace, e.CreatedAt, e.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateEvent(context.Background(), db, e); err != nil {
		t.Fatalf("queryCreateEvent: %v", err)
	}
}

func TestQueryGetEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(eventRowColumns).
		AddRow("ev-1", now, "u1", "Chrome", "https://app.example.com/x", "TypeError", "trace", now, now)
	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev-1").
		WillReturnRows(rows)

	e, err := queryGetEvent(context.Background(), db, "ev-1")
	if err != nil {
		t.Fatalf("queryGetEvent: %v", err)
	}
	if e == nil || e.ID != "ev-1" || e.Category != "Chrome" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestQueryGetEvent_Absent(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT .+ FROM events WHERE id = \\$1").WithArgs("ev-missing").
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	e, err := queryGetEvent(context.Background(), db, "ev-missing")
	if err != nil {
		t.Fatalf("queryGetEvent: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil for absent row, got %+v", e)
	}
}

func TestQueryFindEvents(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(eventWithTotalColumns).
		AddRow(2, "ev-1", now, "u1", "Chrome", "https://a/x", "TypeError", "t1", now, now).
		AddRow(2, "ev-2", now, "u2", "Chrome", "https://a/y", "RangeError", "t2", now, now)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM events WHERE category = \\$1 ORDER BY timestamp DESC LIMIT \\$2").
		WithArgs("Chrome", model.DefaultPageSize).
		WillReturnRows(rows)

	events, total, err := queryFindEvents(context.Background(), db, model.Filter{Category: "Chrome"})
	if err != nil {
		t.Fatalf("queryFindEvents: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Errorf("got total=%d len=%d", total, len(events))
	}
	if events[1].ID != "ev-2" {
		t.Errorf("unexpected row order: %+v", events[1])
	}
}

func TestQueryFindEvents_EmptyPageStillCounts(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM events ORDER BY timestamp DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(model.DefaultPageSize, model.DefaultPageSize).
		WillReturnRows(sqlmock.NewRows(eventWithTotalColumns))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	events, total, err := queryFindEvents(context.Background(), db, model.Filter{Page: 2})
	if err != nil {
		t.Fatalf("queryFindEvents: %v", err)
	}
	if len(events) != 0 || total != 7 {
		t.Errorf("got len=%d total=%d, want 0 and 7", len(events), total)
	}
}

func TestQueryDistinct(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT DISTINCT category FROM events ORDER BY category").
		WillReturnRows(sqlmock.NewRows([]string{"category"}).AddRow("Chrome").AddRow("Firefox"))

	values, err := queryDistinct(context.Background(), db, store.FieldCategory)
	if err != nil {
		t.Fatalf("queryDistinct: %v", err)
	}
	if len(values) != 2 || values[0] != "Chrome" {
		t.Errorf("unexpected values %v", values)
	}
}

func TestQueryDistinct_RejectsUnknownField(t *testing.T) {
	db, _ := newMockDB(t)

	if _, err := queryDistinct(context.Background(), db, store.Field("message; DROP TABLE events")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestQueryStats(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), COUNT\\(DISTINCT subject_id\\) FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"count", "subjects"}).AddRow(3, 2))
	mock.ExpectQuery("SELECT category, COUNT\\(\\*\\) FROM events GROUP BY category").
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).AddRow("Chrome", 2).AddRow("Firefox", 1))
	mock.ExpectQuery("SELECT source_url, COUNT\\(\\*\\) FROM events GROUP BY source_url").
		WillReturnRows(sqlmock.NewRows([]string{"source_url", "count"}).AddRow("https://a/x", 3))
	mock.ExpectQuery("SELECT message, COUNT\\(\\*\\) FROM events GROUP BY message").
		WillReturnRows(sqlmock.NewRows([]string{"message", "count"}).AddRow("TypeError", 2).AddRow("RangeError", 1))
	mock.ExpectQuery("SELECT to_char\\(date_trunc\\('day', timestamp\\), 'YYYY-MM-DD'\\) AS day, COUNT\\(\\*\\) FROM events GROUP BY day ORDER BY day").
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).AddRow("2026-03-01", 3))

	stats, err := queryStats(context.Background(), db, model.Filter{})
	if err != nil {
		t.Fatalf("queryStats: %v", err)
	}
	if stats.TotalCount != 3 || stats.UniqueSubjects != 2 {
		t.Errorf("totals = %d/%d", stats.TotalCount, stats.UniqueSubjects)
	}
	if stats.CountByCategory["Chrome"] != 2 {
		t.Errorf("by category = %v", stats.CountByCategory)
	}
	if stats.AveragePerSubject != 1.5 {
		t.Errorf("average = %v", stats.AveragePerSubject)
	}
	if len(stats.CountsOverTime) != 1 || stats.CountsOverTime[0].Date != "2026-03-01" {
		t.Errorf("histogram = %v", stats.CountsOverTime)
	}
}
