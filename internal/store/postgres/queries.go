package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, timestamp, subject_id, category, source_url, message, trace,
	created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateEvent(ctx context.Context, db executor, e *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (
			id, timestamp, subject_id, category, source_url, message, trace,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9
		)`,
		e.ID,
		e.Timestamp,
		e.SubjectID,
		e.Category,
		e.SourceURL,
		e.Message,
		e.Trace,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func queryGetEvent(ctx context.Context, db executor, id string) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

// buildWhere translates the filter into WHERE clauses. Free-text filters
// use ILIKE substring matching: the primary store cannot fuzzy-rank, which
// is the accepted divergence from the search-engine path.
func buildWhere(filter model.Filter) (clauses []string, args []any) {
	nextArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Start != nil {
		clauses = append(clauses, "timestamp >= "+nextArg(*filter.Start))
	}
	if filter.End != nil {
		clauses = append(clauses, "timestamp <= "+nextArg(*filter.End))
	}
	if filter.SubjectID != "" {
		clauses = append(clauses, "subject_id = "+nextArg(filter.SubjectID))
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = "+nextArg(filter.Category))
	}
	if filter.URLSubstring != "" {
		p := nextArg(filter.URLSubstring)
		clauses = append(clauses, "source_url ILIKE '%' || "+p+" || '%'")
	}
	if filter.FreeText != "" {
		p := nextArg(filter.FreeText)
		clauses = append(clauses, fmt.Sprintf(
			"(message ILIKE '%%' || %[1]s || '%%' OR trace ILIKE '%%' || %[1]s || '%%' OR subject_id ILIKE '%%' || %[1]s || '%%' OR category ILIKE '%%' || %[1]s || '%%' OR source_url ILIKE '%%' || %[1]s || '%%')", p))
	}
	return clauses, args
}

func whereSQL(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// sortColumns whitelists columns accepted in ORDER BY.
var sortColumns = map[string]bool{
	"timestamp":  true,
	"created_at": true,
	"subject_id": true,
	"category":   true,
	"source_url": true,
}

// parseSortClause maps the filter's sort field to a safe ORDER BY clause.
// Unknown columns fall back to recency descending.
func parseSortClause(field string, desc bool) string {
	if !sortColumns[field] {
		return "timestamp DESC"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return field + " " + dir
}

func queryFindEvents(ctx context.Context, db executor, filter model.Filter) ([]*model.Event, int, error) {
	filter.Normalize()
	clauses, args := buildWhere(filter)

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + eventColumns +
		" FROM events" + whereSQL(clauses) +
		" ORDER BY " + parseSortClause(filter.SortField, filter.SortDesc)

	args = append(args, filter.PageSize)
	dataQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	if off := filter.Offset(); off > 0 {
		args = append(args, off)
		dataQuery += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("find events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	var total int
	for rows.Next() {
		e, t, err := scanEventWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan events: %w", err)
		}
		total = t
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}

	// A page past the end returns zero rows and loses the window total;
	// fetch it separately so pagination metadata stays correct.
	if len(events) == 0 {
		countQuery := "SELECT COUNT(*) FROM events" + whereSQL(clauses)
		_, countArgs := buildWhere(filter)
		if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count events: %w", err)
		}
	}

	return events, total, nil
}

func queryDistinct(ctx context.Context, db executor, field store.Field) ([]string, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("distinct: invalid field %q", field)
	}
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT "+string(field)+" FROM events ORDER BY "+string(field))
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", field, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", field, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func queryStats(ctx context.Context, db executor, filter model.Filter) (*model.Stats, error) {
	clauses, args := buildWhere(filter)
	where := whereSQL(clauses)

	stats := &model.Stats{
		CountByCategory: make(map[string]int),
		CountByURL:      make(map[string]int),
	}

	row := db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT subject_id) FROM events"+where, args...)
	if err := row.Scan(&stats.TotalCount, &stats.UniqueSubjects); err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}

	byCategory, err := queryBuckets(ctx, db, "category", where, args, 10)
	if err != nil {
		return nil, err
	}
	for _, b := range byCategory {
		stats.CountByCategory[b.Message] = b.Count
	}

	byURL, err := queryBuckets(ctx, db, "source_url", where, args, 10)
	if err != nil {
		return nil, err
	}
	for _, b := range byURL {
		stats.CountByURL[b.Message] = b.Count
	}

	stats.TopMessages, err = queryBuckets(ctx, db, "message", where, args, 5)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT to_char(date_trunc('day', timestamp), 'YYYY-MM-DD') AS day, COUNT(*)"+
			" FROM events"+where+" GROUP BY day ORDER BY day", args...)
	if err != nil {
		return nil, fmt.Errorf("stats histogram: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc model.DateCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan histogram: %w", err)
		}
		stats.CountsOverTime = append(stats.CountsOverTime, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate histogram: %w", err)
	}

	stats.FinishAverage()
	return stats, nil
}

// queryBuckets runs a GROUP BY count over one column, most frequent first.
// The column comes from the fixed call sites above, never caller input.
func queryBuckets(ctx context.Context, db executor, column, where string, args []any, limit int) ([]model.MessageCount, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT %[1]s, COUNT(*) FROM events%[2]s GROUP BY %[1]s ORDER BY COUNT(*) DESC, %[1]s LIMIT %[3]d",
			column, where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("stats by %s: %w", column, err)
	}
	defer rows.Close()

	var buckets []model.MessageCount
	for rows.Next() {
		var b model.MessageCount
		if err := rows.Scan(&b.Message, &b.Count); err != nil {
			return nil, fmt.Errorf("scan %s bucket: %w", column, err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
