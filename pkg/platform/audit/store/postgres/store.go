package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	audit "votegate/pkg/platform/audit"
	"votegate/pkg/platform/tx"
)

// Store is an audit sink backed by the audit_events table. It is used when
// no Kafka brokers are configured.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertColumns = 9

// Write inserts a batch in one statement. Replayed events are ignored by ID.
func (s *Store) Write(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO audit_events
		(id, category, timestamp, action, subject, ip, reason, request_id, actor_id)
		VALUES `)
	args := make([]any, 0, len(events)*insertColumns)
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * insertColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9)
		args = append(args, e.ID, string(e.Category), e.Timestamp, e.Action,
			e.Subject, e.IP, e.Reason, e.RequestID, e.ActorID)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")

	if _, err := tx.Executor(ctx, s.db).ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert audit events: %w", err)
	}
	return nil
}

// ListRecent returns the newest events, optionally narrowed to one category.
func (s *Store) ListRecent(ctx context.Context, category audit.EventCategory, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, category, timestamp, action, subject, ip, reason, request_id, actor_id
		FROM audit_events
		WHERE ($1 = '' OR category = $1)
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, query, string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
		)
		if err := rows.Scan(&e.ID, &category, &e.Timestamp, &e.Action, &e.Subject,
			&e.IP, &e.Reason, &e.RequestID, &e.ActorID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
