package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "accounts/pkg/domain"
	audit "accounts/pkg/platform/audit"
)

// Store persists the audit trail in the audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append is idempotent on the event id.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	event = event.Normalize(time.Now())
	query := `
		INSERT INTO audit_events (id, correlation_id, category, action, subject, reason, client_ip, device, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.CorrelationID.String(),
		string(event.Category),
		string(event.Action),
		event.Subject,
		event.Reason,
		event.ClientIP,
		event.Device,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByCorrelation(ctx context.Context, correlationID id.CorrelationID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, category, action, subject, reason, client_ip, device, occurred_at
		FROM audit_events
		WHERE correlation_id = $1
		ORDER BY occurred_at, id
	`, correlationID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			rawID    string
			rawCorr  string
			category string
			action   string
		)
		if err := rows.Scan(&rawID, &rawCorr, &category, &action, &e.Subject, &e.Reason, &e.ClientIP, &e.Device, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if e.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("stored audit id: %w", err)
		}
		if e.CorrelationID, err = id.ParseCorrelationID(rawCorr); err != nil {
			return nil, fmt.Errorf("stored correlation id: %w", err)
		}
		e.Category = audit.EventCategory(category)
		e.Action = audit.AuditEvent(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
