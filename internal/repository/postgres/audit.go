package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
	"github.com/mugisham37/authcore/pkg/database"
)

// AuditEventRepository implements append-only audit storage using PostgreSQL.
type AuditEventRepository struct {
	db DB
}

// NewAuditEventRepository creates a new PostgreSQL-backed audit event repository.
func NewAuditEventRepository(db DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// Append stores an audit event. Details and metadata are stored as JSONB.
func (r *AuditEventRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (event_id, event_type, severity, timestamp, user_id, session_id,
			ip_address, user_agent, resource, action, result, details, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "AppendAuditEvent", query)
	_, err = r.db.Exec(ctx, query,
		event.EventID,
		string(event.EventType),
		string(event.Severity),
		event.Timestamp,
		event.UserID,
		event.SessionID,
		event.IPAddress,
		event.UserAgent,
		event.Resource,
		event.Action,
		event.Result,
		details,
		metadata,
	)
	end(err)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// filterConds renders the filter as SQL conditions with positional args.
func filterConds(filter repository.AuditFilter) (conds []string, args []any) {
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "timestamp <= "+arg(filter.To))
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, 0, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			types = append(types, string(t))
		}
		conds = append(conds, "event_type = ANY("+arg(types)+")")
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = "+arg(filter.UserID))
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = "+arg(string(filter.Severity)))
	}
	return conds, args
}

// Query returns events matching the filter, newest first.
func (r *AuditEventRepository) Query(ctx context.Context, filter repository.AuditFilter) ([]*domain.AuditEvent, error) {
	conds, args := filterConds(filter)

	query := `
		SELECT event_id, event_type, severity, timestamp, user_id, session_id,
			ip_address, user_agent, resource, action, result, details, metadata
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit == 0 {
		limit = 1000
	}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	ctx, end := database.TraceQuery(ctx, "QueryAuditEvents", query)
	rows, err := r.db.Query(ctx, query, args...)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var (
			e                 domain.AuditEvent
			eventType, sev    string
			details, metadata []byte
		)
		if err := rows.Scan(
			&e.EventID,
			&eventType,
			&sev,
			&e.Timestamp,
			&e.UserID,
			&e.SessionID,
			&e.IPAddress,
			&e.UserAgent,
			&e.Resource,
			&e.Action,
			&e.Result,
			&details,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("scan audit event row: %w", err)
		}
		e.EventType = domain.AuditEventType(eventType)
		e.Severity = domain.AuditSeverity(sev)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit event rows: %w", err)
	}

	if events == nil {
		events = []*domain.AuditEvent{}
	}
	return events, nil
}

// Count returns the number of events matching the filter, ignoring Limit
// and Offset.
func (r *AuditEventRepository) Count(ctx context.Context, filter repository.AuditFilter) (int, error) {
	conds, args := filterConds(filter)

	query := `SELECT count(*) FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// Prune removes events older than the cutoff.
func (r *AuditEventRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM audit_events WHERE timestamp <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
