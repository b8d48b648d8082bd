package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
)

// Publisher forwards audit events to an external stream. Implemented by the
// Kafka producer in internal/event; nil disables publishing.
type Publisher interface {
	PublishSecurityEvent(ctx context.Context, event *domain.AuditEvent) error
}

// Entry carries the caller-supplied fields of an audit event.
type Entry struct {
	Type      domain.AuditEventType
	Severity  domain.AuditSeverity
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	Resource  string
	Action    string
	Result    string
	Details   map[string]any
	Metadata  map[string]any
}

// Logger records structured security events. A storage or publish failure is
// logged and swallowed: audit logging must never abort the operation that
// emitted the event.
type Logger struct {
	store     repository.AuditEventRepository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLogger creates an audit logger over the given store. publisher may be nil.
func NewLogger(store repository.AuditEventRepository, publisher Publisher, logger *slog.Logger) *Logger {
	return &Logger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// LogEvent builds, stores, and publishes an audit event, returning it with
// its deterministic id. The returned event is non-nil even when persistence
// failed, so callers can keep going.
func (l *Logger) LogEvent(ctx context.Context, entry Entry) *domain.AuditEvent {
	ts := l.now().UTC()
	event := &domain.AuditEvent{
		EventID:   domain.AuditEventID(entry.Type, ts, entry.UserID),
		EventType: entry.Type,
		Severity:  entry.Severity,
		Timestamp: ts,
		UserID:    entry.UserID,
		SessionID: entry.SessionID,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Resource:  entry.Resource,
		Action:    entry.Action,
		Result:    entry.Result,
		Details:   entry.Details,
		Metadata:  entry.Metadata,
	}

	if err := l.store.Append(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "failed to store audit event",
			slog.String("event_id", event.EventID),
			slog.String("event_type", string(event.EventType)),
			slog.String("error", err.Error()),
		)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishSecurityEvent(ctx, event); err != nil {
			l.logger.ErrorContext(ctx, "failed to publish audit event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", string(event.EventType)),
				slog.String("error", err.Error()),
			)
		}
	}

	return event
}

// Query returns events matching the filter, newest first, capped at 1000
// unless the filter narrows it further.
func (l *Logger) Query(ctx context.Context, filter repository.AuditFilter) ([]*domain.AuditEvent, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter, ignoring the
// filter's Limit and Offset.
func (l *Logger) Count(ctx context.Context, filter repository.AuditFilter) (int, error) {
	return l.store.Count(ctx, filter)
}

// Prune removes events older than the retention cutoff.
func (l *Logger) Prune(ctx context.Context, retention time.Duration) (int, error) {
	return l.store.Prune(ctx, l.now().UTC().Add(-retention))
}

// WithClock overrides the logger's time source. Tests only.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}
