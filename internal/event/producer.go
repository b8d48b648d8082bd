package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mugisham37/authcore/internal/domain"
	pkgkafka "github.com/mugisham37/authcore/pkg/kafka"
)

// Kafka topic constants for security events.
const (
	TopicSecurityEvents = "authcore.security.events"
	TopicUserRegistered = "authcore.user.registered"
)

// Aggregate type constants.
const (
	AggregateTypeSecurityEvent = "security_event"
	AggregateTypeUser          = "user"
)

// Source identifier for events originating from the auth core.
const SourceAuthCore = "authcore"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Producer publishes auth events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth core.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishSecurityEvent publishes an audit event to the security stream.
// The audit event id doubles as the aggregate id, so downstream consumers
// can deduplicate replays.
func (p *Producer) PublishSecurityEvent(ctx context.Context, event *domain.AuditEvent) error {
	msg, err := pkgkafka.NewEvent(string(event.EventType), event.EventID, AggregateTypeSecurityEvent, SourceAuthCore, event)
	if err != nil {
		return fmt.Errorf("create security event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicSecurityEvents, msg); err != nil {
		return fmt.Errorf("publish security event: %w", err)
	}

	p.logger.DebugContext(ctx, "published security event",
		slog.String("event_id", event.EventID),
		slog.String("event_type", string(event.EventType)),
	)

	return nil
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	}

	event, err := pkgkafka.NewEvent(TopicUserRegistered, user.ID, AggregateTypeUser, SourceAuthCore, data)
	if err != nil {
		return fmt.Errorf("create user.registered event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.registered event",
		slog.String("user_id", user.ID),
	)

	return nil
}
