package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mugisham37/authcore/internal/domain"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

const (
	sessionKeyPrefix = "session:id:"
	userIndexPrefix  = "session:user:"
	devIndexPrefix   = "session:device:"

	// sessionGrace keeps revoked and expired sessions readable for a while
	// so idempotent revocation and audit lookups still resolve them.
	sessionGrace = 24 * time.Hour
)

// SessionRepository implements repository.SessionRepository using Redis. The
// primary record is a JSON blob keyed by session id; per-user and per-device
// sets index the ids. Index entries whose primary key has expired are removed
// lazily on read.
type SessionRepository struct {
	client *redis.Client
}

// NewSessionRepository creates a new Redis-backed session repository.
func NewSessionRepository(client *redis.Client) *SessionRepository {
	return &SessionRepository{client: client}
}

// Create inserts a session and registers it in both indexes.
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt) + sessionGrace
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, data, ttl)
	pipe.SAdd(ctx, userIndexPrefix+session.UserID, session.ID)
	pipe.Expire(ctx, userIndexPrefix+session.UserID, ttl)
	if session.Device.DeviceID != "" {
		pipe.SAdd(ctx, devIndexPrefix+session.Device.DeviceID, session.ID)
		pipe.Expire(ctx, devIndexPrefix+session.Device.DeviceID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("session", id)
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// ListByUserID returns all sessions for the user, any status.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.listByIndex(ctx, userIndexPrefix+userID)
}

// ListByDeviceID returns all sessions bound to the device.
func (r *SessionRepository) ListByDeviceID(ctx context.Context, deviceID string) ([]*domain.Session, error) {
	return r.listByIndex(ctx, devIndexPrefix+deviceID)
}

func (r *SessionRepository) listByIndex(ctx context.Context, indexKey string) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list session index: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
		if err == redis.Nil {
			// Primary record aged out; drop the dangling index entry.
			r.client.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get session: %w", err)
		}
		var session domain.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// Update persists mutations to an existing session, preserving its TTL window.
func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	key := sessionKeyPrefix + session.ID
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis check session: %w", err)
	}
	if exists == 0 {
		return apperrors.NotFound("session", session.ID)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt) + sessionGrace
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis update session: %w", err)
	}
	return nil
}

// Delete removes a session from the primary store and both indexes.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.SRem(ctx, userIndexPrefix+session.UserID, id)
	if session.Device.DeviceID != "" {
		pipe.SRem(ctx, devIndexPrefix+session.Device.DeviceID, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// DeleteExpired walks the session keyspace and removes sessions past their
// absolute expiry. Redis TTLs remove most of these on their own; this sweep
// only reclaims the grace window early.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, int, error) {
	var (
		cursor  uint64
		removed int
		active  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, active, fmt.Errorf("redis scan sessions: %w", err)
		}
		for _, key := range keys {
			data, err := r.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var session domain.Session
			if err := json.Unmarshal(data, &session); err != nil {
				continue
			}
			if session.ExpiresAt.Before(cutoff) {
				if err := r.Delete(ctx, session.ID); err == nil {
					removed++
					if session.Status == domain.SessionStatusActive {
						active++
					}
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, active, nil
}
