package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mugisham37/authcore/internal/domain"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

const challengeKeyPrefix = "mfa:challenge:"

// challengeGrace keeps resolved challenges readable briefly after expiry so
// late verification attempts get a precise "expired" answer instead of a 404.
const challengeGrace = time.Hour

// ChallengeRepository implements repository.ChallengeRepository using Redis.
// Challenges are stored as hashes rather than JSON blobs so the attempt
// counter can be incremented atomically with HINCRBY.
type ChallengeRepository struct {
	client *redis.Client
}

// NewChallengeRepository creates a new Redis-backed challenge repository.
func NewChallengeRepository(client *redis.Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

// Create inserts a new challenge.
func (r *ChallengeRepository) Create(ctx context.Context, ch *domain.MFAChallenge) error {
	key := challengeKeyPrefix + ch.ID

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis check challenge: %w", err)
	}
	if exists > 0 {
		return apperrors.AlreadyExists("challenge", "id", ch.ID)
	}

	fields, err := challengeFields(ch)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, time.Until(ch.ExpiresAt)+challengeGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create challenge: %w", err)
	}
	return nil
}

// GetByID retrieves a challenge by id.
func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*domain.MFAChallenge, error) {
	vals, err := r.client.HGetAll(ctx, challengeKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get challenge: %w", err)
	}
	if len(vals) == 0 {
		return nil, apperrors.NotFound("challenge", id)
	}
	return challengeFromFields(vals)
}

// Update replaces the mutable fields of an existing challenge.
func (r *ChallengeRepository) Update(ctx context.Context, ch *domain.MFAChallenge) error {
	key := challengeKeyPrefix + ch.ID

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis check challenge: %w", err)
	}
	if exists == 0 {
		return apperrors.NotFound("challenge", ch.ID)
	}

	fields, err := challengeFields(ch)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis update challenge: %w", err)
	}
	return nil
}

// IncrementAttempts atomically bumps the attempt counter via HINCRBY and
// returns the new value.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	key := challengeKeyPrefix + id

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis check challenge: %w", err)
	}
	if exists == 0 {
		return 0, apperrors.NotFound("challenge", id)
	}

	n, err := r.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis increment attempts: %w", err)
	}
	return int(n), nil
}

// DeleteExpired is a no-op: challenge keys carry a TTL and Redis removes them
// on its own once the grace window passes.
func (r *ChallengeRepository) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func challengeFields(ch *domain.MFAChallenge) (map[string]any, error) {
	metadata, err := json.Marshal(ch.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode challenge metadata: %w", err)
	}
	return map[string]any{
		"id":           ch.ID,
		"user_id":      ch.UserID,
		"method":       string(ch.Method),
		"status":       string(ch.Status),
		"code":         ch.Code,
		"destination":  ch.Destination,
		"attempts":     ch.Attempts,
		"max_attempts": ch.MaxAttempts,
		"metadata":     metadata,
		"created_at":   ch.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":   ch.ExpiresAt.Format(time.RFC3339Nano),
	}, nil
}

func challengeFromFields(vals map[string]string) (*domain.MFAChallenge, error) {
	ch := &domain.MFAChallenge{
		ID:          vals["id"],
		UserID:      vals["user_id"],
		Method:      domain.MFAMethod(vals["method"]),
		Status:      domain.ChallengeStatus(vals["status"]),
		Code:        vals["code"],
		Destination: vals["destination"],
	}

	var err error
	if ch.Attempts, err = strconv.Atoi(vals["attempts"]); err != nil {
		return nil, fmt.Errorf("decode challenge attempts: %w", err)
	}
	if ch.MaxAttempts, err = strconv.Atoi(vals["max_attempts"]); err != nil {
		return nil, fmt.Errorf("decode challenge max attempts: %w", err)
	}
	if ch.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return nil, fmt.Errorf("decode challenge created_at: %w", err)
	}
	if ch.ExpiresAt, err = time.Parse(time.RFC3339Nano, vals["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode challenge expires_at: %w", err)
	}
	if raw := vals["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &ch.Metadata); err != nil {
			return nil, fmt.Errorf("decode challenge metadata: %w", err)
		}
	}
	return ch, nil
}
