package service

import (
	"context"
	"errors"

	"github.com/mugisham37/authcore/internal/repository"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// UserTrustChecker answers device trust questions from the user store. It
// adapts the user repository to the session manager's TrustChecker interface.
type UserTrustChecker struct {
	users repository.UserRepository
}

// NewUserTrustChecker creates a trust checker over the user repository.
func NewUserTrustChecker(users repository.UserRepository) *UserTrustChecker {
	return &UserTrustChecker{users: users}
}

// IsTrustedDevice reports whether the device id is on the user's trusted
// list. An unknown user is simply not trusted, not an error.
func (c *UserTrustChecker) IsTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsTrustedDevice(deviceID), nil
}
