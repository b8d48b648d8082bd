package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost bounds accepted by bcrypt.
const (
	MinCost     = 4
	MaxCost     = 31
	DefaultCost = 12
)

// MaxPasswordBytes is bcrypt's input limit. GenerateFromPassword rejects
// anything longer, so no policy may accept passwords above this.
const MaxPasswordBytes = 72

// Hasher performs one-way password hashing with a configurable work factor.
type Hasher struct {
	cost int
}

// NewHasher creates a hasher with the given bcrypt cost. Costs outside the
// supported range fall back to the default.
func NewHasher(cost int) *Hasher {
	if cost < MinCost || cost > MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of the password.
func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether the password matches the stored hash. The comparison
// is constant-time inside bcrypt, and a malformed hash yields false rather
// than an error so callers cannot distinguish the two cases.
func (h *Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
