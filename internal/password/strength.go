package password

import (
	"fmt"
	"strings"
	"unicode"
)

// Policy configures password strength requirements.
type Policy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// DefaultPolicy returns the baseline password policy.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:        8,
		MaxLength:        MaxPasswordBytes,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

// UserInfo carries the identity fields a password must not contain.
type UserInfo struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// StrengthResult is the structured outcome of a strength validation.
// Warnings do not make the password invalid; errors do.
type StrengthResult struct {
	Valid    bool     `json:"valid"`
	Score    int      `json:"score"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// lengthBonusThreshold is the length at which the score earns its bonus point.
const lengthBonusThreshold = 12

// maxScore caps the strength score.
const maxScore = 5

// repeatRunWarning is the run length of identical characters that triggers a warning.
const repeatRunWarning = 4

// ValidateStrength checks the password against the policy and the user's
// identity fields, returning a score from 0 to 5. Policy violations are
// errors; weak-but-acceptable patterns are warnings.
func (p Policy) ValidateStrength(password string, user UserInfo) StrengthResult {
	res := StrengthResult{}

	if len(password) < p.MinLength {
		res.Errors = append(res.Errors, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	// The hasher cannot process inputs over MaxPasswordBytes, so the cap
	// holds even under a policy configured with a larger MaxLength.
	maxLen := p.MaxLength
	if maxLen <= 0 || maxLen > MaxPasswordBytes {
		maxLen = MaxPasswordBytes
	}
	if len(password) > maxLen {
		res.Errors = append(res.Errors, fmt.Sprintf("password must be at most %d characters", maxLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if p.RequireUppercase && !hasUpper {
		res.Errors = append(res.Errors, "password must contain an uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		res.Errors = append(res.Errors, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		res.Errors = append(res.Errors, "password must contain a digit")
	}
	if p.RequireSpecial && !hasSpecial {
		res.Errors = append(res.Errors, "password must contain a special character")
	}

	if containsUserInfo(password, user) {
		res.Errors = append(res.Errors, "password must not contain parts of your name, username, or email")
	}

	if isCommonPassword(password) {
		res.Errors = append(res.Errors, "password is too common")
	}

	if hasRepeatRun(password, repeatRunWarning) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("password contains %d or more consecutive identical characters", repeatRunWarning))
	}

	// One point per satisfied character class, plus a length bonus, capped at 5.
	score := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			score++
		}
	}
	if len(password) >= lengthBonusThreshold {
		score++
	}
	if score > maxScore {
		score = maxScore
	}
	if len(res.Errors) > 0 {
		res.Score = min(score, 2)
		return res
	}

	res.Valid = true
	res.Score = score
	return res
}

// containsUserInfo reports whether the password contains any substring of
// length >= 3 taken from the user's identity fields, case-insensitively.
// For the email, only the local part before '@' is considered.
func containsUserInfo(password string, user UserInfo) bool {
	lower := strings.ToLower(password)

	fields := []string{user.Username, user.FirstName, user.LastName}
	if at := strings.IndexByte(user.Email, '@'); at > 0 {
		fields = append(fields, user.Email[:at])
	} else if user.Email != "" {
		fields = append(fields, user.Email)
	}

	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if len(field) < 3 {
			continue
		}
		// A 3-character window hit implies every longer substring hit.
		for i := 0; i+3 <= len(field); i++ {
			if strings.Contains(lower, field[i:i+3]) {
				return true
			}
		}
	}
	return false
}

// hasRepeatRun reports whether the password contains n or more consecutive
// identical characters.
func hasRepeatRun(password string, n int) bool {
	run := 0
	var prev rune
	for i, ch := range password {
		if i > 0 && ch == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = ch
	}
	return false
}
