package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStrength_StrongPassword(t *testing.T) {
	p := DefaultPolicy()

	res := p.ValidateStrength("Tr0ub4dor&Gazelle", UserInfo{Username: "alex"})

	assert.True(t, res.Valid)
	assert.Equal(t, 5, res.Score)
	assert.Empty(t, res.Errors)
}

func TestValidateStrength_PolicyViolations(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"too short", "Ab1!", "password must be at least 8 characters"},
		{"no uppercase", "lowercase1!", "password must contain an uppercase letter"},
		{"no lowercase", "UPPERCASE1!", "password must contain a lowercase letter"},
		{"no digit", "NoDigitsHere!", "password must contain a digit"},
		{"no special", "NoSpecial123", "password must contain a special character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ValidateStrength(tt.password, UserInfo{})
			assert.False(t, res.Valid)
			assert.Contains(t, res.Errors, tt.wantErr)
		})
	}
}

func TestValidateStrength_CapsLengthAtHasherLimit(t *testing.T) {
	p := DefaultPolicy()

	// Satisfies every character class but exceeds what bcrypt can hash.
	long := "Aa1!" + strings.Repeat("abcDEF123!", 10)

	res := p.ValidateStrength(long, UserInfo{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "password must be at most 72 characters")

	// A permissive policy cannot lift the cap past what the hasher accepts.
	p.MaxLength = 128
	res = p.ValidateStrength(long, UserInfo{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "password must be at most 72 characters")

	// An unbounded policy still gets the cap.
	p.MaxLength = 0
	res = p.ValidateStrength(long, UserInfo{})
	assert.False(t, res.Valid)
}

func TestValidateStrength_ContainsUserInfo(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		password string
		user     UserInfo
	}{
		{"contains username", "Secure-alice-99!", UserInfo{Username: "alice"}},
		{"contains username fragment", "xXali99!Zz", UserInfo{Username: "alice"}},
		{"contains first name case-insensitive", "MyROBERTpass1!", UserInfo{FirstName: "Robert"}},
		{"contains email local part", "jdoe42!Abcdef", UserInfo{Email: "jdoe@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ValidateStrength(tt.password, tt.user)
			assert.False(t, res.Valid)
			assert.Contains(t, res.Errors, "password must not contain parts of your name, username, or email")
		})
	}
}

func TestValidateStrength_ShortIdentityFieldsIgnored(t *testing.T) {
	p := DefaultPolicy()

	// Two-character fields never match, otherwise almost everything would.
	res := p.ValidateStrength("Absolutely-F1ne", UserInfo{Username: "ab", FirstName: "Li"})
	assert.True(t, res.Valid)
}

func TestValidateStrength_CommonPassword(t *testing.T) {
	p := Policy{MinLength: 6}

	res := p.ValidateStrength("Password123", UserInfo{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "password is too common")
}

func TestValidateStrength_RepeatRunWarning(t *testing.T) {
	p := DefaultPolicy()

	res := p.ValidateStrength("Gooood-Enough1!", UserInfo{})
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidateStrength_ScoreCappedOnError(t *testing.T) {
	p := DefaultPolicy()

	// All four character classes present but too short: invalid, score capped at 2.
	res := p.ValidateStrength("Ab1!xyz", UserInfo{})
	assert.False(t, res.Valid)
	assert.LessOrEqual(t, res.Score, 2)
}

func TestValidateStrength_LengthBonus(t *testing.T) {
	p := Policy{MinLength: 8}

	short := p.ValidateStrength("Abcd123!", UserInfo{})
	long := p.ValidateStrength("Abcd123!Abcd123!", UserInfo{})

	assert.Equal(t, 4, short.Score)
	assert.Equal(t, 5, long.Score)
}
