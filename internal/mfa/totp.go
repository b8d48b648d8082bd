package mfa

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpOptions are the authenticator parameters used for enrollment and
// verification. Skew 1 accepts the previous and next time step, so a code
// generated just before a step boundary still verifies.
type totpOptions struct {
	issuer string
	period uint
	digits otp.Digits
	skew   uint
}

func defaultTOTPOptions(issuer string) totpOptions {
	return totpOptions{
		issuer: issuer,
		period: 30,
		digits: otp.DigitsSix,
		skew:   1,
	}
}

// generateTOTPKey enrolls a new authenticator secret for the account.
func generateTOTPKey(opts totpOptions, accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      opts.issuer,
		AccountName: accountName,
		Period:      opts.period,
		Digits:      opts.digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key, nil
}

// validateTOTPCode checks the code against the secret at the given time.
func validateTOTPCode(opts totpOptions, code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    opts.period,
		Skew:      opts.skew,
		Digits:    opts.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// manualEntryKey formats the base32 secret in groups of four for typing into
// an authenticator app by hand.
func manualEntryKey(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
