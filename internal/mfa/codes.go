package mfa

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	numericAlphabet      = "0123456789"
	alphanumericAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// generateNumericCode returns a random numeric code of the given length,
// suitable for SMS delivery.
func generateNumericCode(length int) (string, error) {
	return randomCode(numericAlphabet, length)
}

// generateAlphanumericCode returns a random uppercase alphanumeric code.
// Ambiguous characters (0/O, 1/I) are excluded from the alphabet.
func generateAlphanumericCode(length int) (string, error) {
	return randomCode(alphanumericAlphabet, length)
}

func randomCode(alphabet string, length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// generateBackupCodes returns count recovery codes in XXXX-XXXX form.
func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		left, err := randomCode(alphanumericAlphabet, 4)
		if err != nil {
			return nil, err
		}
		right, err := randomCode(alphanumericAlphabet, 4)
		if err != nil {
			return nil, err
		}
		codes = append(codes, left+"-"+right)
	}
	return codes, nil
}
