// Package auth produces the one-time codes typed into a 2FA prompt during
// interactive login.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var ErrEmptySecret = errors.New("totp secret cannot be empty")

var codeOpts = totp.ValidateOpts{
	Period:    30,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// normalizeSecret accepts secrets as authenticator apps display them:
// grouped with spaces or dashes, any case.
func normalizeSecret(secret string) string {
	r := strings.NewReplacer(" ", "", "-", "")
	return strings.ToUpper(r.Replace(secret))
}

// CodeAt returns the six digit code for secret at t.
func CodeAt(secret string, t time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}
	code, err := totp.GenerateCodeCustom(normalizeSecret(secret), t.UTC(), codeOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// GenerateTOTP returns the current code for secret.
func GenerateTOTP(secret string) (string, error) {
	return CodeAt(secret, time.Now())
}
