package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingSecret is returned when secret is empty.
var ErrMissingSecret = errors.New("totp secret is required")

const (
	totpDigits        = 6
	defaultTOTPPeriod = 30 * time.Second
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTP computes the RFC 6238 code for secret at the given instant.
func GenerateTOTP(secret string, at time.Time, period time.Duration) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, totpCounter(at, period)), nil
}

// VerifyTOTP accepts a code from the current step or up to skew steps either side.
func VerifyTOTP(secret, code string, at time.Time, period time.Duration, skew int) (bool, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false, err
	}

	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false, nil
	}
	if skew < 0 {
		skew = 0
	}

	counter := totpCounter(at, period)
	matched := 0
	for offset := -skew; offset <= skew; offset++ {
		step := int64(counter) + int64(offset)
		if step < 0 {
			continue
		}
		candidate := hotp(key, uint64(step))
		matched |= subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
	}

	return matched == 1, nil
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if secret == "" {
		return nil, ErrMissingSecret
	}
	key, err := totpEncoding.DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return key, nil
}

func totpCounter(at time.Time, period time.Duration) uint64 {
	if period < time.Second {
		period = defaultTOTPPeriod
	}
	return uint64(at.Unix() / int64(period/time.Second))
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	h := hmac.New(sha1.New, key)
	h.Write(msg[:])
	sum := h.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", totpDigits, value%1_000_000)
}
