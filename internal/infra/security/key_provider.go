package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
)

var (
	ErrSigningKeyMissing = errors.New("signing key not configured")
	ErrKeyNotFound       = errors.New("key not found")
)

const minSigningKeyLength = 16

// KeyProvider supplies the symmetric keys used to sign and verify access tokens.
type KeyProvider interface {
	SigningKey() (kid string, key []byte, err error)
	VerificationKey(kid string) ([]byte, error)
}

// StaticKeyProvider holds one active HMAC key plus retired keys that still verify.
type StaticKeyProvider struct {
	activeKID string
	keys      map[string][]byte
}

// NewStaticKeyProvider registers the active key under kid. Previous keys are
// "kid:secret" pairs kept for verification during rotation.
func NewStaticKeyProvider(kid, signingKey string, previous ...string) (*StaticKeyProvider, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}
	if len(signingKey) < minSigningKeyLength {
		return nil, fmt.Errorf("%w: key must be at least %d bytes", ErrSigningKeyMissing, minSigningKeyLength)
	}

	provider := &StaticKeyProvider{
		activeKID: kid,
		keys:      map[string][]byte{kid: []byte(signingKey)},
	}

	for _, entry := range previous {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prevKID, secret, ok := strings.Cut(entry, ":")
		prevKID = strings.TrimSpace(prevKID)
		if !ok || prevKID == "" || secret == "" {
			return nil, fmt.Errorf("invalid previous key entry %q: expected kid:secret", prevKID)
		}
		if prevKID == kid {
			return nil, fmt.Errorf("previous key %q shadows the active key", prevKID)
		}
		provider.keys[prevKID] = []byte(secret)
	}

	return provider, nil
}

// NewKeyProvider builds the key provider from JWT settings.
func NewKeyProvider(cfg config.JWTSettings) (KeyProvider, error) {
	return NewStaticKeyProvider(cfg.KeyID, cfg.SigningKey, cfg.PreviousKeys...)
}

// SigningKey returns the active kid and key.
func (p *StaticKeyProvider) SigningKey() (string, []byte, error) {
	key, ok := p.keys[p.activeKID]
	if !ok {
		return "", nil, ErrSigningKeyMissing
	}
	return p.activeKID, key, nil
}

// VerificationKey returns the key registered for kid.
func (p *StaticKeyProvider) VerificationKey(kid string) ([]byte, error) {
	key, ok := p.keys[strings.TrimSpace(kid)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}
