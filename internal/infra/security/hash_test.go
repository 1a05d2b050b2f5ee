package security

import (
	"strings"
	"testing"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

func newTestHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	hasher, err := NewArgon2Hasher(port.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func TestArgon2HashAndVerifySuccess(t *testing.T) {
	hasher := newTestHasher(t)
	password := "correct horse battery staple"

	encoded, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		t.Fatalf("unexpected hash format: %q", encoded)
	}
	if parts[0] != argon2Variant {
		t.Fatalf("unexpected variant: %s", parts[0])
	}
	if parts[2] != "m=8192,t=1,p=1" {
		t.Fatalf("encoded hash does not reflect configured parameters: %s", parts[2])
	}

	ok, err := hasher.Verify(password, encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for correct password")
	}
}

func TestArgon2VerifyIncorrectPassword(t *testing.T) {
	hasher := newTestHasher(t)

	encoded, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	ok, err := hasher.Verify("Tr0ub4dor&3", encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify returned true for incorrect password")
	}
}

func TestArgon2VerifyUsesEmbeddedParams(t *testing.T) {
	weak := newTestHasher(t)
	encoded, err := weak.Hash("change-me-please")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	strong, err := NewArgon2Hasher(DefaultArgon2Params())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	ok, err := strong.Verify("change-me-please", encoded)
	if err != nil || !ok {
		t.Fatalf("expected hash produced with other params to verify, ok=%v err=%v", ok, err)
	}
}

func TestArgon2VerifyInvalidFormat(t *testing.T) {
	hasher := newTestHasher(t)
	if _, err := hasher.Verify("password", "invalid-format"); err == nil {
		t.Fatal("Verify expected to return error for invalid format")
	}
	if _, err := hasher.Verify("password", "bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"); err == nil {
		t.Fatal("Verify expected to reject unknown variant")
	}
}

func TestArgon2VerifyEmptyInputs(t *testing.T) {
	hasher := newTestHasher(t)
	ok, err := hasher.Verify("", "")
	if err != nil {
		t.Fatalf("Verify returned error for empty inputs: %v", err)
	}
	if ok {
		t.Fatal("Verify should return false for empty inputs")
	}
}

func TestNewArgon2HasherRejectsWeakParams(t *testing.T) {
	if _, err := NewArgon2Hasher(port.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected error for memory below minimum")
	}
}

func TestHashTokenIsDeterministicHex(t *testing.T) {
	first := HashToken("secret")
	if first != HashToken("secret") {
		t.Fatal("HashToken is not deterministic")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
	if first == HashToken("secret2") {
		t.Fatal("distinct inputs produced the same hash")
	}
}

func TestCodeHasherPepper(t *testing.T) {
	peppered := NewCodeHasher("pepper-one")
	other := NewCodeHasher("pepper-two")

	hash := peppered.Hash("123456")
	if hash == other.Hash("123456") {
		t.Fatal("expected pepper to change the digest")
	}
	if hash == HashToken("123456") {
		t.Fatal("expected peppered digest to differ from plain sha256")
	}
	if !peppered.Equal("123456", hash) {
		t.Fatal("Equal rejected the matching code")
	}
	if peppered.Equal("123457", hash) {
		t.Fatal("Equal accepted a different code")
	}
	if NewCodeHasher("").Hash("123456") != HashToken("123456") {
		t.Fatal("expected empty pepper to fall back to sha256")
	}
}
