package crypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// KDFParams are the argon2id cost parameters.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams are used for PIN hashing and backup keys.
var DefaultKDFParams = KDFParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
}

const (
	saltLength = 16
	hashLength = 32
)

// SaltSize is the salt length used for argon2id derivations.
const SaltSize = saltLength

// ErrInvalidKDFParams indicates unusable argon2id parameters.
var ErrInvalidKDFParams = errors.New("crypto: invalid kdf parameters")

// Validate rejects zero costs.
func (p KDFParams) Validate() error {
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return ErrInvalidKDFParams
	}
	return nil
}

// DeriveKey stretches passphrase into an AES-256 key.
func DeriveKey(passphrase, salt []byte, p KDFParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(passphrase, salt, p.Iterations, p.Memory, p.Parallelism, KeySize), nil
}

// PinHasher produces and checks salted argon2id hashes in PHC string format.
type PinHasher struct {
	params KDFParams
}

// NewPinHasher returns a hasher using params for new hashes. Verification
// always uses the parameters recorded in the stored hash.
func NewPinHasher(params KDFParams) *PinHasher {
	return &PinHasher{params: params}
}

// Hash returns the encoded hash of pin.
func (h *PinHasher) Hash(pin string) (string, error) {
	if err := h.params.Validate(); err != nil {
		return "", err
	}
	salt, err := RandomBytes(saltLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(pin), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, hashLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether pin matches encoded. Malformed hashes never match.
func (h *PinHasher) Verify(encoded, pin string) bool {
	if encoded == "" || pin == "" {
		return false
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var p KDFParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false
	}
	if p.Validate() != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(pin), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, computed) == 1
}
