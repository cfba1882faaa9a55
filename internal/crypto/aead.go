// Package crypto holds the primitives used to protect data at rest:
// a versioned AES-256-GCM envelope, vault key providers, and argon2id
// based PIN hashing and passphrase key derivation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Envelope format (binary):
// [0..1]   uint16 version (currently 1)
// [2..13]  12-byte nonce
// [14..]   gcm.Seal output (ciphertext + tag)
const envelopeVersion uint16 = 1

const (
	nonceSize = 12
	// KeySize is the AES-256 key length in bytes.
	KeySize    = 32
	headerSize = 2 + nonceSize
)

var (
	// ErrDecryptionFailed is returned for any authentication failure. A wrong
	// key and a tampered ciphertext are indistinguishable.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	// ErrInvalidKeyLength indicates a key that is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length")
	// ErrCiphertextTooShort indicates a truncated envelope.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	// ErrUnsupportedVersion indicates an envelope written by an unknown format version.
	ErrUnsupportedVersion = errors.New("crypto: unsupported envelope version")
)

// Sealer encrypts and authenticates opaque blobs.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(envelope, aad []byte) ([]byte, error)
}

// AESGCM seals data with AES-256-GCM under the key returned by its provider.
type AESGCM struct {
	keys KeyProvider
}

// NewAESGCM constructs an AES-GCM sealer.
func NewAESGCM(keys KeyProvider) *AESGCM {
	return &AESGCM{keys: keys}
}

// Seal encrypts plaintext, binding aad to the result.
func (e *AESGCM) Seal(plaintext, aad []byte) ([]byte, error) {
	key, err := e.key()
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce generation failed: %w", err)
	}
	sealed, err := SealWithKey(key, nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize+len(sealed))
	binary.BigEndian.PutUint16(out[0:2], envelopeVersion)
	copy(out[2:headerSize], nonce)
	copy(out[headerSize:], sealed)
	return out, nil
}

// Open authenticates and decrypts an envelope produced by Seal.
func (e *AESGCM) Open(envelope, aad []byte) ([]byte, error) {
	if len(envelope) < headerSize+1 {
		return nil, ErrCiphertextTooShort
	}
	version := binary.BigEndian.Uint16(envelope[0:2])
	if version != envelopeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	key, err := e.key()
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	return OpenWithKey(key, envelope[2:headerSize], envelope[headerSize:], aad)
}

func (e *AESGCM) key() ([]byte, error) {
	if e == nil || e.keys == nil {
		return nil, ErrMissingKey
	}
	key, err := e.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("crypto: key provider error: %w", err)
	}
	return key, nil
}

// SealWithKey runs AES-256-GCM with an explicit key and nonce.
func SealWithKey(key, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce size %d (want %d)", len(nonce), gcm.NonceSize())
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// OpenWithKey is the inverse of SealWithKey. Every failure after the key
// check is reported as ErrDecryptionFailed.
func OpenWithKey(key, nonce, sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plain, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// NonceSize is the GCM nonce length used by this package.
func NonceSize() int {
	return nonceSize
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key length %d (want %d): %w", len(key), KeySize, ErrInvalidKeyLength)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init failed: %w", err)
	}
	return gcm, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("crypto: read random: %w", err)
	}
	return b, nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	clear(b)
}
