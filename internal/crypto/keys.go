package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingKey indicates that no vault key is configured.
var ErrMissingKey = errors.New("crypto: missing key")

// KeyProvider supplies the vault key. Callers own the returned slice and
// wipe it after use.
type KeyProvider interface {
	Key() ([]byte, error)
}

// StaticKey returns the same key on every call.
type StaticKey struct {
	bytes []byte
}

// NewStaticKey copies key into a provider.
func NewStaticKey(key []byte) StaticKey {
	return StaticKey{bytes: append([]byte(nil), key...)}
}

// KeyFromBase64 decodes a standard base64 key, as stored in the environment.
func KeyFromBase64(s string) (StaticKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return StaticKey{}, fmt.Errorf("crypto: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return StaticKey{}, fmt.Errorf("crypto: key length %d (want %d): %w", len(raw), KeySize, ErrInvalidKeyLength)
	}
	return StaticKey{bytes: raw}, nil
}

// Key returns a copy of the key.
func (k StaticKey) Key() ([]byte, error) {
	if len(k.bytes) == 0 {
		return nil, ErrMissingKey
	}
	out := make([]byte, len(k.bytes))
	copy(out, k.bytes)
	return out, nil
}

// LoadOrCreateKeyFile reads a base64 key from path, generating and writing
// a new random key with owner-only permissions when the file does not exist.
func LoadOrCreateKeyFile(path string) (StaticKey, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return KeyFromBase64(string(data))
	case !errors.Is(err, os.ErrNotExist):
		return StaticKey{}, fmt.Errorf("crypto: read key file: %w", err)
	}

	key, err := RandomBytes(KeySize)
	if err != nil {
		return StaticKey{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return StaticKey{}, fmt.Errorf("crypto: create key dir: %w", err)
		}
	}
	enc := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(enc+"\n"), 0o600); err != nil {
		return StaticKey{}, fmt.Errorf("crypto: write key file: %w", err)
	}
	return StaticKey{bytes: key}, nil
}
