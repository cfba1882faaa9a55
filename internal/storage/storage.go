// Package storage defines the persistent key-value contract the vault,
// the lock machine and the settings provider write through, and a file
// backed implementation of it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Well-known record keys.
const (
	KeyVault    = "vault"
	KeyLock     = "lock"
	KeySettings = "settings"
)

var (
	// ErrNotFound is returned by Load when nothing was saved under a key.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidKey is returned for keys outside [a-z0-9_-].
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store persists opaque blobs by key. Save must be durable when it returns
// nil: a crash after a successful Save never loses the new value, and a
// failed Save leaves the previous value readable.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateKey checks that key is safe to use as a file name or row key.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
