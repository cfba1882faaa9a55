// Package service provides the authenticator facade: lock-gated access to
// the account vault, code generation, and encrypted export and import.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/backup"
	"github.com/atinyakov/GophAuth/internal/clock"
	"github.com/atinyakov/GophAuth/internal/lock"
	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/settings"
)

var (
	// ErrLocked is returned by vault operations while the app is locked.
	ErrLocked = errors.New("service: app is locked")
	// ErrStepUpRequired is returned by sensitive operations without a
	// fresh re-authentication grant.
	ErrStepUpRequired = errors.New("service: re-authentication required")
)

// Vault defines the account storage operations required by the Authenticator.
type Vault interface {
	// List returns copies of all accounts ordered by mode.
	List(mode models.SortMode) []models.Account
	// Search returns the accounts whose label or issuer contains query.
	Search(query string, mode models.SortMode) []models.Account
	// Get returns a copy of one account.
	Get(id string) (models.Account, error)
	// Add stores a new account and returns it with its assigned ID.
	Add(ctx context.Context, acc models.Account) (models.Account, error)
	// Remove deletes an account.
	Remove(ctx context.Context, id string) error
	// Rename changes the label and issuer of an account.
	Rename(ctx context.Context, id, label, issuer string) (models.Account, error)
	// GenerateCode returns the current code; HOTP draws advance the counter.
	GenerateCode(ctx context.Context, id string, now time.Time) (models.Code, error)
	// Replace swaps the whole collection.
	Replace(ctx context.Context, accounts []models.Account) error
	// Merge appends the accounts that are not already present.
	Merge(ctx context.Context, accounts []models.Account) (added, skipped int, err error)
}

// Locker defines the app-lock operations required by the Authenticator.
type Locker interface {
	IsUnlocked() bool
	Status() lock.Status
	Lock() lock.State
	UnlockWithPin(ctx context.Context, pin string) error
	UnlockWithBiometrics(ctx context.Context) error
	EnablePin(ctx context.Context, pin string) error
	DisablePin(ctx context.Context, pin string) error
	EnableBiometrics(ctx context.Context) error
	DisableBiometrics(ctx context.Context) error
	BeginStepUp() (bool, error)
	ConsumeStepUp() bool
	CancelStepUp() error
	Touch()
}

// Authenticator ties the vault to the lock machine. Every vault entry point
// requires the Unlocked state and counts as user activity.
type Authenticator struct {
	vault  Vault
	lock   Locker
	prefs  settings.Provider
	clock  clock.Clock
	backup backup.Options
	log    *zap.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithBackupOptions sets the KDF parameters used by Export.
func WithBackupOptions(o backup.Options) Option {
	return func(a *Authenticator) { a.backup = o }
}

// WithClock sets the clock used for code generation.
func WithClock(c clock.Clock) Option {
	return func(a *Authenticator) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Authenticator) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAuthenticator constructs an Authenticator over the given vault, lock
// machine and settings provider.
func NewAuthenticator(v Vault, l Locker, prefs settings.Provider, opts ...Option) *Authenticator {
	a := &Authenticator{
		vault: v,
		lock:  l,
		prefs: prefs,
		clock: clock.New(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Settings returns the settings provider.
func (a *Authenticator) Settings() settings.Provider {
	return a.prefs
}

func (a *Authenticator) unlocked() error {
	if !a.lock.IsUnlocked() {
		return ErrLocked
	}
	a.lock.Touch()
	return nil
}

// stepUp requires the Unlocked state and consumes the step-up grant.
func (a *Authenticator) stepUp() error {
	if err := a.unlocked(); err != nil {
		return err
	}
	if !a.lock.ConsumeStepUp() {
		return ErrStepUpRequired
	}
	return nil
}

func wipeAll(accounts []models.Account) {
	for i := range accounts {
		accounts[i].Secret.Wipe()
	}
}

// redact drops the secret from an account leaving the service.
func redact(acc *models.Account) {
	acc.Secret.Wipe()
	acc.Secret = nil
}
