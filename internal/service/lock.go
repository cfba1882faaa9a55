package service

import (
	"context"

	"github.com/atinyakov/GophAuth/internal/lock"
)

// LockStatus returns the lock machine snapshot.
func (a *Authenticator) LockStatus() lock.Status {
	return a.lock.Status()
}

// Lock locks the app now.
func (a *Authenticator) Lock() lock.State {
	return a.lock.Lock()
}

func (a *Authenticator) UnlockWithPin(ctx context.Context, pin string) error {
	return a.lock.UnlockWithPin(ctx, pin)
}

func (a *Authenticator) UnlockWithBiometrics(ctx context.Context) error {
	return a.lock.UnlockWithBiometrics(ctx)
}

func (a *Authenticator) EnablePin(ctx context.Context, pin string) error {
	return a.lock.EnablePin(ctx, pin)
}

func (a *Authenticator) DisablePin(ctx context.Context, pin string) error {
	return a.lock.DisablePin(ctx, pin)
}

func (a *Authenticator) EnableBiometrics(ctx context.Context) error {
	return a.lock.EnableBiometrics(ctx)
}

func (a *Authenticator) DisableBiometrics(ctx context.Context) error {
	return a.lock.DisableBiometrics(ctx)
}

// BeginStepUp starts re-authentication for a sensitive operation. granted
// is true when no PIN is set; otherwise the app locks until the next
// successful unlock.
func (a *Authenticator) BeginStepUp() (granted bool, err error) {
	return a.lock.BeginStepUp()
}

// CancelStepUp abandons a pending step-up.
func (a *Authenticator) CancelStepUp() error {
	return a.lock.CancelStepUp()
}
