// Package lock implements the app-lock state machine that gates access to
// the vault: PIN and biometric unlock, explicit and idle locking, and the
// step-up re-authentication required before sensitive operations.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/clock"
	"github.com/atinyakov/GophAuth/internal/crypto"
	"github.com/atinyakov/GophAuth/internal/settings"
	"github.com/atinyakov/GophAuth/internal/storage"
)

var (
	// ErrIncorrectCredential is returned for a wrong PIN or a rejected biometric.
	ErrIncorrectCredential = errors.New("lock: incorrect credential")
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("lock: operation not allowed in current state")
	// ErrCanceled is returned when the user dismisses the biometric prompt.
	ErrCanceled = errors.New("lock: canceled")
	// ErrInvalidPin is returned for a PIN that is not 4 to 16 decimal digits.
	ErrInvalidPin = errors.New("lock: pin must be 4 to 16 digits")
	// ErrPinRequired is returned when biometrics are enabled without a PIN.
	ErrPinRequired = errors.New("lock: pin required")
	// ErrPinAlreadySet is returned by EnablePin when a PIN exists.
	ErrPinAlreadySet = errors.New("lock: pin already set")
	// ErrBiometricUnavailable is returned when no usable prompt is configured.
	ErrBiometricUnavailable = errors.New("lock: biometrics unavailable")
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,16}$`)

// PromptResult is the outcome of a biometric prompt.
type PromptResult int

const (
	PromptSuccess PromptResult = iota + 1
	PromptFailed
	PromptCanceled
)

// BiometricPrompt asks the platform to authenticate the user. An error
// means the prompt could not be shown at all.
type BiometricPrompt interface {
	Authenticate(ctx context.Context, reason string) (PromptResult, error)
}

// Status is a snapshot of the machine.
type Status struct {
	State             State `json:"state"`
	HasPin            bool  `json:"has_pin"`
	BiometricsEnabled bool  `json:"biometrics_enabled"`
	FailedAttempts    int   `json:"failed_attempts"`
	StepUpPending     bool  `json:"step_up_pending"`
}

type record struct {
	PinHash string `json:"pin_hash,omitempty"`
}

// Machine is the lock state machine. It is safe for concurrent use.
type Machine struct {
	mu sync.Mutex
	sm *fsm

	pinHash  string
	failed   int
	pending  bool
	granted  bool
	lastSeen time.Time

	store     storage.Store
	prefs     settings.Provider
	prompt    BiometricPrompt
	hasher    *crypto.PinHasher
	clock     clock.Clock
	log       *zap.Logger
	onFailure func(int)
}

// Option configures a Machine.
type Option func(*Machine)

// WithPrompt sets the biometric prompt.
func WithPrompt(p BiometricPrompt) Option {
	return func(m *Machine) { m.prompt = p }
}

// WithHasher sets the PIN hasher.
func WithHasher(h *crypto.PinHasher) Option {
	return func(m *Machine) { m.hasher = h }
}

// WithFailureHook registers fn to be called with the failure count after
// every failed unlock. Lockout policies belong in fn.
func WithFailureHook(fn func(n int)) Option {
	return func(m *Machine) { m.onFailure = fn }
}

// WithClock sets the clock used for idle tracking.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// New restores the machine from store. Without a PIN it starts Unlocked;
// with one it starts locked, offering biometrics when they are enabled.
func New(ctx context.Context, store storage.Store, prefs settings.Provider, opts ...Option) (*Machine, error) {
	m := &Machine{
		store:  store,
		prefs:  prefs,
		hasher: crypto.NewPinHasher(crypto.DefaultKDFParams),
		clock:  clock.New(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	data, err := store.Load(ctx, storage.KeyLock)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load lock state: %w", err)
	default:
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode lock state: %w", err)
		}
		m.pinHash = rec.PinHash
	}

	if !m.hasPin() && prefs.Current().UseBiometrics {
		if err := prefs.SetUseBiometrics(ctx, false); err != nil {
			return nil, err
		}
	}

	m.lastSeen = m.clock.Now()
	m.sm = newFSM(m.lockedState())
	m.buildTable()
	m.log.Info("lock: initialized", zap.String("state", string(m.sm.current)))
	return m, nil
}

func (m *Machine) buildTable() {
	hasPin := m.hasPin
	bio := m.biometricsEnabled
	pending := func() bool { return m.pending }

	for _, locked := range []State{LockedPinOnly, LockedBiometricAvailable} {
		m.sm.add(locked, evUnlock, Unlocked, nil, m.onUnlocked)
		m.sm.add(locked, evLock, LockedBiometricAvailable, all(bio), m.clearStepUp)
		m.sm.add(locked, evLock, LockedPinOnly, nil, m.clearStepUp)
		m.sm.add(locked, evCancelStepUp, Unlocked, all(pending), m.clearStepUp)
	}
	m.sm.add(LockedBiometricAvailable, evBiometric, Unlocked, all(bio), m.onUnlocked)

	m.sm.add(Unlocked, evLock, LockedBiometricAvailable, all(hasPin, bio), m.clearStepUp)
	m.sm.add(Unlocked, evLock, LockedPinOnly, all(hasPin), m.clearStepUp)
	m.sm.add(Unlocked, evLock, Unlocked, all(not(hasPin)), m.clearStepUp)

	m.sm.add(Unlocked, evStepUp, LockedBiometricAvailable, all(hasPin, bio), m.beginStepUp)
	m.sm.add(Unlocked, evStepUp, LockedPinOnly, all(hasPin), m.beginStepUp)
	m.sm.add(Unlocked, evStepUp, Unlocked, all(not(hasPin)), m.grantStepUp)
}

func (m *Machine) hasPin() bool { return m.pinHash != "" }

func (m *Machine) biometricsEnabled() bool {
	return m.hasPin() && m.prefs.Current().UseBiometrics
}

func (m *Machine) lockedState() State {
	switch {
	case !m.hasPin():
		return Unlocked
	case m.biometricsEnabled():
		return LockedBiometricAvailable
	default:
		return LockedPinOnly
	}
}

func (m *Machine) onUnlocked() {
	m.failed = 0
	m.lastSeen = m.clock.Now()
	if m.pending {
		m.pending = false
		m.granted = true
	}
}

func (m *Machine) beginStepUp() {
	m.pending = true
	m.granted = false
}

func (m *Machine) grantStepUp() {
	m.pending = false
	m.granted = true
}

// clearStepUp drops a pending step-up and any unused grant. A grant never
// outlives the session it was issued in.
func (m *Machine) clearStepUp() {
	m.pending = false
	m.granted = false
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sm.current
}

// IsUnlocked reports whether the vault may be accessed.
func (m *Machine) IsUnlocked() bool {
	return m.State() == Unlocked
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:             m.sm.current,
		HasPin:            m.hasPin(),
		BiometricsEnabled: m.biometricsEnabled(),
		FailedAttempts:    m.failed,
		StepUpPending:     m.pending,
	}
}

// FailedAttempts returns the consecutive failed unlocks since the last success.
func (m *Machine) FailedAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// UnlockWithPin unlocks when pin matches the stored hash.
func (m *Machine) UnlockWithPin(ctx context.Context, pin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sm.can(evUnlock) {
		return fmt.Errorf("%w: unlock in state %s", ErrInvalidState, m.sm.current)
	}
	if !m.hasher.Verify(m.pinHash, pin) {
		m.recordFailure()
		return ErrIncorrectCredential
	}

	if err := m.sm.fire(evUnlock); err != nil {
		return err
	}
	m.log.Info("lock: unlocked with pin")
	return nil
}

// UnlockWithBiometrics shows the biometric prompt and unlocks on success.
// A canceled prompt changes nothing.
func (m *Machine) UnlockWithBiometrics(ctx context.Context) error {
	m.mu.Lock()
	if !m.sm.can(evBiometric) {
		st := m.sm.current
		m.mu.Unlock()
		return fmt.Errorf("%w: biometric unlock in state %s", ErrInvalidState, st)
	}
	if m.prompt == nil {
		m.mu.Unlock()
		return ErrBiometricUnavailable
	}
	m.mu.Unlock()

	res, err := m.prompt.Authenticate(ctx, "Unlock")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBiometricUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch res {
	case PromptSuccess:
		if m.sm.current == Unlocked {
			return nil
		}
		if err := m.sm.fire(evBiometric); err != nil {
			return err
		}
		m.log.Info("lock: unlocked with biometrics")
		return nil
	case PromptCanceled:
		return ErrCanceled
	default:
		m.recordFailure()
		return ErrIncorrectCredential
	}
}

// Lock moves an unlocked machine to its locked state. Without a PIN it
// stays unlocked. Locking an already locked machine abandons a pending
// step-up.
func (m *Machine) Lock() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.sm.current
	if err := m.sm.fire(evLock); err != nil {
		m.log.Warn("lock: lock rejected", zap.Error(err))
	}
	if from != m.sm.current {
		m.log.Info("lock: locked", zap.String("state", string(m.sm.current)))
	}
	return m.sm.current
}

// EnablePin stores a salted hash of pin. The machine must be unlocked.
func (m *Machine) EnablePin(ctx context.Context, pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPin
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sm.current != Unlocked {
		return fmt.Errorf("%w: enable pin while locked", ErrInvalidState)
	}
	if m.hasPin() {
		return ErrPinAlreadySet
	}

	hash, err := m.hasher.Hash(pin)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := m.save(ctx, record{PinHash: hash}); err != nil {
		return err
	}
	m.pinHash = hash
	m.log.Info("lock: pin enabled")
	return nil
}

// DisablePin removes the PIN after checking it, and turns biometrics off.
func (m *Machine) DisablePin(ctx context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sm.current != Unlocked {
		return fmt.Errorf("%w: disable pin while locked", ErrInvalidState)
	}
	if !m.hasPin() {
		return ErrPinRequired
	}
	if !m.hasher.Verify(m.pinHash, pin) {
		m.recordFailure()
		return ErrIncorrectCredential
	}

	if err := m.save(ctx, record{}); err != nil {
		return err
	}
	m.pinHash = ""
	m.failed = 0
	if err := m.prefs.SetUseBiometrics(ctx, false); err != nil {
		m.log.Error("lock: failed to turn off biometrics", zap.Error(err))
	}
	m.log.Info("lock: pin disabled")
	return nil
}

// EnableBiometrics turns on biometric unlock after a successful prompt.
// It needs a PIN and an unlocked machine.
func (m *Machine) EnableBiometrics(ctx context.Context) error {
	if err := m.checkBiometricChange(); err != nil {
		return err
	}
	if err := m.confirmPrompt(ctx, "Enable biometric unlock"); err != nil {
		return err
	}
	return m.prefs.SetUseBiometrics(ctx, true)
}

// DisableBiometrics turns off biometric unlock after a successful prompt.
func (m *Machine) DisableBiometrics(ctx context.Context) error {
	if err := m.checkBiometricChange(); err != nil {
		return err
	}
	if err := m.confirmPrompt(ctx, "Disable biometric unlock"); err != nil {
		return err
	}
	return m.prefs.SetUseBiometrics(ctx, false)
}

func (m *Machine) checkBiometricChange() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sm.current != Unlocked {
		return fmt.Errorf("%w: change biometrics while locked", ErrInvalidState)
	}
	if !m.hasPin() {
		return ErrPinRequired
	}
	if m.prompt == nil {
		return ErrBiometricUnavailable
	}
	return nil
}

func (m *Machine) confirmPrompt(ctx context.Context, reason string) error {
	res, err := m.prompt.Authenticate(ctx, reason)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBiometricUnavailable, err)
	}
	switch res {
	case PromptSuccess:
		return nil
	case PromptCanceled:
		return ErrCanceled
	default:
		return ErrIncorrectCredential
	}
}

// BeginStepUp asks for re-authentication before a sensitive operation.
// Without a PIN the grant is immediate and true is returned; otherwise the
// machine locks and the grant is issued by the next successful unlock.
func (m *Machine) BeginStepUp() (granted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sm.fire(evStepUp); err != nil {
		return false, err
	}
	return m.granted, nil
}

// ConsumeStepUp returns whether a step-up grant exists and clears it.
func (m *Machine) ConsumeStepUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.granted
	m.granted = false
	return g
}

// CancelStepUp abandons a pending step-up and returns to Unlocked without
// a grant.
func (m *Machine) CancelStepUp() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sm.fire(evCancelStepUp)
}

// Touch records user activity for the idle watcher.
func (m *Machine) Touch() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	m.mu.Unlock()
}

// lockIfIdle locks when the last activity is older than idle.
func (m *Machine) lockIfIdle(idle time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sm.current != Unlocked || !m.hasPin() {
		return false
	}
	if m.clock.Now().Sub(m.lastSeen) < idle {
		return false
	}
	if err := m.sm.fire(evLock); err != nil {
		return false
	}
	return true
}

func (m *Machine) recordFailure() {
	m.failed++
	m.log.Warn("lock: failed unlock attempt", zap.Int("failed_attempts", m.failed))
	if m.onFailure != nil {
		m.onFailure(m.failed)
	}
}

func (m *Machine) save(ctx context.Context, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode lock state: %w", err)
	}
	if err := m.store.Save(context.WithoutCancel(ctx), storage.KeyLock, data); err != nil {
		return fmt.Errorf("save lock state: %w", err)
	}
	return nil
}
