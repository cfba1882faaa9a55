package lock

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atinyakov/GophAuth/internal/clock"
	"github.com/atinyakov/GophAuth/internal/crypto"
	"github.com/atinyakov/GophAuth/internal/settings"
	"github.com/atinyakov/GophAuth/internal/storage"
)

var fastHasher = crypto.NewPinHasher(crypto.KDFParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1})

type fakePrompt struct {
	mu     sync.Mutex
	result PromptResult
	err    error
	calls  int
}

func (p *fakePrompt) Authenticate(context.Context, string) (PromptResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result, p.err
}

func (p *fakePrompt) set(r PromptResult) {
	p.mu.Lock()
	p.result = r
	p.mu.Unlock()
}

type env struct {
	store  storage.Store
	prefs  *settings.Persistent
	prompt *fakePrompt
	clock  *clock.Manual
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewFileStoreFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	prefs, err := settings.Open(context.Background(), store, nil)
	require.NoError(t, err)
	return &env{
		store:  store,
		prefs:  prefs,
		prompt: &fakePrompt{result: PromptSuccess},
		clock:  clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (e *env) machine(t *testing.T, opts ...Option) *Machine {
	t.Helper()
	base := []Option{WithHasher(fastHasher), WithPrompt(e.prompt), WithClock(e.clock)}
	m, err := New(context.Background(), e.store, e.prefs, append(base, opts...)...)
	require.NoError(t, err)
	return m
}

func TestNew_NoPinStartsUnlocked(t *testing.T) {
	e := newEnv(t)
	m := e.machine(t)

	assert.Equal(t, Unlocked, m.State())
	assert.Equal(t, Unlocked, m.Lock(), "lock without a pin is a no-op")
	assert.False(t, m.Status().HasPin)
}

func TestPin_LockUnlockCycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)

	require.NoError(t, m.EnablePin(ctx, "1234"))
	assert.ErrorIs(t, m.EnablePin(ctx, "5678"), ErrPinAlreadySet)

	assert.Equal(t, LockedPinOnly, m.Lock())
	assert.True(t, m.State().Locked())
	assert.False(t, m.IsUnlocked())

	assert.ErrorIs(t, m.UnlockWithPin(ctx, "0000"), ErrIncorrectCredential)
	assert.ErrorIs(t, m.UnlockWithPin(ctx, "1111"), ErrIncorrectCredential)
	assert.Equal(t, 2, m.FailedAttempts())
	assert.Equal(t, LockedPinOnly, m.State())

	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	assert.Equal(t, Unlocked, m.State())
	assert.Zero(t, m.FailedAttempts())

	assert.ErrorIs(t, m.UnlockWithPin(ctx, "1234"), ErrInvalidState)
}

func TestPin_Validation(t *testing.T) {
	ctx := context.Background()
	m := newEnv(t).machine(t)

	for _, pin := range []string{"", "123", "12345678901234567", "12a4", " 1234"} {
		assert.ErrorIs(t, m.EnablePin(ctx, pin), ErrInvalidPin, "pin %q", pin)
	}
	require.NoError(t, m.EnablePin(ctx, "1234567890123456"))
}

func TestPin_ChangesRequireUnlocked(t *testing.T) {
	ctx := context.Background()
	m := newEnv(t).machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))
	m.Lock()

	assert.ErrorIs(t, m.DisablePin(ctx, "1234"), ErrInvalidState)
	assert.ErrorIs(t, m.EnableBiometrics(ctx), ErrInvalidState)
}

func TestNew_RestoresLockedState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)
	require.NoError(t, m.EnablePin(ctx, "2468"))

	restarted := e.machine(t)
	assert.Equal(t, LockedPinOnly, restarted.State())
	require.NoError(t, restarted.UnlockWithPin(ctx, "2468"))

	require.NoError(t, restarted.EnableBiometrics(ctx))
	again := e.machine(t)
	assert.Equal(t, LockedBiometricAvailable, again.State())
}

func TestNew_BiometricsWithoutPinAreReset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.prefs.SetUseBiometrics(ctx, true))

	m := e.machine(t)
	assert.Equal(t, Unlocked, m.State())
	assert.False(t, e.prefs.Current().UseBiometrics)
	assert.False(t, m.Status().BiometricsEnabled)
}

func TestBiometrics(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)

	assert.ErrorIs(t, m.EnableBiometrics(ctx), ErrPinRequired)

	require.NoError(t, m.EnablePin(ctx, "1234"))
	require.NoError(t, m.EnableBiometrics(ctx))
	assert.True(t, m.Status().BiometricsEnabled)

	assert.Equal(t, LockedBiometricAvailable, m.Lock())

	e.prompt.set(PromptCanceled)
	assert.ErrorIs(t, m.UnlockWithBiometrics(ctx), ErrCanceled)
	assert.Zero(t, m.FailedAttempts())
	assert.Equal(t, LockedBiometricAvailable, m.State())

	e.prompt.set(PromptFailed)
	assert.ErrorIs(t, m.UnlockWithBiometrics(ctx), ErrIncorrectCredential)
	assert.Equal(t, 1, m.FailedAttempts())

	e.prompt.set(PromptSuccess)
	require.NoError(t, m.UnlockWithBiometrics(ctx))
	assert.Equal(t, Unlocked, m.State())
	assert.Zero(t, m.FailedAttempts())

	// The PIN still works when biometrics are offered.
	m.Lock()
	require.NoError(t, m.UnlockWithPin(ctx, "1234"))

	require.NoError(t, m.DisableBiometrics(ctx))
	assert.Equal(t, LockedPinOnly, m.Lock())
	assert.ErrorIs(t, m.UnlockWithBiometrics(ctx), ErrInvalidState)
}

func TestBiometrics_PromptUnavailable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))

	e.prompt.err = errors.New("no sensor")
	assert.ErrorIs(t, m.EnableBiometrics(ctx), ErrBiometricUnavailable)
	assert.False(t, e.prefs.Current().UseBiometrics)

	noPrompt, err := New(ctx, e.store, e.prefs, WithHasher(fastHasher))
	require.NoError(t, err)
	require.NoError(t, noPrompt.UnlockWithPin(ctx, "1234"))
	assert.ErrorIs(t, noPrompt.EnableBiometrics(ctx), ErrBiometricUnavailable)
}

func TestDisablePin_TurnsOffBiometrics(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))
	require.NoError(t, m.EnableBiometrics(ctx))

	assert.ErrorIs(t, m.DisablePin(ctx, "9999"), ErrIncorrectCredential)
	require.NoError(t, m.DisablePin(ctx, "1234"))

	assert.False(t, e.prefs.Current().UseBiometrics)
	assert.Equal(t, Status{State: Unlocked}, m.Status())
	assert.Equal(t, Unlocked, e.machine(t).State())
	assert.ErrorIs(t, m.DisablePin(ctx, "1234"), ErrPinRequired)
}

func TestStepUp_WithoutPinGrantsImmediately(t *testing.T) {
	m := newEnv(t).machine(t)

	granted, err := m.BeginStepUp()
	require.NoError(t, err)
	assert.True(t, granted)
	assert.True(t, m.ConsumeStepUp())
	assert.False(t, m.ConsumeStepUp(), "a grant is single use")
}

func TestStepUp_WithPin(t *testing.T) {
	ctx := context.Background()
	m := newEnv(t).machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))

	granted, err := m.BeginStepUp()
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, LockedPinOnly, m.State())
	assert.True(t, m.Status().StepUpPending)
	assert.False(t, m.ConsumeStepUp())

	_, err = m.BeginStepUp()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	assert.False(t, m.Status().StepUpPending)
	assert.True(t, m.ConsumeStepUp())
	assert.False(t, m.ConsumeStepUp())
}

func TestStepUp_Cancel(t *testing.T) {
	ctx := context.Background()
	m := newEnv(t).machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))

	assert.ErrorIs(t, m.CancelStepUp(), ErrInvalidState)

	_, err := m.BeginStepUp()
	require.NoError(t, err)
	require.NoError(t, m.CancelStepUp())
	assert.Equal(t, Unlocked, m.State())
	assert.False(t, m.ConsumeStepUp())

	// An explicit lock abandons the pending step-up.
	_, err = m.BeginStepUp()
	require.NoError(t, err)
	m.Lock()
	assert.ErrorIs(t, m.CancelStepUp(), ErrInvalidState)
	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	assert.False(t, m.ConsumeStepUp())
}

func TestStepUp_GrantDoesNotOutliveSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))

	_, err := m.BeginStepUp()
	require.NoError(t, err)
	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	m.Lock()
	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	assert.False(t, m.ConsumeStepUp(), "explicit lock drops the grant")

	_, err = m.BeginStepUp()
	require.NoError(t, err)
	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	m.Touch()
	e.clock.Advance(time.Hour)
	require.True(t, m.lockIfIdle(time.Minute))
	require.NoError(t, m.UnlockWithPin(ctx, "1234"))
	assert.False(t, m.ConsumeStepUp(), "auto-lock drops the grant")
}

func TestStepUp_WithoutPinLockDropsGrant(t *testing.T) {
	m := newEnv(t).machine(t)

	granted, err := m.BeginStepUp()
	require.NoError(t, err)
	require.True(t, granted)
	assert.Equal(t, Unlocked, m.Lock())
	assert.False(t, m.ConsumeStepUp())
}

func TestFailureHook(t *testing.T) {
	ctx := context.Background()
	var counts []int
	m := newEnv(t).machine(t, WithFailureHook(func(n int) { counts = append(counts, n) }))
	require.NoError(t, m.EnablePin(ctx, "1234"))
	m.Lock()

	for range 3 {
		_ = m.UnlockWithPin(ctx, "0000")
	}
	assert.Equal(t, []int{1, 2, 3}, counts)
}

func TestUnlockWithPin_Canceled(t *testing.T) {
	m := newEnv(t).machine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.UnlockWithPin(ctx, "1234"), context.Canceled)
}

type failingStore struct {
	storage.Store
}

func (failingStore) Save(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestEnablePin_SaveFailureKeepsState(t *testing.T) {
	e := newEnv(t)
	m, err := New(context.Background(), failingStore{Store: e.store}, e.prefs, WithHasher(fastHasher))
	require.NoError(t, err)

	assert.Error(t, m.EnablePin(context.Background(), "1234"))
	assert.False(t, m.Status().HasPin)
	assert.Equal(t, Unlocked, m.Lock())
}

func TestNew_CorruptRecord(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Save(context.Background(), storage.KeyLock, []byte("{broken")))
	_, err := New(context.Background(), e.store, e.prefs)
	assert.Error(t, err)
}

func TestLockIfIdle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)

	e.clock.Advance(time.Hour)
	assert.False(t, m.lockIfIdle(time.Minute), "no pin, nothing to lock")

	require.NoError(t, m.EnablePin(ctx, "1234"))
	m.Touch()
	e.clock.Advance(30 * time.Second)
	assert.False(t, m.lockIfIdle(time.Minute))

	e.clock.Advance(31 * time.Second)
	assert.True(t, m.lockIfIdle(time.Minute))
	assert.Equal(t, LockedPinOnly, m.State())
	assert.False(t, m.lockIfIdle(time.Minute))
}

func TestStartAutoLock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))
	e.clock.Advance(time.Hour)

	out := &syncBuffer{}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(out),
		zapcore.InfoLevel,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	StartAutoLock(runCtx, m, 10*time.Millisecond, time.Minute, zap.New(core))

	require.Eventually(t, func() bool { return m.State() == LockedPinOnly }, time.Second, 10*time.Millisecond)
	cancel()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, strings.Contains(out.String(), "auto-locked after inactivity"))
}

func TestStartAutoLock_CancelBeforeTicker(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.machine(t)
	require.NoError(t, m.EnablePin(ctx, "1234"))
	e.clock.Advance(time.Hour)

	runCtx, cancel := context.WithCancel(ctx)
	StartAutoLock(runCtx, m, 100*time.Millisecond, time.Minute, zap.NewNop())
	cancel()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, Unlocked, m.State())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
