// Package vault holds the user's OTP accounts in memory and keeps an
// encrypted copy of them in a storage.Store.
//
// All mutations are serialized by a single mutex. A mutation builds the new
// state as a copy, persists it, and swaps it in only after the write
// succeeded, so a failed write leaves the vault exactly as it was.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/clock"
	"github.com/atinyakov/GophAuth/internal/crypto"
	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/otp"
	"github.com/atinyakov/GophAuth/internal/storage"
)

var (
	// ErrDuplicateID is returned when adding an account whose ID is taken.
	ErrDuplicateID = errors.New("vault: duplicate account id")
	// ErrNotFound is returned for an unknown account ID.
	ErrNotFound = errors.New("vault: account not found")
	// ErrInvalidAccount wraps validation failures of account fields.
	ErrInvalidAccount = errors.New("vault: invalid account")
	// ErrPersistence is returned when the encrypted copy could not be written.
	ErrPersistence = errors.New("vault: persistence failed")
	// ErrCounterExhausted is returned when an HOTP counter cannot advance.
	ErrCounterExhausted = errors.New("vault: hotp counter exhausted")
)

// Vault is the in-memory account collection.
type Vault struct {
	mu       sync.Mutex
	accounts []models.Account // creation order
	nextPos  int

	store   storage.Store
	sealer  crypto.Sealer
	engine  *otp.Engine
	clock   clock.Clock
	log     *zap.Logger
	backoff func() retry.Backoff
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *Vault) {
		if log != nil {
			v.log = log
		}
	}
}

// WithClock sets the clock used for CreatedAt stamps.
func WithClock(c clock.Clock) Option {
	return func(v *Vault) { v.clock = c }
}

// WithEngine sets the OTP engine.
func WithEngine(e *otp.Engine) Option {
	return func(v *Vault) { v.engine = e }
}

// WithRetry sets how persistence writes are retried: exponential backoff
// starting at base, capped at maxDelay, for at most attempts retries.
func WithRetry(attempts uint64, base, maxDelay time.Duration) Option {
	return func(v *Vault) {
		v.backoff = func() retry.Backoff {
			b := retry.NewExponential(base)
			b = retry.WithCappedDuration(maxDelay, b)
			return retry.WithMaxRetries(attempts, b)
		}
	}
}

// Open loads the vault from store. A missing record yields an empty vault.
func Open(ctx context.Context, store storage.Store, sealer crypto.Sealer, opts ...Option) (*Vault, error) {
	v := &Vault{
		store:  store,
		sealer: sealer,
		engine: otp.NewEngine(),
		clock:  clock.New(),
		log:    zap.NewNop(),
	}
	WithRetry(3, 50*time.Millisecond, time.Second)(v)
	for _, opt := range opts {
		opt(v)
	}

	blob, err := store.Load(ctx, storage.KeyVault)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		v.log.Info("vault: no persisted copy, starting empty")
		return v, nil
	case err != nil:
		return nil, fmt.Errorf("load vault: %w", err)
	}

	plain, err := sealer.Open(blob, []byte(vaultAAD))
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	defer crypto.Wipe(plain)

	accounts, nextPos, err := decodeSnapshot(plain)
	if err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	v.accounts = accounts
	v.nextPos = nextPos
	v.log.Info("vault: loaded", zap.Int("accounts", len(accounts)))
	return v, nil
}

// Len returns the number of accounts.
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.accounts)
}

// Add validates acc and appends it. An empty ID is replaced by a new one.
func (v *Vault) Add(ctx context.Context, acc models.Account) (models.Account, error) {
	acc = acc.Clone()
	if acc.ID == "" {
		acc.ID = newID()
	}
	if err := prepare(&acc); err != nil {
		return models.Account{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.indexOf(acc.ID) >= 0 {
		return models.Account{}, fmt.Errorf("%w: %s", ErrDuplicateID, acc.ID)
	}

	acc.Position = v.nextPos
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = v.clock.Now().UTC()
	}

	next := append(cloneAll(v.accounts), acc)
	if err := v.commit(ctx, next, v.nextPos+1); err != nil {
		return models.Account{}, err
	}
	v.log.Info("vault: account added", zap.String("id", acc.ID), zap.Stringer("type", acc.Type))
	return acc.Clone(), nil
}

// Remove deletes the account with id.
func (v *Vault) Remove(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := make([]models.Account, 0, len(v.accounts)-1)
	next = append(next, cloneAll(v.accounts[:i])...)
	next = append(next, cloneAll(v.accounts[i+1:])...)
	if err := v.commit(ctx, next, v.nextPos); err != nil {
		return err
	}

	v.log.Info("vault: account removed", zap.String("id", id))
	return nil
}

// Rename changes the label and issuer of an account.
func (v *Vault) Rename(ctx context.Context, id, label, issuer string) (models.Account, error) {
	label = strings.TrimSpace(label)
	issuer = strings.TrimSpace(issuer)
	if label == "" {
		return models.Account{}, fmt.Errorf("%w: empty label", ErrInvalidAccount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexOf(id)
	if i < 0 {
		return models.Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := cloneAll(v.accounts)
	next[i].Label = label
	next[i].Issuer = issuer
	if err := v.commit(ctx, next, v.nextPos); err != nil {
		return models.Account{}, err
	}
	return next[i].Clone(), nil
}

// Get returns a copy of the account with id.
func (v *Vault) Get(id string) (models.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexOf(id)
	if i < 0 {
		return models.Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.accounts[i].Clone(), nil
}

// GenerateCode returns the current code of an account.
//
// TOTP codes are computed from a snapshot outside the lock. For HOTP the
// stored counter c is advanced to c+1 and persisted before code(c) is
// returned; concurrent draws are serialized and never share a counter.
func (v *Vault) GenerateCode(ctx context.Context, id string, now time.Time) (models.Code, error) {
	v.mu.Lock()
	i := v.indexOf(id)
	if i < 0 {
		v.mu.Unlock()
		return models.Code{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if v.accounts[i].Type != models.TypeHOTP {
		acc := v.accounts[i].Clone()
		v.mu.Unlock()
		defer acc.Secret.Wipe()
		return v.engine.Generate(acc, now.Unix())
	}
	defer v.mu.Unlock()

	acc := v.accounts[i]
	if acc.Counter == math.MaxUint64 {
		return models.Code{}, fmt.Errorf("%w: %s", ErrCounterExhausted, id)
	}
	code, err := v.engine.Generate(acc, now.Unix())
	if err != nil {
		return models.Code{}, err
	}

	next := cloneAll(v.accounts)
	next[i].Counter = acc.Counter + 1
	if err := v.commit(ctx, next, v.nextPos); err != nil {
		return models.Code{}, err
	}

	v.log.Debug("vault: hotp counter advanced", zap.String("id", id), zap.Uint64("counter", next[i].Counter))
	return code, nil
}

// Replace swaps the whole collection for accounts. Positions are reassigned
// in the given order.
func (v *Vault) Replace(ctx context.Context, accounts []models.Account) error {
	next := make([]models.Account, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	now := v.clock.Now().UTC()
	for i, a := range accounts {
		a = a.Clone()
		if a.ID == "" {
			a.ID = newID()
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
		}
		seen[a.ID] = struct{}{}
		if err := prepare(&a); err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
		a.Position = i
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		next = append(next, a)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.commit(ctx, next, len(next)); err != nil {
		return err
	}
	v.log.Info("vault: replaced", zap.Int("accounts", len(next)))
	return nil
}

// Merge appends the accounts that are not already present. An account is
// present when its ID is taken or an existing account has the same issuer,
// label and secret.
func (v *Vault) Merge(ctx context.Context, accounts []models.Account) (added, skipped int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := cloneAll(v.accounts)
	pos := v.nextPos
	now := v.clock.Now().UTC()
	for _, a := range accounts {
		a = a.Clone()
		if a.ID == "" {
			a.ID = newID()
		}
		if err := prepare(&a); err != nil {
			skipped++
			continue
		}
		if lo.ContainsBy(next, func(e models.Account) bool { return e.ID == a.ID || sameCredential(e, a) }) {
			skipped++
			continue
		}
		a.Position = pos
		pos++
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		next = append(next, a)
		added++
	}

	if added == 0 {
		return 0, skipped, nil
	}
	if err := v.commit(ctx, next, pos); err != nil {
		return 0, 0, err
	}
	v.log.Info("vault: merged", zap.Int("added", added), zap.Int("skipped", skipped))
	return added, skipped, nil
}

// commit persists next and swaps it in. Callers hold v.mu.
func (v *Vault) commit(ctx context.Context, next []models.Account, nextPos int) error {
	ctx = context.WithoutCancel(ctx)

	plain, err := encodeSnapshot(next, nextPos)
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	blob, err := v.sealer.Seal(plain, []byte(vaultAAD))
	crypto.Wipe(plain)
	if err != nil {
		return fmt.Errorf("%w: seal: %v", ErrPersistence, err)
	}

	attempt := 0
	err = retry.Do(ctx, v.backoff(), func(ctx context.Context) error {
		attempt++
		if err := v.store.Save(ctx, storage.KeyVault, blob); err != nil {
			if errors.Is(err, storage.ErrInvalidKey) {
				return err
			}
			v.log.Warn("vault: write failed", zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		v.log.Error("vault: giving up on write", zap.Int("attempts", attempt), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	old := v.accounts
	v.accounts = next
	v.nextPos = nextPos
	for _, a := range old {
		a.Secret.Wipe()
	}
	return nil
}

func (v *Vault) indexOf(id string) int {
	for i := range v.accounts {
		if v.accounts[i].ID == id {
			return i
		}
	}
	return -1
}

func prepare(acc *models.Account) error {
	acc.Label = strings.TrimSpace(acc.Label)
	acc.Issuer = strings.TrimSpace(acc.Issuer)
	acc.ApplyDefaults()
	if err := otp.Validate(*acc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	return nil
}

func sameCredential(a, b models.Account) bool {
	return a.Issuer == b.Issuer && a.Label == b.Label && string(a.Secret) == string(b.Secret)
}

func cloneAll(in []models.Account) []models.Account {
	return lo.Map(in, func(a models.Account, _ int) models.Account { return a.Clone() })
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
