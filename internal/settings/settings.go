// Package settings holds user preferences and notifies subscribers when
// they change.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/storage"
)

// ErrInvalidValue is returned by setters for values outside their enum.
var ErrInvalidValue = errors.New("settings: invalid value")

// Values is a snapshot of all preferences.
type Values struct {
	SecureMode    bool                `json:"secure_mode"`
	UseBiometrics bool                `json:"use_biometrics"`
	SortMode      models.SortMode     `json:"sort_mode"`
	Theme         models.ThemeSetting `json:"theme"`
	Color         models.ColorSetting `json:"color"`
}

// Defaults returns the preferences of a fresh install.
func Defaults() Values {
	return Values{
		SortMode: models.SortManual,
		Theme:    models.ThemeSystem,
		Color:    models.ColorDefault,
	}
}

// Provider reads and updates preferences. Subscribers are called after
// every successful change with the new snapshot.
type Provider interface {
	Current() Values
	SetSecureMode(ctx context.Context, v bool) error
	SetUseBiometrics(ctx context.Context, v bool) error
	SetSortMode(ctx context.Context, v models.SortMode) error
	SetTheme(ctx context.Context, v models.ThemeSetting) error
	SetColor(ctx context.Context, v models.ColorSetting) error
	Subscribe(fn func(Values)) (unsubscribe func())
}

// Persistent is a Provider that writes every change to a storage.Store.
type Persistent struct {
	mu     sync.Mutex
	values Values
	store  storage.Store
	log    *zap.Logger

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Values)
}

// Open loads saved preferences, falling back to Defaults.
func Open(ctx context.Context, store storage.Store, log *zap.Logger) (*Persistent, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Persistent{
		values: Defaults(),
		store:  store,
		log:    log,
		subs:   make(map[int]func(Values)),
	}

	data, err := store.Load(ctx, storage.KeySettings)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := json.Unmarshal(data, &p.values); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	p.values = sanitize(p.values)
	return p, nil
}

// Current returns the current snapshot.
func (p *Persistent) Current() Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values
}

func (p *Persistent) SetSecureMode(ctx context.Context, v bool) error {
	return p.update(ctx, func(s *Values) { s.SecureMode = v })
}

func (p *Persistent) SetUseBiometrics(ctx context.Context, v bool) error {
	return p.update(ctx, func(s *Values) { s.UseBiometrics = v })
}

func (p *Persistent) SetSortMode(ctx context.Context, v models.SortMode) error {
	if !v.Valid() {
		return fmt.Errorf("%w: sort mode %q", ErrInvalidValue, v)
	}
	return p.update(ctx, func(s *Values) { s.SortMode = v })
}

func (p *Persistent) SetTheme(ctx context.Context, v models.ThemeSetting) error {
	if !validTheme(v) {
		return fmt.Errorf("%w: theme %q", ErrInvalidValue, v)
	}
	return p.update(ctx, func(s *Values) { s.Theme = v })
}

func (p *Persistent) SetColor(ctx context.Context, v models.ColorSetting) error {
	if !validColor(v) {
		return fmt.Errorf("%w: color %q", ErrInvalidValue, v)
	}
	return p.update(ctx, func(s *Values) { s.Color = v })
}

// Subscribe registers fn for change notifications.
func (p *Persistent) Subscribe(fn func(Values)) func() {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

func (p *Persistent) update(ctx context.Context, apply func(*Values)) error {
	p.mu.Lock()
	next := p.values
	apply(&next)
	if next == p.values {
		p.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(next)
	if err == nil {
		err = p.store.Save(context.WithoutCancel(ctx), storage.KeySettings, data)
	}
	if err != nil {
		p.mu.Unlock()
		p.log.Error("settings: save failed", zap.Error(err))
		return fmt.Errorf("save settings: %w", err)
	}
	p.values = next
	p.mu.Unlock()

	p.notify(next)
	return nil
}

func (p *Persistent) notify(v Values) {
	p.subMu.Lock()
	fns := make([]func(Values), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func sanitize(v Values) Values {
	d := Defaults()
	if !v.SortMode.Valid() {
		v.SortMode = d.SortMode
	}
	if !validTheme(v.Theme) {
		v.Theme = d.Theme
	}
	if !validColor(v.Color) {
		v.Color = d.Color
	}
	return v
}

func validTheme(t models.ThemeSetting) bool {
	switch t {
	case models.ThemeSystem, models.ThemeLight, models.ThemeDark:
		return true
	}
	return false
}

func validColor(c models.ColorSetting) bool {
	switch c {
	case models.ColorDefault, models.ColorDynamic, models.ColorBlueberry:
		return true
	}
	return false
}
