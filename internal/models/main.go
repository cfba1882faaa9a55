// Package models defines the core data structures for OTP accounts
// and the enums shared by the engine, the vault and the parsers.
package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultDigits is the code length used when an account does not specify one.
	DefaultDigits = 6
	// DefaultPeriod is the TOTP time step in seconds used when none is specified.
	DefaultPeriod = 30
	// MinDigits is the shortest supported code length.
	MinDigits = 6
	// MaxDigits is the longest supported code length.
	MaxDigits = 10
)

// Algorithm selects the HMAC hash used for OTP computation.
type Algorithm int

const (
	// AlgorithmSHA1 is HMAC-SHA1, the RFC 4226 default.
	AlgorithmSHA1 Algorithm = iota + 1
	// AlgorithmSHA256 is HMAC-SHA256.
	AlgorithmSHA256
	// AlgorithmSHA512 is HMAC-SHA512.
	AlgorithmSHA512
)

// String returns the canonical upper-case name used in otpauth URIs.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmSHA1:
		return "SHA1"
	case AlgorithmSHA256:
		return "SHA256"
	case AlgorithmSHA512:
		return "SHA512"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a == AlgorithmSHA1 || a == AlgorithmSHA256 || a == AlgorithmSHA512
}

// ParseAlgorithm parses an algorithm name, case-insensitively.
func ParseAlgorithm(s string) (Algorithm, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SHA1":
		return AlgorithmSHA1, true
	case "SHA256":
		return AlgorithmSHA256, true
	case "SHA512":
		return AlgorithmSHA512, true
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unsupported algorithm %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(b []byte) error {
	v, ok := ParseAlgorithm(string(b))
	if !ok {
		return fmt.Errorf("unsupported algorithm %q", b)
	}
	*a = v
	return nil
}

// OtpType selects time-based or counter-based code derivation.
type OtpType int

const (
	// TypeTOTP derives the counter from the current time.
	TypeTOTP OtpType = iota + 1
	// TypeHOTP uses a stored counter advanced on every draw.
	TypeHOTP
)

// String returns the otpauth host name for the type.
func (t OtpType) String() string {
	switch t {
	case TypeTOTP:
		return "totp"
	case TypeHOTP:
		return "hotp"
	default:
		return fmt.Sprintf("OtpType(%d)", int(t))
	}
}

// Valid reports whether t is TOTP or HOTP.
func (t OtpType) Valid() bool {
	return t == TypeTOTP || t == TypeHOTP
}

// ParseOtpType parses "totp" or "hotp", case-insensitively.
func ParseOtpType(s string) (OtpType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "totp":
		return TypeTOTP, true
	case "hotp":
		return TypeHOTP, true
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (t OtpType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unsupported otp type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OtpType) UnmarshalText(b []byte) error {
	v, ok := ParseOtpType(string(b))
	if !ok {
		return fmt.Errorf("unsupported otp type %q", b)
	}
	*t = v
	return nil
}

// Secret is the raw shared key of an account. It never prints its content.
type Secret []byte

// String redacts the secret so it can not leak through logs or fmt.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString redacts the secret for %#v.
func (s Secret) GoString() string {
	return "models.Secret([REDACTED])"
}

// Clone returns an independent copy of the secret.
func (s Secret) Clone() Secret {
	if s == nil {
		return nil
	}
	out := make(Secret, len(s))
	copy(out, s)
	return out
}

// Wipe overwrites the secret bytes with zeros.
func (s Secret) Wipe() {
	for i := range s {
		s[i] = 0
	}
}

// Account represents a single OTP credential stored in the vault.
type Account struct {
	// ID is the stable identifier, unique within a vault.
	ID string `json:"id"`
	// Label is the account name shown to the user (usually an email or login).
	Label string `json:"label"`
	// Issuer is the service that issued the credential.
	Issuer string `json:"issuer"`
	// Secret is the shared HMAC key. Excluded from default JSON encoding.
	Secret Secret `json:"-"`
	// Algorithm is the HMAC hash.
	Algorithm Algorithm `json:"algorithm"`
	// Digits is the code length, between MinDigits and MaxDigits.
	Digits int `json:"digits"`
	// Type selects TOTP or HOTP.
	Type OtpType `json:"type"`
	// Period is the TOTP step in seconds.
	Period int `json:"period"`
	// Counter is the next HOTP counter value to be drawn.
	Counter uint64 `json:"counter"`
	// Position is the creation order index used by the manual sort mode.
	Position int `json:"position"`
	// CreatedAt is when the account entered the vault.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the account, including the secret.
func (a Account) Clone() Account {
	a.Secret = a.Secret.Clone()
	return a
}

// ApplyDefaults fills zero-valued optional fields with the otpauth defaults.
func (a *Account) ApplyDefaults() {
	if a.Algorithm == 0 {
		a.Algorithm = AlgorithmSHA1
	}
	if a.Digits == 0 {
		a.Digits = DefaultDigits
	}
	if a.Type == 0 {
		a.Type = TypeTOTP
	}
	if a.Type == TypeTOTP && a.Period == 0 {
		a.Period = DefaultPeriod
	}
}

// DisplayName returns "Issuer (Label)" or just the label when there is no issuer.
func (a Account) DisplayName() string {
	if a.Issuer == "" {
		return a.Label
	}
	return fmt.Sprintf("%s (%s)", a.Issuer, a.Label)
}

// Code is a generated one-time password together with its context.
type Code struct {
	// Value is the zero-padded decimal code.
	Value string `json:"code"`
	// SecondsRemaining is the validity left in the current TOTP window; zero for HOTP.
	SecondsRemaining int `json:"seconds_remaining,omitempty"`
	// Counter is the HOTP counter the code was derived from.
	Counter uint64 `json:"counter,omitempty"`
	// Type is the account type the code belongs to.
	Type OtpType `json:"type"`
}

// SortMode defines the read-time ordering of the vault.
type SortMode string

const (
	// SortManual orders accounts by creation order.
	SortManual SortMode = "manual"
	// SortLabel orders accounts by label, case-insensitively.
	SortLabel SortMode = "label"
	// SortIssuer orders accounts by issuer, then label.
	SortIssuer SortMode = "issuer"
)

// Valid reports whether m is a known sort mode.
func (m SortMode) Valid() bool {
	switch m {
	case SortManual, SortLabel, SortIssuer:
		return true
	}
	return false
}

// ThemeSetting is the preferred UI theme.
type ThemeSetting string

const (
	// ThemeSystem follows the platform setting.
	ThemeSystem ThemeSetting = "system"
	// ThemeLight forces a light theme.
	ThemeLight ThemeSetting = "light"
	// ThemeDark forces a dark theme.
	ThemeDark ThemeSetting = "dark"
)

// ColorSetting is the preferred accent palette.
type ColorSetting string

const (
	// ColorDefault is the built-in palette.
	ColorDefault ColorSetting = "default"
	// ColorDynamic derives colors from the platform wallpaper.
	ColorDynamic ColorSetting = "dynamic"
	// ColorBlueberry is the blueberry blue palette.
	ColorBlueberry ColorSetting = "blueberry"
)
