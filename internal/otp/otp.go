// Package otp computes HMAC-based (RFC 4226) and time-based (RFC 6238)
// one-time passwords.
//
// The engine works on raw secret bytes so that key material can be wiped by
// its owner; no base32 copies of the secret are made here.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"math"

	"github.com/pquerna/otp/totp"

	"github.com/atinyakov/GophAuth/internal/codec"
	"github.com/atinyakov/GophAuth/internal/models"
)

var (
	// ErrUnsupportedAlgorithm is returned for an algorithm outside SHA1/SHA256/SHA512.
	ErrUnsupportedAlgorithm = errors.New("otp: unsupported algorithm")
	// ErrInvalidDigitCount is returned when digits is outside [6,10].
	ErrInvalidDigitCount = errors.New("otp: invalid digit count")
	// ErrEmptySecret is returned for a zero-length secret.
	ErrEmptySecret = errors.New("otp: empty secret")
	// ErrInvalidPeriod is returned for a non-positive TOTP period.
	ErrInvalidPeriod = errors.New("otp: invalid period")
)

// secretSize follows the RFC 4226 recommendation of a 160-bit key.
const secretSize = 20

// Engine generates one-time passwords. The zero value is ready to use.
type Engine struct{}

// NewEngine returns an OTP engine.
func NewEngine() *Engine {
	return &Engine{}
}

// HOTP computes the RFC 4226 code for counter.
func (e *Engine) HOTP(secret []byte, counter uint64, digits int, alg models.Algorithm) (string, error) {
	return HOTP(secret, counter, digits, alg)
}

// TOTP computes the RFC 6238 code for the Unix timestamp ts.
func (e *Engine) TOTP(secret []byte, ts int64, period, digits int, alg models.Algorithm, skew int64) (string, error) {
	return TOTP(secret, ts, period, digits, alg, skew)
}

// Generate computes the code an account shows at ts. For HOTP accounts the
// stored counter is used as is; advancing it is the vault's responsibility.
func (e *Engine) Generate(acc models.Account, ts int64) (models.Code, error) {
	switch acc.Type {
	case models.TypeTOTP:
		v, err := TOTP(acc.Secret, ts, acc.Period, acc.Digits, acc.Algorithm, 0)
		if err != nil {
			return models.Code{}, err
		}
		return models.Code{
			Value:            v,
			SecondsRemaining: SecondsRemaining(ts, acc.Period),
			Type:             models.TypeTOTP,
		}, nil
	case models.TypeHOTP:
		v, err := HOTP(acc.Secret, acc.Counter, acc.Digits, acc.Algorithm)
		if err != nil {
			return models.Code{}, err
		}
		return models.Code{Value: v, Counter: acc.Counter, Type: models.TypeHOTP}, nil
	default:
		return models.Code{}, fmt.Errorf("otp: unsupported type %d", int(acc.Type))
	}
}

// Validate checks the parameters an account needs to produce codes.
func Validate(acc models.Account) error {
	if len(acc.Secret) == 0 {
		return ErrEmptySecret
	}
	if _, err := hashFunc(acc.Algorithm); err != nil {
		return err
	}
	if err := checkDigits(acc.Digits); err != nil {
		return err
	}
	switch acc.Type {
	case models.TypeTOTP:
		if acc.Period <= 0 {
			return ErrInvalidPeriod
		}
	case models.TypeHOTP:
	default:
		return fmt.Errorf("otp: unsupported type %d", int(acc.Type))
	}
	return nil
}

// HOTP implements RFC 4226 section 5.3: HMAC over the 8-byte big-endian
// counter, dynamic truncation to 31 bits, reduction modulo 10^digits and
// left zero padding.
func HOTP(secret []byte, counter uint64, digits int, alg models.Algorithm) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if err := checkDigits(digits); err != nil {
		return "", err
	}
	h, err := hashFunc(alg)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(h, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := uint64(binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff)

	code := bin % uint64(math.Pow10(digits))
	return fmt.Sprintf("%0*d", digits, code), nil
}

// TOTP implements RFC 6238 with counter = floor(ts/period) + skew.
// A non-zero skew selects an adjacent window and is meant for verification.
func TOTP(secret []byte, ts int64, period, digits int, alg models.Algorithm, skew int64) (string, error) {
	if period <= 0 {
		return "", ErrInvalidPeriod
	}
	step := floorDiv(ts, int64(period)) + skew
	if step < 0 {
		step = 0
	}
	return HOTP(secret, uint64(step), digits, alg)
}

// SecondsRemaining returns how long the code for ts stays valid.
func SecondsRemaining(ts int64, period int) int {
	if period <= 0 {
		return 0
	}
	p := int64(period)
	return int(p - ((ts%p)+p)%p)
}

// Verify reports whether code matches the TOTP for ts within ±skew windows.
func Verify(code string, secret []byte, ts int64, period, digits int, alg models.Algorithm, skew int64) (bool, error) {
	if skew < 0 {
		skew = -skew
	}
	ok := false
	for i := -skew; i <= skew; i++ {
		want, err := TOTP(secret, ts, period, digits, alg, i)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			ok = true
		}
	}
	return ok, nil
}

// GenerateSecret creates a new random secret for a manually created account.
func GenerateSecret(issuer, label string) ([]byte, error) {
	if issuer == "" {
		issuer = "GophAuth"
	}
	if label == "" {
		label = "account"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: label,
		SecretSize:  secretSize,
	})
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return codec.DecodeBase32(key.Secret())
}

func checkDigits(d int) error {
	if d < models.MinDigits || d > models.MaxDigits {
		return fmt.Errorf("%w: %d", ErrInvalidDigitCount, d)
	}
	return nil
}

func hashFunc(alg models.Algorithm) (func() hash.Hash, error) {
	switch alg {
	case models.AlgorithmSHA1:
		return sha1.New, nil
	case models.AlgorithmSHA256:
		return sha256.New, nil
	case models.AlgorithmSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, alg)
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
