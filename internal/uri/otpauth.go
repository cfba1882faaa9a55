// Package uri converts between account records and the text a QR code
// carries: otpauth:// key URIs and otpauth-migration:// batch exports.
// Parsing is pure and never touches the vault.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/atinyakov/GophAuth/internal/codec"
	"github.com/atinyakov/GophAuth/internal/models"
)

const (
	schemeOTP       = "otpauth"
	schemeMigration = "otpauth-migration"
)

var (
	// ErrInvalidURI is returned for text that is recognizably an OTP or
	// migration URI but cannot be turned into an account.
	ErrInvalidURI = errors.New("uri: invalid otp uri")
	// ErrUnrecognized is returned by Parse for text that is neither kind.
	ErrUnrecognized = errors.New("uri: not an otp or migration uri")
)

// ParseOtpURI parses an otpauth://TYPE/LABEL?PARAMS key URI.
//
// It returns (nil, nil) when text is not an OTP URI at all, and an error
// wrapping ErrInvalidURI when it is one but is malformed. The returned
// account has no ID and carries defaults for omitted parameters.
func ParseOtpURI(text string) (*models.Account, error) {
	text = strings.TrimSpace(text)
	u, err := url.Parse(text)
	if err != nil {
		if hasScheme(text, schemeOTP) {
			return nil, invalid("parse: %v", err)
		}
		return nil, nil
	}
	if !strings.EqualFold(u.Scheme, schemeOTP) {
		return nil, nil
	}
	typ, ok := models.ParseOtpType(u.Host)
	if !ok {
		return nil, nil
	}

	q := u.Query()
	acc := &models.Account{Type: typ}

	rawSecret := q.Get("secret")
	if rawSecret == "" {
		return nil, invalid("missing secret")
	}
	secret, err := codec.DecodeBase32(rawSecret)
	if err != nil || len(secret) == 0 {
		return nil, invalid("secret is not valid base32")
	}
	acc.Secret = secret

	issuerParam := strings.TrimSpace(q.Get("issuer"))
	acc.Issuer, acc.Label = splitLabel(strings.TrimPrefix(u.Path, "/"), issuerParam)

	if v := q.Get("algorithm"); v != "" {
		alg, ok := models.ParseAlgorithm(v)
		if !ok {
			return nil, invalid("unsupported algorithm %q", v)
		}
		acc.Algorithm = alg
	}
	if v := q.Get("digits"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < models.MinDigits || d > models.MaxDigits {
			return nil, invalid("digits %q out of range", v)
		}
		acc.Digits = d
	}
	if v := q.Get("period"); v != "" && typ == models.TypeTOTP {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 {
			return nil, invalid("invalid period %q", v)
		}
		acc.Period = p
	}
	if v := q.Get("counter"); v != "" && typ == models.TypeHOTP {
		c, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, invalid("invalid counter %q", v)
		}
		acc.Counter = c
	}

	acc.ApplyDefaults()
	return acc, nil
}

// BuildOtpURI renders acc as a key URI that ParseOtpURI reads back to the
// same account fields.
func BuildOtpURI(acc models.Account) string {
	acc.ApplyDefaults()

	label := acc.Label
	if acc.Issuer != "" {
		label = acc.Issuer + ":" + acc.Label
	}

	q := url.Values{}
	q.Set("secret", codec.EncodeBase32(acc.Secret))
	if acc.Issuer != "" {
		q.Set("issuer", acc.Issuer)
	}
	q.Set("algorithm", acc.Algorithm.String())
	q.Set("digits", strconv.Itoa(acc.Digits))
	switch acc.Type {
	case models.TypeHOTP:
		q.Set("counter", strconv.FormatUint(acc.Counter, 10))
	default:
		q.Set("period", strconv.Itoa(acc.Period))
	}

	u := url.URL{
		Scheme:   schemeOTP,
		Host:     acc.Type.String(),
		Path:     "/" + label,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// splitLabel separates "Issuer:Account". An explicit issuer parameter wins
// over the label prefix.
func splitLabel(label, issuerParam string) (issuer, account string) {
	if issuerParam != "" {
		if rest, ok := strings.CutPrefix(label, issuerParam+":"); ok {
			return issuerParam, strings.TrimSpace(rest)
		}
		if _, rest, ok := strings.Cut(label, ":"); ok {
			return issuerParam, strings.TrimSpace(rest)
		}
		return issuerParam, strings.TrimSpace(label)
	}
	if prefix, rest, ok := strings.Cut(label, ":"); ok {
		return strings.TrimSpace(prefix), strings.TrimSpace(rest)
	}
	return "", strings.TrimSpace(label)
}

func hasScheme(text, scheme string) bool {
	return len(text) > len(scheme) && strings.EqualFold(text[:len(scheme)+1], scheme+":")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidURI, fmt.Sprintf(format, args...))
}
