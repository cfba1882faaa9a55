package codec

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEncoding is returned for text outside the base32 alphabet.
	ErrInvalidEncoding = errors.New("codec: invalid encoding")
	// ErrMalformedPayload is returned for truncated or inconsistent binary payloads.
	ErrMalformedPayload = errors.New("codec: malformed payload")
)

var rawBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeBase32 decodes an RFC 4648 base32 string.
//
// Input is case-insensitive, trailing padding is optional, and the spaces and
// dashes issuers print between groups are ignored.
func DecodeBase32(text string) ([]byte, error) {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == ' ' || r == '-' || r == '\t':
			continue
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r - 'a' + 'A')
		default:
			sb.WriteRune(r)
		}
	}
	s := strings.TrimRight(sb.String(), "=")
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidEncoding)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '2' || c > '7') {
			return nil, fmt.Errorf("%w: character %q at %d", ErrInvalidEncoding, c, i)
		}
	}
	out, err := rawBase32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return out, nil
}

// EncodeBase32 returns the upper-case, unpadded base32 form of b.
func EncodeBase32(b []byte) string {
	return rawBase32.EncodeToString(b)
}
