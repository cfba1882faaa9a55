package uri

import (
	"encoding/base64"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/atinyakov/GophAuth/internal/codec"
	"github.com/atinyakov/GophAuth/internal/models"
)

// migrationVersion is the payload version written by BuildMigrationURIs.
const migrationVersion = 1

// DefaultBatchSize is the number of accounts per exported migration QR code.
const DefaultBatchSize = 10

// MigrationResult is what one migration payload yields.
type MigrationResult struct {
	Accounts []models.Account
	// Skipped counts entries that could not be mapped to an account.
	Skipped    int
	BatchSize  int
	BatchIndex int
	BatchID    int32
}

// ParseMigrationBlob decodes a raw migration payload. Entries with an
// unsupported algorithm, digit count or type, or with an empty secret, are
// skipped and counted; a structurally broken payload fails as a whole.
func ParseMigrationBlob(b []byte) (MigrationResult, error) {
	p, err := codec.DecodeMigrationPayload(b)
	if err != nil {
		return MigrationResult{}, err
	}

	res := MigrationResult{
		BatchSize:  int(p.BatchSize),
		BatchIndex: int(p.BatchIndex),
		BatchID:    p.BatchID,
	}
	for _, raw := range p.Accounts {
		acc, ok := accountFromRaw(raw)
		if !ok {
			res.Skipped++
			continue
		}
		res.Accounts = append(res.Accounts, acc)
	}
	return res, nil
}

// ParseMigrationURI parses otpauth-migration://offline?data=BASE64.
func ParseMigrationURI(text string) (MigrationResult, error) {
	text = strings.TrimSpace(text)
	u, err := url.Parse(text)
	if err != nil {
		if hasScheme(text, schemeMigration) {
			return MigrationResult{}, invalid("parse: %v", err)
		}
		return MigrationResult{}, ErrUnrecognized
	}
	if !strings.EqualFold(u.Scheme, schemeMigration) {
		return MigrationResult{}, ErrUnrecognized
	}
	if !strings.EqualFold(u.Host, "offline") {
		return MigrationResult{}, invalid("unexpected host %q", u.Host)
	}

	data, ok := rawQueryParam(u.RawQuery, "data")
	if !ok || data == "" {
		return MigrationResult{}, invalid("missing data parameter")
	}
	blob, err := decodeBase64(data)
	if err != nil {
		return MigrationResult{}, invalid("data is not valid base64")
	}
	return ParseMigrationBlob(blob)
}

// BuildMigrationURIs encodes accounts into one or more migration URIs of at
// most batchSize accounts each. Accounts the format can not express (digit
// counts other than 6 and 8, or a TOTP period other than 30 seconds) are
// left out and counted in skipped.
func BuildMigrationURIs(accounts []models.Account, batchSize int) (uris []string, skipped int) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	fields := make([]codec.RawAccountFields, 0, len(accounts))
	for _, acc := range accounts {
		raw, ok := rawFromAccount(acc)
		if !ok {
			skipped++
			continue
		}
		fields = append(fields, raw)
	}
	if len(fields) == 0 {
		return nil, skipped
	}

	batches := (len(fields) + batchSize - 1) / batchSize
	batchID := rand.Int32()
	for i := 0; i < batches; i++ {
		end := min((i+1)*batchSize, len(fields))
		payload := codec.EncodeMigrationPayload(codec.MigrationPayload{
			Accounts:   fields[i*batchSize : end],
			Version:    migrationVersion,
			BatchSize:  int32(batches),
			BatchIndex: int32(i),
			BatchID:    batchID,
		})
		q := url.Values{}
		q.Set("data", base64.StdEncoding.EncodeToString(payload))
		uris = append(uris, schemeMigration+"://offline?"+q.Encode())
	}
	return uris, skipped
}

func accountFromRaw(raw codec.RawAccountFields) (models.Account, bool) {
	if len(raw.Secret) == 0 || raw.Counter < 0 {
		return models.Account{}, false
	}

	acc := models.Account{Secret: raw.Secret}

	switch raw.Algorithm {
	case codec.MigrationAlgorithmUnspecified, codec.MigrationAlgorithmSHA1:
		acc.Algorithm = models.AlgorithmSHA1
	case codec.MigrationAlgorithmSHA256:
		acc.Algorithm = models.AlgorithmSHA256
	case codec.MigrationAlgorithmSHA512:
		acc.Algorithm = models.AlgorithmSHA512
	default:
		return models.Account{}, false
	}

	switch raw.Digits {
	case codec.MigrationDigitsUnspecified, codec.MigrationDigitsSix:
		acc.Digits = 6
	case codec.MigrationDigitsEight:
		acc.Digits = 8
	default:
		return models.Account{}, false
	}

	switch raw.Type {
	case codec.MigrationTypeUnspecified, codec.MigrationTypeTOTP:
		acc.Type = models.TypeTOTP
	case codec.MigrationTypeHOTP:
		acc.Type = models.TypeHOTP
		acc.Counter = uint64(raw.Counter)
	default:
		return models.Account{}, false
	}

	acc.Issuer, acc.Label = splitLabel(raw.Name, strings.TrimSpace(raw.Issuer))
	acc.ApplyDefaults()
	return acc, true
}

func rawFromAccount(acc models.Account) (codec.RawAccountFields, bool) {
	raw := codec.RawAccountFields{
		Secret: acc.Secret,
		Issuer: acc.Issuer,
		Name:   acc.Label,
	}
	if acc.Issuer != "" {
		raw.Name = acc.Issuer + ":" + acc.Label
	}

	switch acc.Algorithm {
	case models.AlgorithmSHA1:
		raw.Algorithm = codec.MigrationAlgorithmSHA1
	case models.AlgorithmSHA256:
		raw.Algorithm = codec.MigrationAlgorithmSHA256
	case models.AlgorithmSHA512:
		raw.Algorithm = codec.MigrationAlgorithmSHA512
	default:
		return raw, false
	}

	switch acc.Digits {
	case 6:
		raw.Digits = codec.MigrationDigitsSix
	case 8:
		raw.Digits = codec.MigrationDigitsEight
	default:
		return raw, false
	}

	switch acc.Type {
	case models.TypeTOTP:
		if acc.Period != models.DefaultPeriod {
			return raw, false
		}
		raw.Type = codec.MigrationTypeTOTP
	case models.TypeHOTP:
		raw.Type = codec.MigrationTypeHOTP
		raw.Counter = int64(acc.Counter)
	default:
		return raw, false
	}
	return raw, len(acc.Secret) > 0
}

// rawQueryParam extracts a parameter without turning '+' into a space, since
// exporters do not always escape the base64 alphabet.
func rawQueryParam(rawQuery, name string) (string, bool) {
	for _, part := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(part, "=")
		if k != name {
			continue
		}
		out, err := url.PathUnescape(v)
		if err != nil {
			return "", false
		}
		return out, true
	}
	return "", false
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("-", "+", "_", "/", " ", "+").Replace(s)
	return base64.RawStdEncoding.DecodeString(s)
}
