// Package backup produces and reads the portable, passphrase-encrypted
// account export.
//
// Container layout (binary, big-endian):
//
//	[0..6]   magic "GAUTHBK"
//	[7]      container version (1)
//	[8..11]  argon2id memory (KiB)
//	[12..15] argon2id iterations
//	[16]     argon2id parallelism
//	[17..32] salt
//	[33..44] GCM nonce
//	[45..]   ciphertext + tag
//
// Bytes [0..44] are authenticated as additional data.
package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/atinyakov/GophAuth/internal/codec"
	"github.com/atinyakov/GophAuth/internal/crypto"
	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/otp"
)

const (
	magic            = "GAUTHBK"
	containerVersion = 1
	schemaVersion    = 1

	kdfSize    = 4 + 4 + 1
	headerSize = len(magic) + 1 + kdfSize + crypto.SaltSize + 12

	// Upper bounds on the cost parameters accepted from a container.
	maxMemory     = 1 << 20 // 1 GiB in KiB
	maxIterations = 64
)

var (
	// ErrDecryptionFailed is returned for a wrong passphrase or a tampered
	// container; the two cases are indistinguishable.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
	// ErrFormatVersionMismatch is returned for an unknown container or schema version.
	ErrFormatVersionMismatch = errors.New("backup: format version mismatch")
	// ErrMalformedPayload is returned when the container or its plaintext is structurally invalid.
	ErrMalformedPayload = errors.New("backup: malformed payload")
	// ErrEmptyPassphrase is returned when exporting without a passphrase.
	ErrEmptyPassphrase = errors.New("backup: empty passphrase")
)

// Options tune Export.
type Options struct {
	KDF crypto.KDFParams
	Now time.Time
}

type document struct {
	Schema     int       `json:"schema"`
	ExportedAt time.Time `json:"exported_at"`
	Accounts   []entry   `json:"accounts"`
}

type entry struct {
	ID        string           `json:"id"`
	Label     string           `json:"label"`
	Issuer    string           `json:"issuer"`
	Secret    string           `json:"secret"`
	Algorithm models.Algorithm `json:"algorithm"`
	Digits    int              `json:"digits"`
	Type      models.OtpType   `json:"type"`
	Period    int              `json:"period,omitempty"`
	Counter   uint64           `json:"counter,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Export serializes accounts and encrypts them under a key derived from
// passphrase. The plaintext only exists in memory and is wiped on return.
func Export(accounts []models.Account, passphrase string, opts Options) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if opts.KDF == (crypto.KDFParams{}) {
		opts.KDF = crypto.DefaultKDFParams
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	doc := document{
		Schema:     schemaVersion,
		ExportedAt: opts.Now.UTC(),
		Accounts: lo.Map(accounts, func(a models.Account, _ int) entry {
			return entry{
				ID:        a.ID,
				Label:     a.Label,
				Issuer:    a.Issuer,
				Secret:    codec.EncodeBase32(a.Secret),
				Algorithm: a.Algorithm,
				Digits:    a.Digits,
				Type:      a.Type,
				Period:    a.Period,
				Counter:   a.Counter,
				CreatedAt: a.CreatedAt,
			}
		}),
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	defer crypto.Wipe(plain)

	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.RandomBytes(crypto.NonceSize())
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey([]byte(passphrase), salt, opts.KDF)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	header := encodeHeader(opts.KDF, salt, nonce)
	sealed, err := crypto.SealWithKey(key, nonce, plain, header)
	if err != nil {
		return nil, err
	}
	return append(header, sealed...), nil
}

// Import decrypts and validates a container. It has no side effects; the
// caller decides how to apply the returned accounts. ctx is checked before
// and after key derivation.
func Import(ctx context.Context, blob []byte, passphrase string) ([]models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params, salt, nonce, err := decodeHeader(blob)
	if err != nil {
		return nil, err
	}

	key, err := crypto.DeriveKey([]byte(passphrase), salt, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	defer crypto.Wipe(key)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plain, err := crypto.OpenWithKey(key, nonce, blob[headerSize:], blob[:headerSize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer crypto.Wipe(plain)

	var doc document
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if doc.Schema != schemaVersion {
		return nil, fmt.Errorf("%w: schema %d", ErrFormatVersionMismatch, doc.Schema)
	}

	accounts := make([]models.Account, 0, len(doc.Accounts))
	for i, e := range doc.Accounts {
		secret, err := codec.DecodeBase32(e.Secret)
		if err != nil {
			return nil, fmt.Errorf("%w: account %d: %v", ErrMalformedPayload, i, err)
		}
		acc := models.Account{
			ID:        e.ID,
			Label:     e.Label,
			Issuer:    e.Issuer,
			Secret:    secret,
			Algorithm: e.Algorithm,
			Digits:    e.Digits,
			Type:      e.Type,
			Period:    e.Period,
			Counter:   e.Counter,
			CreatedAt: e.CreatedAt,
		}
		acc.ApplyDefaults()
		if err := otp.Validate(acc); err != nil {
			return nil, fmt.Errorf("%w: account %d: %v", ErrMalformedPayload, i, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func encodeHeader(p crypto.KDFParams, salt, nonce []byte) []byte {
	h := make([]byte, 0, headerSize)
	h = append(h, magic...)
	h = append(h, containerVersion)
	h = binary.BigEndian.AppendUint32(h, p.Memory)
	h = binary.BigEndian.AppendUint32(h, p.Iterations)
	h = append(h, p.Parallelism)
	h = append(h, salt...)
	h = append(h, nonce...)
	return h
}

func decodeHeader(blob []byte) (crypto.KDFParams, []byte, []byte, error) {
	var p crypto.KDFParams
	if len(blob) < len(magic)+1 || !bytes.Equal(blob[:len(magic)], []byte(magic)) {
		return p, nil, nil, fmt.Errorf("%w: not a backup container", ErrMalformedPayload)
	}
	if v := blob[len(magic)]; v != containerVersion {
		return p, nil, nil, fmt.Errorf("%w: container version %d", ErrFormatVersionMismatch, v)
	}
	if len(blob) <= headerSize {
		return p, nil, nil, fmt.Errorf("%w: truncated container", ErrMalformedPayload)
	}

	off := len(magic) + 1
	p.Memory = binary.BigEndian.Uint32(blob[off:])
	p.Iterations = binary.BigEndian.Uint32(blob[off+4:])
	p.Parallelism = blob[off+8]
	off += kdfSize

	if p.Validate() != nil || p.Memory > maxMemory || p.Iterations > maxIterations {
		return p, nil, nil, fmt.Errorf("%w: kdf parameters out of range", ErrMalformedPayload)
	}

	salt := blob[off : off+crypto.SaltSize]
	off += crypto.SaltSize
	nonce := blob[off:headerSize]
	return p, salt, nonce, nil
}
