package codec

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Enum values of the migration wire format.
const (
	MigrationAlgorithmUnspecified int32 = 0
	MigrationAlgorithmSHA1        int32 = 1
	MigrationAlgorithmSHA256      int32 = 2
	MigrationAlgorithmSHA512      int32 = 3
	MigrationAlgorithmMD5         int32 = 4

	MigrationDigitsUnspecified int32 = 0
	MigrationDigitsSix         int32 = 1
	MigrationDigitsEight       int32 = 2

	MigrationTypeUnspecified int32 = 0
	MigrationTypeHOTP        int32 = 1
	MigrationTypeTOTP        int32 = 2
)

// Field numbers of MigrationPayload.
const (
	fieldOtpParameters protowire.Number = 1
	fieldVersion       protowire.Number = 2
	fieldBatchSize     protowire.Number = 3
	fieldBatchIndex    protowire.Number = 4
	fieldBatchID       protowire.Number = 5
)

// Field numbers of OtpParameters.
const (
	fieldSecret    protowire.Number = 1
	fieldName      protowire.Number = 2
	fieldIssuer    protowire.Number = 3
	fieldAlgorithm protowire.Number = 4
	fieldDigits    protowire.Number = 5
	fieldType      protowire.Number = 6
	fieldCounter   protowire.Number = 7
)

// RawAccountFields is one OtpParameters entry exactly as it appears on the wire.
// Enum fields keep their wire values; mapping them is the parser's job.
type RawAccountFields struct {
	Secret    []byte
	Name      string
	Issuer    string
	Algorithm int32
	Digits    int32
	Type      int32
	Counter   int64
}

// MigrationPayload is a decoded migration batch.
type MigrationPayload struct {
	Accounts   []RawAccountFields
	Version    int32
	BatchSize  int32
	BatchIndex int32
	BatchID    int32
}

// DecodeMigrationPayload parses the protobuf-encoded migration payload.
// Unknown fields are skipped. Any truncation or bad length prefix fails the
// whole decode with ErrMalformedPayload.
func DecodeMigrationPayload(b []byte) (MigrationPayload, error) {
	var p MigrationPayload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return MigrationPayload{}, wireError("payload tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldOtpParameters && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return MigrationPayload{}, wireError("otp_parameters", n)
			}
			acc, err := decodeOtpParameters(v)
			if err != nil {
				return MigrationPayload{}, fmt.Errorf("entry %d: %w", len(p.Accounts), err)
			}
			p.Accounts = append(p.Accounts, acc)
			b = b[n:]
		case isVarintField(num, typ, fieldVersion, fieldBatchSize, fieldBatchIndex, fieldBatchID):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MigrationPayload{}, wireError("batch field", n)
			}
			switch num {
			case fieldVersion:
				p.Version = int32(v)
			case fieldBatchSize:
				p.BatchSize = int32(v)
			case fieldBatchIndex:
				p.BatchIndex = int32(v)
			case fieldBatchID:
				p.BatchID = int32(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return MigrationPayload{}, wireError("unknown field", n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

func decodeOtpParameters(b []byte) (RawAccountFields, error) {
	var f RawAccountFields
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, wireError("parameter tag", n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldSecret || num == fieldName || num == fieldIssuer):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, wireError("length-delimited parameter", n)
			}
			switch num {
			case fieldSecret:
				f.Secret = bytes.Clone(v)
			case fieldName:
				f.Name = string(v)
			case fieldIssuer:
				f.Issuer = string(v)
			}
			b = b[n:]
		case isVarintField(num, typ, fieldAlgorithm, fieldDigits, fieldType, fieldCounter):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, wireError("varint parameter", n)
			}
			switch num {
			case fieldAlgorithm:
				f.Algorithm = int32(v)
			case fieldDigits:
				f.Digits = int32(v)
			case fieldType:
				f.Type = int32(v)
			case fieldCounter:
				f.Counter = int64(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, wireError("unknown parameter", n)
			}
			b = b[n:]
		}
	}
	return f, nil
}

// EncodeMigrationPayload serializes p in the migration wire format.
func EncodeMigrationPayload(p MigrationPayload) []byte {
	var out []byte
	for _, acc := range p.Accounts {
		out = protowire.AppendTag(out, fieldOtpParameters, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeOtpParameters(acc))
	}
	out = appendVarintField(out, fieldVersion, uint64(p.Version))
	out = appendVarintField(out, fieldBatchSize, uint64(p.BatchSize))
	out = appendVarintField(out, fieldBatchIndex, uint64(p.BatchIndex))
	out = appendVarintField(out, fieldBatchID, uint64(p.BatchID))
	return out
}

func encodeOtpParameters(f RawAccountFields) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldSecret, protowire.BytesType)
	out = protowire.AppendBytes(out, f.Secret)
	if f.Name != "" {
		out = protowire.AppendTag(out, fieldName, protowire.BytesType)
		out = protowire.AppendString(out, f.Name)
	}
	if f.Issuer != "" {
		out = protowire.AppendTag(out, fieldIssuer, protowire.BytesType)
		out = protowire.AppendString(out, f.Issuer)
	}
	out = appendVarintField(out, fieldAlgorithm, uint64(f.Algorithm))
	out = appendVarintField(out, fieldDigits, uint64(f.Digits))
	out = appendVarintField(out, fieldType, uint64(f.Type))
	out = appendVarintField(out, fieldCounter, uint64(f.Counter))
	return out
}

// appendVarintField skips zero values, as proto3 does for scalars.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func isVarintField(num protowire.Number, typ protowire.Type, want ...protowire.Number) bool {
	if typ != protowire.VarintType {
		return false
	}
	for _, w := range want {
		if num == w {
			return true
		}
	}
	return false
}

func wireError(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, what, protowire.ParseError(n))
}
