package crypto_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophAuth/internal/crypto"
)

var fastParams = crypto.KDFParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}

func testKey(b byte) crypto.StaticKey {
	return crypto.NewStaticKey(bytes.Repeat([]byte{b}, crypto.KeySize))
}

func TestAESGCM_RoundTrip(t *testing.T) {
	t.Parallel()

	s := crypto.NewAESGCM(testKey(1))
	env, err := s.Seal([]byte("vault contents"), []byte("vault"))
	require.NoError(t, err)

	plain, err := s.Open(env, []byte("vault"))
	require.NoError(t, err)
	assert.Equal(t, []byte("vault contents"), plain)

	again, err := s.Seal([]byte("vault contents"), []byte("vault"))
	require.NoError(t, err)
	assert.NotEqual(t, env, again, "nonce must differ between seals")
}

func TestAESGCM_FailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	s := crypto.NewAESGCM(testKey(1))
	env, err := s.Seal([]byte("vault contents"), []byte("vault"))
	require.NoError(t, err)

	_, err = crypto.NewAESGCM(testKey(2)).Open(env, []byte("vault"))
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	tampered := bytes.Clone(env)
	tampered[len(tampered)-1] ^= 0x01
	_, err = s.Open(tampered, []byte("vault"))
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	_, err = s.Open(env, []byte("other"))
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestAESGCM_EnvelopeErrors(t *testing.T) {
	t.Parallel()

	s := crypto.NewAESGCM(testKey(1))
	_, err := s.Open([]byte{0, 1, 2}, nil)
	assert.ErrorIs(t, err, crypto.ErrCiphertextTooShort)

	env, err := s.Seal([]byte("x"), nil)
	require.NoError(t, err)
	env[1] = 9
	_, err = s.Open(env, nil)
	assert.ErrorIs(t, err, crypto.ErrUnsupportedVersion)

	_, err = crypto.NewAESGCM(crypto.StaticKey{}).Seal([]byte("x"), nil)
	assert.ErrorIs(t, err, crypto.ErrMissingKey)

	_, err = crypto.NewAESGCM(crypto.NewStaticKey([]byte("short"))).Seal([]byte("x"), nil)
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
}

func TestKeyFromBase64(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{7}, crypto.KeySize)
	k, err := crypto.KeyFromBase64(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	got, err := k.Key()
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = crypto.KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)

	_, err = crypto.KeyFromBase64("not base64!")
	assert.Error(t, err)
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys", "vault.key")
	first, err := crypto.LoadOrCreateKeyFile(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := crypto.LoadOrCreateKeyFile(path)
	require.NoError(t, err)

	a, _ := first.Key()
	b, _ := second.Key()
	assert.Equal(t, a, b)
	assert.Len(t, a, crypto.KeySize)
}

func TestPinHasher(t *testing.T) {
	t.Parallel()

	h := crypto.NewPinHasher(fastParams)
	encoded, err := h.Hash("1234")
	require.NoError(t, err)
	assert.NotContains(t, encoded, "1234")
	assert.Contains(t, encoded, "$argon2id$")

	assert.True(t, h.Verify(encoded, "1234"))
	assert.False(t, h.Verify(encoded, "4321"))
	assert.False(t, h.Verify(encoded, ""))
	assert.False(t, h.Verify("garbage", "1234"))

	other, err := h.Hash("1234")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, other, "hashes must be salted")
}

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{3}, crypto.SaltSize)
	a, err := crypto.DeriveKey([]byte("passphrase"), salt, fastParams)
	require.NoError(t, err)
	b, err := crypto.DeriveKey([]byte("passphrase"), salt, fastParams)
	require.NoError(t, err)
	c, err := crypto.DeriveKey([]byte("other"), salt, fastParams)
	require.NoError(t, err)

	assert.Len(t, a, crypto.KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = crypto.DeriveKey([]byte("x"), salt, crypto.KDFParams{})
	assert.ErrorIs(t, err, crypto.ErrInvalidKDFParams)
}

func TestWipe(t *testing.T) {
	t.Parallel()

	b := []byte("secret")
	crypto.Wipe(b)
	assert.Equal(t, make([]byte, 6), b)
}
