package client_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/backup"
	"github.com/atinyakov/GophAuth/internal/certgen"
	"github.com/atinyakov/GophAuth/internal/client"
	"github.com/atinyakov/GophAuth/internal/clock"
	"github.com/atinyakov/GophAuth/internal/crypto"
	"github.com/atinyakov/GophAuth/internal/lock"
	"github.com/atinyakov/GophAuth/internal/models"
	handler "github.com/atinyakov/GophAuth/internal/server/handler/http"
	"github.com/atinyakov/GophAuth/internal/service"
	"github.com/atinyakov/GophAuth/internal/settings"
	"github.com/atinyakov/GophAuth/internal/storage"
	"github.com/atinyakov/GophAuth/internal/vault"
)

const rfcURI = "otpauth://totp/Example:alice@example.com?secret=GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ&issuer=Example"

var fastKDF = crypto.KDFParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}

// newRouter wires the real vault, lock and settings over an in-memory store.
func newRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewFileStoreFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	clk := clock.NewManual(time.Unix(59, 0))

	v, err := vault.Open(ctx, store, crypto.NewAESGCM(crypto.NewStaticKey(bytes.Repeat([]byte{3}, crypto.KeySize))), vault.WithClock(clk))
	require.NoError(t, err)
	prefs, err := settings.Open(ctx, store, nil)
	require.NoError(t, err)
	m, err := lock.New(ctx, store, prefs, lock.WithHasher(crypto.NewPinHasher(fastKDF)), lock.WithClock(clk))
	require.NoError(t, err)

	svc := service.NewAuthenticator(v, m, prefs,
		service.WithClock(clk),
		service.WithBackupOptions(backup.Options{KDF: fastKDF}),
	)
	return handler.NewRouter(
		&handler.LockHandler{LockService: svc},
		&handler.AccountHandler{AccountService: svc},
		&handler.TransferHandler{TransferService: svc},
		&handler.SettingsHandler{Settings: prefs},
		m,
		zap.NewNop(),
	)
}

func newClient(t *testing.T) *client.Client {
	t.Helper()
	srv := httptest.NewServer(newRouter(t))
	t.Cleanup(srv.Close)
	return client.NewWithHTTPClient(srv.URL, srv.Client())
}

func TestClient_LockFlow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Unlocked, st.State)
	assert.False(t, st.HasPin)

	st, err = c.EnablePin(ctx, "2468")
	require.NoError(t, err)
	assert.True(t, st.HasPin)

	st, err = c.Lock(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.LockedPinOnly, st.State)

	_, err = c.Accounts(ctx, "", "")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusLocked, apiErr.Status)

	_, err = c.UnlockPin(ctx, "0000")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedAttempts)

	st, err = c.UnlockPin(ctx, "2468")
	require.NoError(t, err)
	assert.Equal(t, lock.Unlocked, st.State)
	assert.Zero(t, st.FailedAttempts)

	_, err = c.UnlockBiometric(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status, "already unlocked")

	_, err = c.SetBiometrics(ctx, true)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)

	st, err = c.DisablePin(ctx, "2468")
	require.NoError(t, err)
	assert.False(t, st.HasPin)
}

func TestClient_Accounts(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	res, err := c.Add(ctx, rfcURI)
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	id := res.Account.ID

	views, err := c.Accounts(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Code)
	assert.Equal(t, "287082", views[0].Code.Value)
	assert.Equal(t, models.TypeTOTP, views[0].Type)

	views, err = c.Accounts(ctx, "nobody", models.SortLabel)
	require.NoError(t, err)
	assert.Empty(t, views)

	code, err := c.Code(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "287082", code.Value)

	acc, err := c.Rename(ctx, id, "bob", "Corp")
	require.NoError(t, err)
	assert.Equal(t, "bob", acc.Label)
	assert.Equal(t, "Corp", acc.Issuer)

	require.NoError(t, c.Remove(ctx, id))

	var apiErr *client.APIError
	err = c.Remove(ctx, id)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.Add(ctx, "https://example.com")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestClient_TransferNeedsStepUp(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	res, err := c.Add(ctx, rfcURI)
	require.NoError(t, err)

	_, err = c.Export(ctx, "passphrase")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	granted, _, err := c.BeginStepUp(ctx)
	require.NoError(t, err)
	assert.True(t, granted, "no PIN grants immediately")
	blob, err := c.Export(ctx, "passphrase")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(blob, []byte("GAUTHBK")))

	imported, err := c.Import(ctx, blob, "passphrase", service.ImportMerge)
	require.NoError(t, err)
	assert.Equal(t, service.ImportResult{Skipped: 1}, imported)

	_, err = c.Import(ctx, blob, "wrong", service.ImportReplace)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	_, _, err = c.BeginStepUp(ctx)
	require.NoError(t, err)
	uris, skipped, err := c.ExportMigration(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, uris, 1)
	assert.Zero(t, skipped)

	_, _, err = c.BeginStepUp(ctx)
	require.NoError(t, err)
	png, err := c.QR(ctx, res.Account.ID, 128)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestClient_StepUpWithPin(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.EnablePin(ctx, "1357")
	require.NoError(t, err)

	granted, st, err := c.BeginStepUp(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.True(t, st.State.Locked())
	assert.True(t, st.StepUpPending)

	st, err = c.CancelStepUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Unlocked, st.State)
	assert.False(t, st.StepUpPending)
}

func TestClient_Settings(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	v, err := c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), v)

	mode := models.SortIssuer
	v, err = c.UpdateSettings(ctx, handler.SettingsRequest{SortMode: &mode})
	require.NoError(t, err)
	assert.Equal(t, models.SortIssuer, v.SortMode)

	bad := models.SortMode("random")
	_, err = c.UpdateSettings(ctx, handler.SettingsRequest{SortMode: &bad})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestNew_TLS(t *testing.T) {
	certPEM, keyPEM, err := certgen.GenerateSelfSigned([]string{"127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(newRouter(t))
	cert, err := tlsKeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	srv.TLS = cert
	srv.StartTLS()
	t.Cleanup(srv.Close)

	caFile := filepath.Join(t.TempDir(), "server.crt")
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))

	c, err := client.New(srv.URL, caFile)
	require.NoError(t, err)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lock.Unlocked, st.State)

	_, err = client.New(srv.URL, filepath.Join(t.TempDir(), "missing.crt"))
	assert.Error(t, err)
}

func tlsKeyPair(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func TestAPIError(t *testing.T) {
	assert.Equal(t, "Locked", (&client.APIError{Status: http.StatusLocked}).Error())
	assert.Equal(t, "app is locked (423)", (&client.APIError{Status: http.StatusLocked, Message: "app is locked"}).Error())
}
