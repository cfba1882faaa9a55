package client_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophAuth/internal/client"
)

func runShell(t *testing.T, c *client.Client, fs afero.Fs, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	sh := client.NewShell(c, strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, fs)
	require.NoError(t, sh.Run(context.Background()))
	return out.String()
}

func TestShell_AccountsAndTransfer(t *testing.T) {
	c := newClient(t)
	fs := afero.NewMemMapFs()

	out := runShell(t, c, fs,
		"help",
		"add "+rfcURI,
		"list",
		"sort label",
		"settings",
		"export /backup.bin",
		"secret words",
		"secret words",
		"import /backup.bin",
		"secret words",
		"transfer",
		"bogus",
		"exit",
		"list",
	)

	assert.Contains(t, out, "Available commands:")
	assert.Contains(t, out, "Added Example:alice@example.com (")
	assert.Contains(t, out, "287082  1s")
	assert.Contains(t, out, "Sort mode: label")
	assert.Contains(t, out, "Secure mode: off")
	assert.Contains(t, out, "Backup written to /backup.bin")
	assert.Contains(t, out, "Imported 0 account(s), skipped 1")
	assert.Contains(t, out, "QR code 1 of 1")
	assert.Contains(t, out, "otpauth-migration://offline?data=")
	assert.Contains(t, out, "Unknown command.")
	assert.Contains(t, out, "Bye")
	assert.Equal(t, 1, strings.Count(out, "ISSUER"), "commands after exit are not run")

	blob, err := afero.ReadFile(fs, "/backup.bin")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(blob, []byte("GAUTHBK")))
}

func TestShell_PinAndStepUp(t *testing.T) {
	c := newClient(t)
	fs := afero.NewMemMapFs()

	out := runShell(t, c, fs,
		"pin set",
		"1234",
		"1234",
		"lock",
		"list",
		"unlock",
		"9999",
		"unlock",
		"1234",
		"export /b.bin",
		"pw",
		"pw",
		"1234",
		"status",
	)

	assert.Contains(t, out, "PIN: on, biometrics: off")
	assert.Contains(t, out, "State: locked_pin_only")
	assert.Contains(t, out, "error: app is locked, run 'unlock'")
	assert.Contains(t, out, "error: incorrect PIN")
	assert.Contains(t, out, "State: unlocked")
	assert.Contains(t, out, "Backup written to /b.bin")

	exists, err := afero.Exists(fs, "/b.bin")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestShell_Usage(t *testing.T) {
	c := newClient(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/b.bin", []byte("junk"), 0o600))

	out := runShell(t, c, fs,
		"rename x",
		"rm x",
		"n",
		"code",
		"import /missing.bin",
		"import /b.bin replace",
		"n",
		"import /b.bin overwrite",
		"pin set",
		"1234",
		"4321",
		"sort random",
		"transfer zero",
		"bio maybe",
	)

	assert.Contains(t, out, "error: usage: rename <id> <label> [issuer]")
	assert.Equal(t, 2, strings.Count(out, "Canceled"))
	assert.Contains(t, out, "error: usage: code <id>")
	assert.Contains(t, out, "error: file not found")
	assert.Contains(t, out, `error: unknown import mode "overwrite"`)
	assert.Contains(t, out, "error: pin entries do not match")
	assert.Contains(t, out, "error: usage: sort <manual|label|issuer>")
	assert.Contains(t, out, "error: usage: transfer [batch]")
	assert.Contains(t, out, "error: usage: bio on | bio off")
}

func TestShell_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sh := client.NewShell(newClient(t), strings.NewReader("status\n"), &bytes.Buffer{}, afero.NewMemMapFs())
	assert.ErrorIs(t, sh.Run(ctx), context.Canceled)
}
