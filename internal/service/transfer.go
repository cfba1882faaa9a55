package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/backup"
	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/uri"
)

// ImportMode selects how imported accounts combine with the vault.
type ImportMode string

const (
	// ImportMerge appends accounts that are not already present.
	ImportMerge ImportMode = "merge"
	// ImportReplace swaps the whole vault for the backup content.
	ImportReplace ImportMode = "replace"
)

// ImportResult reports the outcome of Import.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Export encrypts every account under passphrase. It requires a step-up
// grant, which it consumes.
func (a *Authenticator) Export(ctx context.Context, passphrase string) ([]byte, error) {
	if err := a.stepUp(); err != nil {
		return nil, err
	}

	accounts := a.vault.List(models.SortManual)
	defer wipeAll(accounts)

	opts := a.backup
	opts.Now = a.clock.Now()
	blob, err := backup.Export(accounts, passphrase, opts)
	if err != nil {
		return nil, err
	}
	a.log.Info("service: vault exported", zap.Int("accounts", len(accounts)))
	return blob, nil
}

// Import decrypts and validates blob completely before touching the vault.
// A wrong passphrase or damaged blob leaves the vault unchanged.
func (a *Authenticator) Import(ctx context.Context, blob []byte, passphrase string, mode ImportMode) (ImportResult, error) {
	if err := a.unlocked(); err != nil {
		return ImportResult{}, err
	}

	accounts, err := backup.Import(ctx, blob, passphrase)
	if err != nil {
		return ImportResult{}, err
	}
	defer wipeAll(accounts)

	switch mode {
	case ImportReplace:
		if err := a.vault.Replace(ctx, accounts); err != nil {
			return ImportResult{}, fmt.Errorf("replace vault: %w", err)
		}
		a.log.Info("service: vault replaced from backup", zap.Int("accounts", len(accounts)))
		return ImportResult{Added: len(accounts)}, nil
	case ImportMerge, "":
		added, skipped, err := a.vault.Merge(ctx, accounts)
		if err != nil {
			return ImportResult{}, fmt.Errorf("merge backup: %w", err)
		}
		a.log.Info("service: backup merged", zap.Int("added", added), zap.Int("skipped", skipped))
		return ImportResult{Added: added, Skipped: skipped}, nil
	default:
		return ImportResult{}, fmt.Errorf("unknown import mode %q", mode)
	}
}

// ExportMigration encodes the vault as migration URIs for transfer to
// another authenticator app. Accounts the format cannot carry are counted
// in skipped. It requires a step-up grant.
func (a *Authenticator) ExportMigration(ctx context.Context, batchSize int) (uris []string, skipped int, err error) {
	if err := a.stepUp(); err != nil {
		return nil, 0, err
	}

	accounts := a.vault.List(models.SortManual)
	defer wipeAll(accounts)

	uris, skipped = uri.BuildMigrationURIs(accounts, batchSize)
	return uris, skipped, nil
}

// AccountQR renders the otpauth URI of one account as a PNG QR code. It
// requires a step-up grant.
func (a *Authenticator) AccountQR(ctx context.Context, id string, size int) ([]byte, error) {
	if err := a.stepUp(); err != nil {
		return nil, err
	}

	acc, err := a.vault.Get(id)
	if err != nil {
		return nil, err
	}
	defer acc.Secret.Wipe()

	return backup.QRCode(uri.BuildOtpURI(acc), size)
}
