package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/uri"
)

// AccountView is an account together with its current code. HOTP accounts
// carry no code until one is drawn explicitly.
type AccountView struct {
	models.Account
	Code *models.Code `json:"code,omitempty"`
}

// AddResult reports the outcome of AddFromURI.
type AddResult struct {
	// Added is the number of new accounts.
	Added int `json:"added"`
	// Skipped counts duplicates and entries that could not be represented.
	Skipped int `json:"skipped"`
	// Account is set when a single otpauth URI was added.
	Account *models.Account `json:"account,omitempty"`
}

// Accounts lists the accounts matching query with live TOTP codes. An empty
// mode uses the sort mode from settings.
func (a *Authenticator) Accounts(ctx context.Context, query string, mode models.SortMode) ([]AccountView, error) {
	if err := a.unlocked(); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = a.prefs.Current().SortMode
	}

	accounts := a.vault.Search(query, mode)
	defer wipeAll(accounts)

	now := a.clock.Now()
	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		view := AccountView{Account: acc}
		view.Secret = nil
		if acc.Type == models.TypeTOTP {
			code, err := a.vault.GenerateCode(ctx, acc.ID, now)
			if err != nil {
				a.log.Warn("service: code generation failed", zap.String("id", acc.ID), zap.Error(err))
			} else {
				view.Code = &code
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// Code returns the current code of one account. For HOTP accounts every
// call draws a new code and advances the counter.
func (a *Authenticator) Code(ctx context.Context, id string) (models.Code, error) {
	if err := a.unlocked(); err != nil {
		return models.Code{}, err
	}
	return a.vault.GenerateCode(ctx, id, a.clock.Now())
}

// AddAccount stores a manually entered account.
func (a *Authenticator) AddAccount(ctx context.Context, acc models.Account) (models.Account, error) {
	if err := a.unlocked(); err != nil {
		return models.Account{}, err
	}
	added, err := a.vault.Add(ctx, acc)
	if err != nil {
		return models.Account{}, err
	}
	redact(&added)
	return added, nil
}

// AddFromURI parses scanned text, either an otpauth URI or a migration
// URI, and stores the accounts it contains. Nothing is stored when the text
// does not parse. Migration entries already present are skipped.
func (a *Authenticator) AddFromURI(ctx context.Context, text string) (AddResult, error) {
	if err := a.unlocked(); err != nil {
		return AddResult{}, err
	}

	res, err := uri.Parse(text)
	if err != nil {
		return AddResult{}, err
	}
	defer wipeAll(res.Accounts)

	if res.Kind == uri.KindOTP {
		acc, err := a.vault.Add(ctx, res.Accounts[0])
		if err != nil {
			return AddResult{}, err
		}
		redact(&acc)
		return AddResult{Added: 1, Account: &acc}, nil
	}

	added, skipped, err := a.vault.Merge(ctx, res.Accounts)
	if err != nil {
		return AddResult{}, fmt.Errorf("add migration accounts: %w", err)
	}
	return AddResult{Added: added, Skipped: skipped + res.Skipped}, nil
}

// Rename changes the label and issuer of an account.
func (a *Authenticator) Rename(ctx context.Context, id, label, issuer string) (models.Account, error) {
	if err := a.unlocked(); err != nil {
		return models.Account{}, err
	}
	acc, err := a.vault.Rename(ctx, id, label, issuer)
	if err != nil {
		return models.Account{}, err
	}
	redact(&acc)
	return acc, nil
}

// Remove deletes an account.
func (a *Authenticator) Remove(ctx context.Context, id string) error {
	if err := a.unlocked(); err != nil {
		return err
	}
	return a.vault.Remove(ctx, id)
}
