package uri

import (
	"errors"

	"github.com/atinyakov/GophAuth/internal/models"
)

// Kind tells which format a scanned text was in.
type Kind int

const (
	KindOTP Kind = iota + 1
	KindMigration
)

// Result is the outcome of Parse.
type Result struct {
	Kind     Kind
	Accounts []models.Account
	Skipped  int
}

// Parse accepts any scanned text: a key URI yields one account, a migration
// URI yields its batch. Anything else fails with ErrUnrecognized.
func Parse(text string) (Result, error) {
	acc, err := ParseOtpURI(text)
	if err != nil {
		return Result{}, err
	}
	if acc != nil {
		return Result{Kind: KindOTP, Accounts: []models.Account{*acc}}, nil
	}

	m, err := ParseMigrationURI(text)
	if err != nil {
		if errors.Is(err, ErrUnrecognized) {
			return Result{}, ErrUnrecognized
		}
		return Result{}, err
	}
	return Result{Kind: KindMigration, Accounts: m.Accounts, Skipped: m.Skipped}, nil
}
