package vault

import (
	"cmp"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/atinyakov/GophAuth/internal/models"
)

// List returns copies of all accounts ordered by mode. Unknown modes fall
// back to manual order.
func (v *Vault) List(mode models.SortMode) []models.Account {
	v.mu.Lock()
	out := cloneAll(v.accounts)
	v.mu.Unlock()

	sortAccounts(out, mode)
	return out
}

// Search returns the accounts whose label or issuer contains query,
// case-insensitively. An empty query matches everything.
func (v *Vault) Search(query string, mode models.SortMode) []models.Account {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return v.List(mode)
	}

	v.mu.Lock()
	out := lo.FilterMap(v.accounts, func(a models.Account, _ int) (models.Account, bool) {
		if strings.Contains(strings.ToLower(a.Label), q) || strings.Contains(strings.ToLower(a.Issuer), q) {
			return a.Clone(), true
		}
		return models.Account{}, false
	})
	v.mu.Unlock()

	sortAccounts(out, mode)
	return out
}

func sortAccounts(accounts []models.Account, mode models.SortMode) {
	slices.SortStableFunc(accounts, func(a, b models.Account) int {
		switch mode {
		case models.SortLabel:
			return cmp.Or(
				cmp.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label)),
				cmp.Compare(a.Position, b.Position),
			)
		case models.SortIssuer:
			return cmp.Or(
				cmp.Compare(strings.ToLower(a.Issuer), strings.ToLower(b.Issuer)),
				cmp.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label)),
				cmp.Compare(a.Position, b.Position),
			)
		default:
			return cmp.Compare(a.Position, b.Position)
		}
	})
}
