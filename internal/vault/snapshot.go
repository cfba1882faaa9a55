package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/atinyakov/GophAuth/internal/codec"
	"github.com/atinyakov/GophAuth/internal/models"
)

const (
	vaultAAD       = "gophauth/vault"
	snapshotFormat = 1
)

type snapshot struct {
	Format       int      `json:"format"`
	NextPosition int      `json:"next_position"`
	Accounts     []record `json:"accounts"`
}

// record is the persisted form of an account. Unlike models.Account it
// carries the secret.
type record struct {
	ID        string           `json:"id"`
	Label     string           `json:"label"`
	Issuer    string           `json:"issuer"`
	Secret    string           `json:"secret"`
	Algorithm models.Algorithm `json:"algorithm"`
	Digits    int              `json:"digits"`
	Type      models.OtpType   `json:"type"`
	Period    int              `json:"period,omitempty"`
	Counter   uint64           `json:"counter,omitempty"`
	Position  int              `json:"position"`
	CreatedAt time.Time        `json:"created_at"`
}

func encodeSnapshot(accounts []models.Account, nextPos int) ([]byte, error) {
	s := snapshot{
		Format:       snapshotFormat,
		NextPosition: nextPos,
		Accounts: lo.Map(accounts, func(a models.Account, _ int) record {
			return record{
				ID:        a.ID,
				Label:     a.Label,
				Issuer:    a.Issuer,
				Secret:    codec.EncodeBase32(a.Secret),
				Algorithm: a.Algorithm,
				Digits:    a.Digits,
				Type:      a.Type,
				Period:    a.Period,
				Counter:   a.Counter,
				Position:  a.Position,
				CreatedAt: a.CreatedAt,
			}
		}),
	}
	return json.Marshal(s)
}

func decodeSnapshot(b []byte) ([]models.Account, int, error) {
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, 0, err
	}
	if s.Format != snapshotFormat {
		return nil, 0, fmt.Errorf("unknown vault format %d", s.Format)
	}

	accounts := make([]models.Account, 0, len(s.Accounts))
	nextPos := s.NextPosition
	for _, r := range s.Accounts {
		secret, err := codec.DecodeBase32(r.Secret)
		if err != nil {
			return nil, 0, fmt.Errorf("account %s: %w", r.ID, err)
		}
		accounts = append(accounts, models.Account{
			ID:        r.ID,
			Label:     r.Label,
			Issuer:    r.Issuer,
			Secret:    secret,
			Algorithm: r.Algorithm,
			Digits:    r.Digits,
			Type:      r.Type,
			Period:    r.Period,
			Counter:   r.Counter,
			Position:  r.Position,
			CreatedAt: r.CreatedAt,
		})
		if r.Position >= nextPos {
			nextPos = r.Position + 1
		}
	}
	return accounts, nextPos, nil
}
