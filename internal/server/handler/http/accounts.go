package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/service"
)

// AccountService defines the vault operations required by the AccountHandler.
type AccountService interface {
	// Accounts lists accounts matching query with live TOTP codes.
	Accounts(ctx context.Context, query string, mode models.SortMode) ([]service.AccountView, error)
	// AddFromURI stores the accounts carried by an otpauth or migration URI.
	AddFromURI(ctx context.Context, text string) (service.AddResult, error)
	// Rename changes the label and issuer of an account.
	Rename(ctx context.Context, id, label, issuer string) (models.Account, error)
	// Remove deletes an account.
	Remove(ctx context.Context, id string) error
	// Code returns the current code; HOTP draws advance the counter.
	Code(ctx context.Context, id string) (models.Code, error)
}

// AccountHandler handles HTTP requests for vault accounts.
type AccountHandler struct {
	AccountService AccountService
}

// AddRequest represents the JSON payload for adding accounts.
type AddRequest struct {
	// URI is the scanned otpauth:// or otpauth-migration:// text.
	URI string `json:"uri"`
}

// RenameRequest represents the JSON payload for renaming an account.
type RenameRequest struct {
	Label  string `json:"label"`
	Issuer string `json:"issuer"`
}

// List handles GET /api/accounts?sort=&q=.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := models.SortMode(q.Get("sort"))
	if mode != "" && !mode.Valid() {
		http.Error(w, "invalid sort mode", http.StatusBadRequest)
		return
	}

	views, err := h.AccountService.Accounts(r.Context(), q.Get("q"), mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Add handles POST /api/accounts.
func (h *AccountHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URI) == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	res, err := h.AccountService.AddFromURI(r.Context(), req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Rename handles PATCH /api/accounts/{id}.
func (h *AccountHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	acc, err := h.AccountService.Rename(r.Context(), chi.URLParam(r, "id"), req.Label, req.Issuer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// Remove handles DELETE /api/accounts/{id}.
func (h *AccountHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.AccountService.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Code handles POST /api/accounts/{id}/code. It is a POST because HOTP
// draws change state.
func (h *AccountHandler) Code(w http.ResponseWriter, r *http.Request) {
	code, err := h.AccountService.Code(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}
