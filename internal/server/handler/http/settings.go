package http

import (
	"encoding/json"
	"net/http"

	"github.com/atinyakov/GophAuth/internal/models"
	"github.com/atinyakov/GophAuth/internal/settings"
)

// SettingsHandler handles HTTP requests for user preferences.
type SettingsHandler struct {
	Settings settings.Provider
}

// SettingsRequest holds the preferences to change; nil fields are kept.
// Biometrics are changed through /api/biometrics since they need a prompt.
type SettingsRequest struct {
	SecureMode *bool                `json:"secure_mode"`
	SortMode   *models.SortMode     `json:"sort_mode"`
	Theme      *models.ThemeSetting `json:"theme"`
	Color      *models.ColorSetting `json:"color"`
}

// Get handles GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Current())
}

// Update handles PATCH /api/settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var err error
	if req.SecureMode != nil {
		err = h.Settings.SetSecureMode(ctx, *req.SecureMode)
	}
	if err == nil && req.SortMode != nil {
		err = h.Settings.SetSortMode(ctx, *req.SortMode)
	}
	if err == nil && req.Theme != nil {
		err = h.Settings.SetTheme(ctx, *req.Theme)
	}
	if err == nil && req.Color != nil {
		err = h.Settings.SetColor(ctx, *req.Color)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Current())
}
