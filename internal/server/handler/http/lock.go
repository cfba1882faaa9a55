package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/atinyakov/GophAuth/internal/lock"
)

// LockService defines the app-lock operations required by the LockHandler.
type LockService interface {
	// LockStatus returns the current lock snapshot.
	LockStatus() lock.Status
	// Lock locks the app and returns the new state.
	Lock() lock.State
	UnlockWithPin(ctx context.Context, pin string) error
	UnlockWithBiometrics(ctx context.Context) error
	EnablePin(ctx context.Context, pin string) error
	DisablePin(ctx context.Context, pin string) error
	EnableBiometrics(ctx context.Context) error
	DisableBiometrics(ctx context.Context) error
	// BeginStepUp starts re-authentication; granted is true when no PIN is set.
	BeginStepUp() (granted bool, err error)
	CancelStepUp() error
}

// LockHandler handles HTTP requests for the app lock.
type LockHandler struct {
	// LockService performs the underlying lock operations.
	LockService LockService
}

// PinRequest represents the JSON payload carrying a PIN.
type PinRequest struct {
	// Pin is the 4 to 16 digit PIN.
	Pin string `json:"pin"`
}

// Status handles GET /api/lock.
func (h *LockHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.LockService.LockStatus())
}

// Lock handles POST /api/lock.
func (h *LockHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.LockService.Lock()
	writeJSON(w, http.StatusOK, h.LockService.LockStatus())
}

// UnlockPin handles POST /api/unlock/pin with a {"pin": ...} body.
func (h *LockHandler) UnlockPin(w http.ResponseWriter, r *http.Request) {
	h.withPin(w, r, h.LockService.UnlockWithPin)
}

// UnlockBiometric handles POST /api/unlock/biometric.
func (h *LockHandler) UnlockBiometric(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.LockService.UnlockWithBiometrics(r.Context()))
}

// EnablePin handles POST /api/pin.
func (h *LockHandler) EnablePin(w http.ResponseWriter, r *http.Request) {
	h.withPin(w, r, h.LockService.EnablePin)
}

// DisablePin handles DELETE /api/pin; the current PIN is required.
func (h *LockHandler) DisablePin(w http.ResponseWriter, r *http.Request) {
	h.withPin(w, r, h.LockService.DisablePin)
}

// EnableBiometrics handles POST /api/biometrics.
func (h *LockHandler) EnableBiometrics(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.LockService.EnableBiometrics(r.Context()))
}

// DisableBiometrics handles DELETE /api/biometrics.
func (h *LockHandler) DisableBiometrics(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.LockService.DisableBiometrics(r.Context()))
}

// BeginStepUp handles POST /api/stepup. The response tells whether the
// grant was issued immediately or an unlock is needed first.
func (h *LockHandler) BeginStepUp(w http.ResponseWriter, r *http.Request) {
	granted, err := h.LockService.BeginStepUp()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granted": granted,
		"lock":    h.LockService.LockStatus(),
	})
}

// CancelStepUp handles DELETE /api/stepup.
func (h *LockHandler) CancelStepUp(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.LockService.CancelStepUp())
}

func (h *LockHandler) withPin(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	var req PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pin == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	h.respond(w, fn(r.Context(), req.Pin))
}

func (h *LockHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.LockService.LockStatus())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
