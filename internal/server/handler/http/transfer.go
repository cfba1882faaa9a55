package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atinyakov/GophAuth/internal/service"
	"github.com/atinyakov/GophAuth/internal/uri"
)

const (
	defaultQRSize = 256
	maxQRSize     = 2048
)

// TransferService defines the export and import operations required by
// the TransferHandler.
type TransferService interface {
	// Export encrypts the vault; a step-up grant is required.
	Export(ctx context.Context, passphrase string) ([]byte, error)
	// Import decrypts blob and merges or replaces the vault.
	Import(ctx context.Context, blob []byte, passphrase string, mode service.ImportMode) (service.ImportResult, error)
	// ExportMigration encodes the vault as migration URIs; a step-up grant is required.
	ExportMigration(ctx context.Context, batchSize int) ([]string, int, error)
	// AccountQR renders one account as a PNG QR code; a step-up grant is required.
	AccountQR(ctx context.Context, id string, size int) ([]byte, error)
}

// TransferHandler handles HTTP requests for backups and account transfer.
type TransferHandler struct {
	TransferService TransferService
}

// ExportRequest represents the JSON payload for Export.
type ExportRequest struct {
	Passphrase string `json:"passphrase"`
}

// ExportResponse carries the encrypted backup, base64 encoded in JSON.
type ExportResponse struct {
	Backup []byte `json:"backup"`
}

// ImportRequest represents the JSON payload for Import.
type ImportRequest struct {
	Backup     []byte             `json:"backup"`
	Passphrase string             `json:"passphrase"`
	Mode       service.ImportMode `json:"mode"`
}

// MigrationRequest represents the JSON payload for ExportMigration.
type MigrationRequest struct {
	BatchSize int `json:"batch_size"`
}

// Export handles POST /api/export.
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	blob, err := h.TransferService.Export(r.Context(), req.Passphrase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{Backup: blob})
}

// Import handles POST /api/import.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Backup) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case "", service.ImportMerge, service.ImportReplace:
	default:
		http.Error(w, "invalid import mode", http.StatusBadRequest)
		return
	}

	res, err := h.TransferService.Import(r.Context(), req.Backup, req.Passphrase, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExportMigration handles POST /api/export/migration. An empty body uses
// the default batch size.
func (h *TransferHandler) ExportMigration(w http.ResponseWriter, r *http.Request) {
	req := MigrationRequest{BatchSize: uri.DefaultBatchSize}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BatchSize < 0 {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}

	uris, skipped, err := h.TransferService.ExportMigration(r.Context(), req.BatchSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uris": uris, "skipped": skipped})
}

// AccountQR handles GET /api/accounts/{id}/qr?size=.
func (h *TransferHandler) AccountQR(w http.ResponseWriter, r *http.Request) {
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxQRSize {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}
		size = n
	}

	png, err := h.TransferService.AccountQR(r.Context(), chi.URLParam(r, "id"), size)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
