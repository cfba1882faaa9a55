// Package http provides HTTP routing and handlers for the GophAuth local API.
package http

import (
	"net/http"

	"github.com/atinyakov/GophAuth/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the
// GophAuth API.
//
// Routes:
//
//	GET    /api/lock                 → lockHandler.Status
//	POST   /api/lock                 → lockHandler.Lock
//	POST   /api/unlock/pin           → lockHandler.UnlockPin
//	POST   /api/unlock/biometric     → lockHandler.UnlockBiometric
//	POST   /api/pin                  → lockHandler.EnablePin
//	DELETE /api/pin                  → lockHandler.DisablePin
//	POST   /api/biometrics           → lockHandler.EnableBiometrics
//	DELETE /api/biometrics           → lockHandler.DisableBiometrics
//	POST   /api/stepup               → lockHandler.BeginStepUp
//	DELETE /api/stepup               → lockHandler.CancelStepUp
//
// Protected by RequireUnlocked:
//
//	GET    /api/accounts             → accountHandler.List
//	POST   /api/accounts             → accountHandler.Add
//	PATCH  /api/accounts/{id}        → accountHandler.Rename
//	DELETE /api/accounts/{id}        → accountHandler.Remove
//	POST   /api/accounts/{id}/code   → accountHandler.Code
//	GET    /api/accounts/{id}/qr     → transferHandler.AccountQR
//	POST   /api/export               → transferHandler.Export
//	POST   /api/export/migration     → transferHandler.ExportMigration
//	POST   /api/import               → transferHandler.Import
//	GET    /api/settings             → settingsHandler.Get
//	PATCH  /api/settings             → settingsHandler.Update
func NewRouter(
	lockHandler *LockHandler,
	accountHandler *AccountHandler,
	transferHandler *TransferHandler,
	settingsHandler *SettingsHandler,
	gate middleware.Gate,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	// Only allow request bodies with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/lock", lockHandler.Status)
		r.Post("/lock", lockHandler.Lock)
		r.Post("/unlock/pin", lockHandler.UnlockPin)
		r.Post("/unlock/biometric", lockHandler.UnlockBiometric)
		r.Post("/pin", lockHandler.EnablePin)
		r.Delete("/pin", lockHandler.DisablePin)
		r.Post("/biometrics", lockHandler.EnableBiometrics)
		r.Delete("/biometrics", lockHandler.DisableBiometrics)
		r.Post("/stepup", lockHandler.BeginStepUp)
		r.Delete("/stepup", lockHandler.CancelStepUp)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUnlocked(gate))

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", accountHandler.List)
				r.Post("/", accountHandler.Add)
				r.Patch("/{id}", accountHandler.Rename)
				r.Delete("/{id}", accountHandler.Remove)
				r.Post("/{id}/code", accountHandler.Code)
				r.Get("/{id}/qr", transferHandler.AccountQR)
			})
			r.Post("/export", transferHandler.Export)
			r.Post("/export/migration", transferHandler.ExportMigration)
			r.Post("/import", transferHandler.Import)
			r.Get("/settings", settingsHandler.Get)
			r.Patch("/settings", settingsHandler.Update)
		})
	})

	return r
}
