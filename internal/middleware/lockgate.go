package middleware

import (
	"net/http"
)

// Gate reports whether the app is unlocked and records activity.
type Gate interface {
	IsUnlocked() bool
	Touch()
}

// RequireUnlocked answers 423 Locked while the app is locked. Passing
// requests count as user activity for the auto-lock timer.
func RequireUnlocked(g Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.IsUnlocked() {
				http.Error(w, "app is locked", http.StatusLocked)
				return
			}
			g.Touch()
			next.ServeHTTP(w, r)
		})
	}
}
