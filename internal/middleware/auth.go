package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/famcal/internal/auth"
)

// UserHeader carries the caller's identity, set by the fronting app.
const UserHeader = "X-User-ID"

// RequireUser populates AuthContext from the user header and rejects
// requests without one.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing " + UserHeader + " header"})
			return
		}

		ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
