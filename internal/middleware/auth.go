package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"trade-export/internal/domain"
)

// Authenticate requires a valid bearer token and stores its subject as the
// caller identity. Requests without one get 401.
func Authenticate(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := v.Validate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				writeUnauthorized(w, "invalid bearer token")
				return
			}
			if claims.Subject == "" {
				writeUnauthorized(w, "token has no subject")
				return
			}
			ctx := domain.WithIdentity(r.Context(), claims.Subject)
			reportIdentity(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="trade-export"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": msg,
	})
}
