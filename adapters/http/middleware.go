package authhttp

import (
	"encoding/json"
	"net/http"

	core "github.com/PaulFidika/tokengate/core"
)

// Required verifies the request token and answers 403 {"error":"forbidden"} on any
// rejection. Verified claims are attached to the request context.
func Required(a core.Authenticator, tokenType ...core.TokenType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Verify(r.Context(), core.HTTPRequest(r), tokenType...)
			if err != nil {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(core.WithClaims(r.Context(), claims)))
		})
	}
}

// Optional attaches claims when a valid token is present and never blocks the request.
func Optional(a core.Authenticator, tokenType ...core.TokenType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := a.VerifyQuiet(r.Context(), core.HTTPRequest(r), tokenType...); ok {
				r = r.WithContext(core.WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
