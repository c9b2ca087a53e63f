package authhttp

import (
	"net/http"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeyPublisher exposes the public verification keys; *core.Facade implements it for static
// asymmetric configs.
type KeyPublisher interface {
	JWKS() (jwk.Set, error)
}

// JWKSHandler serves the public JWKS document.
func JWKSHandler(p KeyPublisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set, err := p.JWKS()
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "jwks_unavailable"})
			return
		}
		jwtkit.ServeJWKS(w, r, set)
	})
}
