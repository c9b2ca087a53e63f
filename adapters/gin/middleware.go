package authgin

import (
	"net/http"

	core "github.com/PaulFidika/tokengate/core"
	"github.com/gin-gonic/gin"
)

const claimsKey = "auth.claims"

// Required verifies the request token and aborts with 403 {"error":"forbidden"} on any
// rejection. Verified claims are stored on the gin and request contexts.
func Required(a core.Authenticator, tokenType ...core.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.Verify(c.Request.Context(), core.HTTPRequest(c.Request), tokenType...)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		attach(c, claims)
		c.Next()
	}
}

// Optional attaches claims when a valid token is present and never blocks the request.
func Optional(a core.Authenticator, tokenType ...core.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := a.VerifyQuiet(c.Request.Context(), core.HTTPRequest(c.Request), tokenType...); ok {
			attach(c, claims)
		}
		c.Next()
	}
}

func attach(c *gin.Context, claims core.Claims) {
	c.Set(claimsKey, claims)
	if sub := claims.Subject(); sub != "" {
		c.Set("auth.subject", sub)
	}
	c.Request = c.Request.WithContext(core.WithClaims(c.Request.Context(), claims))
}

// ClaimsFromGin returns the claims attached by Required or Optional.
func ClaimsFromGin(c *gin.Context) (core.Claims, bool) {
	if v, ok := c.Get(claimsKey); ok {
		if cl, ok := v.(core.Claims); ok {
			return cl, true
		}
	}
	return core.ClaimsFromContext(c.Request.Context())
}
