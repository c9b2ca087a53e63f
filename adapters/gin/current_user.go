package authgin

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// CallerView is a flat view of the authenticated caller for handlers.
type CallerView struct {
	Subject  string   `json:"subject"`
	Issuer   string   `json:"issuer,omitempty"`
	Audience []string `json:"audience,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`

	// Source is "claims" when a verified token was attached and "none" otherwise.
	Source string `json:"source"`
}

// CurrentCaller returns the caller snapshot. ok is false for unauthenticated requests.
func CurrentCaller(c *gin.Context) (CallerView, bool) {
	cl, ok := ClaimsFromGin(c)
	if !ok || cl.Subject() == "" || !cl.ExternallyVerified() {
		return CallerView{Source: "none"}, false
	}
	v := CallerView{
		Subject:  cl.Subject(),
		Issuer:   cl.Issuer(),
		Audience: cl.Audience(),
		Source:   "claims",
	}
	// scope is a space-separated string (RFC 8693); scp is an array in some issuers
	if s := cl.String("scope"); s != "" {
		v.Scopes = strings.Fields(s)
	} else if arr, ok := cl["scp"].([]any); ok {
		for _, x := range arr {
			if s, ok := x.(string); ok {
				v.Scopes = append(v.Scopes, s)
			}
		}
	}
	return v, true
}
