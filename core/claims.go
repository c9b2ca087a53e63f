package core

import "maps"

// Provenance tag added to every verified claim set.
const (
	ClaimProvenance    = "provenance"
	ProvenanceExternal = "external"
)

// Claims is a verified JWT payload. Values keep their JSON-decoded types
// (numbers are float64, arrays are []any).
type Claims map[string]any

func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c Claims) Subject() string { return c.String("sub") }
func (c Claims) Issuer() string  { return c.String("iss") }

// Audience returns aud as a list whether it was encoded as a string or an array.
func (c Claims) Audience() []string {
	switch v := c["aud"].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExternallyVerified reports whether the claims came out of token verification rather
// than being asserted locally.
func (c Claims) ExternallyVerified() bool {
	return c.String(ClaimProvenance) == ProvenanceExternal
}

func tagExternal(payload map[string]any) Claims {
	c := make(Claims, len(payload)+1)
	maps.Copy(c, payload)
	c[ClaimProvenance] = ProvenanceExternal
	return c
}
