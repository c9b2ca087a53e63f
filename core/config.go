package core

import (
	"crypto"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
)

// TokenType is the policy governing where a token may be read from.
type TokenType string

const (
	HeaderOnly      TokenType = "header"
	QueryOnly       TokenType = "query"
	HeaderThenQuery TokenType = "header_then_query"
)

// ParseTokenType parses the config spelling of a token type.
func ParseTokenType(s string) (TokenType, error) {
	switch t := TokenType(strings.ToLower(strings.TrimSpace(s))); t {
	case HeaderOnly, QueryOnly, HeaderThenQuery:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown token type %q", ErrConfiguration, s)
}

func (t TokenType) valid() bool {
	return t == HeaderOnly || t == QueryOnly || t == HeaderThenQuery
}

// AuthMode selects the key resolution strategy.
type AuthMode string

const (
	// ModeJWKS verifies against keys fetched from a remote JWKS document. It cannot sign.
	ModeJWKS AuthMode = "jwks"
	// ModeStatic verifies (and optionally signs) with a configured secret or key pair.
	ModeStatic AuthMode = "static"
)

const defaultComponentIdentity = "tokengate"

// VerifyOptions controls signature and claim checks.
type VerifyOptions struct {
	// Algorithms is the allow-list of JWS algorithms. "none" is accepted only when listed.
	Algorithms []string
	// Issuer, when non-empty, requires the token's iss to be one of these values.
	// A single element is an exact-equality check.
	Issuer []string
	// Audience, when non-empty, requires the token's aud to contain one of these values.
	Audience         []string
	ClockTolerance   time.Duration
	IgnoreExpiration bool
	IgnoreNotBefore  bool
	// RequireExpiration rejects tokens without an exp claim.
	RequireExpiration bool
}

func (o VerifyOptions) clone() VerifyOptions {
	o.Algorithms = slices.Clone(o.Algorithms)
	o.Issuer = slices.Clone(o.Issuer)
	o.Audience = slices.Clone(o.Audience)
	return o
}

// SignOptions are the registered-claim options applied when signing.
//
// An override passed to Sign replaces the default option set as a whole; it is not merged
// field by field. A partial override therefore drops the default subject, issuer, expiry and
// audience unless the caller repeats them. A zero ExpiresIn means the token never expires.
type SignOptions struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresIn time.Duration
	// NotBefore, when non-zero, sets nbf relative to the issue time.
	NotBefore time.Duration
	// KeyID overrides the kid header; empty uses the configured key id.
	KeyID string
}

// AuthConfig is loaded once at startup and is immutable afterwards.
type AuthConfig struct {
	BearerPrefix      string
	QueryParamName    string
	DefaultTokenType  TokenType
	AllowedTokenTypes []TokenType

	AuthMode AuthMode
	// KeyURL is the JWKS endpoint (ModeJWKS only).
	KeyURL string
	// Static key material (ModeStatic only): a secret, or a public and/or private key.
	SecretKey  []byte
	PublicKey  crypto.PublicKey
	PrivateKey crypto.Signer
	KeyID      string
	// SigningAlgorithm defaults to the first configured algorithm compatible with the key.
	SigningAlgorithm string

	TokenLifespanMinutes int
	// AllowNonExpiringTokens must be set for TokenLifespanMinutes == 0.
	AllowNonExpiringTokens bool
	// ComponentIdentity is the fallback issuer for signed tokens.
	ComponentIdentity string

	// KeyCacheTTL bounds how long a resolved JWKS key is reused. Zero keeps keys for the
	// process lifetime.
	KeyCacheTTL time.Duration
	// KeyCachePurgeSchedule is an optional cron spec that empties the key cache.
	KeyCachePurgeSchedule string
	JWKSFetchTimeout      time.Duration

	Verify VerifyOptions
}

// DefaultAuthConfig returns the documented defaults. Key material and mode must still be set.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		BearerPrefix:         "Bearer",
		QueryParamName:       "passtk",
		DefaultTokenType:     HeaderThenQuery,
		AllowedTokenTypes:    []TokenType{HeaderOnly, QueryOnly, HeaderThenQuery},
		AuthMode:             ModeJWKS,
		TokenLifespanMinutes: 60,
		ComponentIdentity:    defaultComponentIdentity,
		KeyCacheTTL:          time.Hour,
		JWKSFetchTimeout:     5 * time.Second,
		Verify:               VerifyOptions{Algorithms: []string{"RS256"}},
	}
}

// normalized fills derived fields. The receiver is not modified.
func (c AuthConfig) normalized() AuthConfig {
	c.AllowedTokenTypes = slices.Clone(c.AllowedTokenTypes)
	c.SecretKey = slices.Clone(c.SecretKey)
	c.Verify = c.Verify.clone()
	if c.ComponentIdentity == "" {
		c.ComponentIdentity = defaultComponentIdentity
	}
	if c.JWKSFetchTimeout <= 0 {
		c.JWKSFetchTimeout = 5 * time.Second
	}
	if c.PublicKey == nil && c.PrivateKey != nil {
		c.PublicKey = c.PrivateKey.Public()
	}
	if c.SigningAlgorithm == "" {
		if key := c.signingKey(); key != nil {
			for _, alg := range c.Verify.Algorithms {
				if jwtkit.KeyMatchesAlgorithm(alg, key) {
					c.SigningAlgorithm = alg
					break
				}
			}
		}
	}
	return c
}

// signingKey returns the configured signing material, or nil when the config cannot sign.
func (c AuthConfig) signingKey() any {
	if c.AuthMode != ModeStatic {
		return nil
	}
	if len(c.SecretKey) > 0 {
		return c.SecretKey
	}
	if c.PrivateKey != nil {
		return c.PrivateKey
	}
	return nil
}

// CanSign reports whether the configuration carries signing material.
func (c AuthConfig) CanSign() bool { return c.signingKey() != nil }

// Validate checks the configuration invariants. Errors wrap ErrConfiguration.
func (c AuthConfig) Validate() error {
	n := c.normalized()
	if err := n.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func (c AuthConfig) validate() error {
	if strings.TrimSpace(c.BearerPrefix) == "" || strings.ContainsAny(c.BearerPrefix, " \t") {
		return errors.New("bearer prefix must be a single non-empty word")
	}
	if c.QueryParamName == "" {
		return errors.New("query param name required")
	}
	if len(c.AllowedTokenTypes) == 0 {
		return errors.New("at least one allowed token type required")
	}
	for _, t := range c.AllowedTokenTypes {
		if !t.valid() {
			return fmt.Errorf("unknown token type %q", t)
		}
	}
	if !slices.Contains(c.AllowedTokenTypes, c.DefaultTokenType) {
		return fmt.Errorf("default token type %q is not allowed", c.DefaultTokenType)
	}
	if len(c.Verify.Algorithms) == 0 {
		return errors.New("at least one algorithm required")
	}
	for _, alg := range c.Verify.Algorithms {
		if jwtkit.Family(alg) == jwtkit.FamilyUnknown {
			return fmt.Errorf("unsupported algorithm %q", alg)
		}
	}
	if c.Verify.ClockTolerance < 0 {
		return errors.New("clock tolerance must not be negative")
	}
	if c.TokenLifespanMinutes < 0 {
		return errors.New("token lifespan must not be negative")
	}
	if c.TokenLifespanMinutes == 0 && !c.AllowNonExpiringTokens {
		return errors.New("a zero token lifespan requires AllowNonExpiringTokens")
	}

	switch c.AuthMode {
	case ModeJWKS:
		if strings.TrimSpace(c.KeyURL) == "" {
			return errors.New("jwks mode requires a key url")
		}
		if len(c.SecretKey) > 0 || c.PublicKey != nil || c.PrivateKey != nil {
			return errors.New("jwks mode takes no static key material")
		}
		if !slices.ContainsFunc(c.Verify.Algorithms, func(alg string) bool {
			return jwtkit.Family(alg) == jwtkit.FamilyAsymmetric
		}) {
			return errors.New("jwks mode requires an asymmetric algorithm")
		}
		if c.KeyCacheTTL < 0 {
			return errors.New("key cache ttl must not be negative")
		}
	case ModeStatic:
		if c.KeyURL != "" {
			return errors.New("static mode takes no key url")
		}
		return c.validateStaticKeys()
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}
	return nil
}

func (c AuthConfig) validateStaticKeys() error {
	hasSecret := len(c.SecretKey) > 0
	hasPair := c.PublicKey != nil || c.PrivateKey != nil
	switch {
	case hasSecret && hasPair:
		return errors.New("static mode takes a secret or a key pair, not both")
	case !hasSecret && !hasPair:
		return errors.New("static mode requires a secret or a key")
	}
	if c.PrivateKey != nil && c.PublicKey != nil {
		pub, ok := c.PrivateKey.Public().(interface{ Equal(crypto.PublicKey) bool })
		if !ok || !pub.Equal(c.PublicKey) {
			return errors.New("public key does not match private key")
		}
	}

	verifyKey := any(c.SecretKey)
	if !hasSecret {
		verifyKey = c.PublicKey
	}
	if !slices.ContainsFunc(c.Verify.Algorithms, func(alg string) bool {
		return jwtkit.KeyMatchesAlgorithm(alg, verifyKey)
	}) {
		return fmt.Errorf("no configured algorithm is compatible with a %T key", verifyKey)
	}
	if key := c.signingKey(); key != nil {
		if c.SigningAlgorithm == "" {
			return errors.New("signing algorithm could not be derived from the key")
		}
		if !slices.Contains(c.Verify.Algorithms, c.SigningAlgorithm) {
			return fmt.Errorf("signing algorithm %s is not in the verification allow-list", c.SigningAlgorithm)
		}
		if !jwtkit.KeyMatchesAlgorithm(c.SigningAlgorithm, key) {
			return fmt.Errorf("signing algorithm %s does not match the key", c.SigningAlgorithm)
		}
	}
	return nil
}

// PublicConfig is the non-secret part of AuthConfig, shared with remote callers.
type PublicConfig struct {
	BearerPrefix         string      `json:"bearer_prefix"`
	QueryParamName       string      `json:"query_param_name"`
	DefaultTokenType     TokenType   `json:"default_token_type"`
	AllowedTokenTypes    []TokenType `json:"allowed_token_types"`
	AuthMode             AuthMode    `json:"auth_mode"`
	KeyURL               string      `json:"key_url,omitempty"`
	Algorithms           []string    `json:"algorithms"`
	Issuer               []string    `json:"issuer,omitempty"`
	Audience             []string    `json:"audience,omitempty"`
	TokenLifespanMinutes int         `json:"token_lifespan_minutes"`
	CanSign              bool        `json:"can_sign"`
}

// Public returns the shareable view of the configuration.
func (c AuthConfig) Public() PublicConfig {
	return PublicConfig{
		BearerPrefix:         c.BearerPrefix,
		QueryParamName:       c.QueryParamName,
		DefaultTokenType:     c.DefaultTokenType,
		AllowedTokenTypes:    slices.Clone(c.AllowedTokenTypes),
		AuthMode:             c.AuthMode,
		KeyURL:               c.KeyURL,
		Algorithms:           slices.Clone(c.Verify.Algorithms),
		Issuer:               slices.Clone(c.Verify.Issuer),
		Audience:             slices.Clone(c.Verify.Audience),
		TokenLifespanMinutes: c.TokenLifespanMinutes,
		CanSign:              c.CanSign(),
	}
}
