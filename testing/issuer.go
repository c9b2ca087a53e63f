// Package testing provides utilities for testing applications that use tokengate.
// It provides a mock issuer that serves a JWKS and signs tokens, enabling
// JWKS-mode integration tests without a real auth server.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	facade, _ := core.New(issuer.AuthConfig())
//	token := issuer.CreateToken("user-123")
package testing

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	core "github.com/PaulFidika/tokengate/core"
	jwtkit "github.com/PaulFidika/tokengate/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSPath is where the issuer serves its key set.
const JWKSPath = "/.well-known/jwks.json"

// TestIssuer runs an HTTP server that serves a JWKS at JWKSPath and signs JWTs that
// validate against it.
type TestIssuer struct {
	server   *httptest.Server
	signer   *jwtkit.KeySigner
	set      jwk.Set
	audience string

	fetches atomic.Int64
	failing atomic.Bool
}

// NewTestIssuer creates a new test issuer with a fresh RSA key.
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-app")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("failed to generate RSA key: " + err.Error())
	}
	signer, err := jwtkit.NewKeySigner("RS256", priv, "test-key-1")
	if err != nil {
		panic("failed to create signer: " + err.Error())
	}
	set, err := jwtkit.BuildJWKS(jwtkit.PublishedKey{KID: signer.KID(), Algorithm: signer.Algorithm(), PublicKey: signer.PublicKey()})
	if err != nil {
		panic("failed to build JWKS: " + err.Error())
	}

	ti := &TestIssuer{signer: signer, set: set, audience: audience}
	mux := http.NewServeMux()
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the test issuer server; tokens carry it as iss.
func (ti *TestIssuer) URL() string {
	return ti.server.URL
}

// JWKSURL returns the full JWKS endpoint.
func (ti *TestIssuer) JWKSURL() string {
	return ti.server.URL + JWKSPath
}

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string {
	return ti.audience
}

// AuthConfig returns a JWKS-mode configuration that accepts this issuer's tokens.
func (ti *TestIssuer) AuthConfig() core.AuthConfig {
	cfg := core.DefaultAuthConfig()
	cfg.AuthMode = core.ModeJWKS
	cfg.KeyURL = ti.JWKSURL()
	cfg.Verify.Issuer = []string{ti.URL()}
	cfg.Verify.Audience = []string{ti.audience}
	return cfg
}

// Fetches reports how many times the JWKS endpoint was hit.
func (ti *TestIssuer) Fetches() int64 {
	return ti.fetches.Load()
}

// SetFailing makes the JWKS endpoint answer 503 until reset.
func (ti *TestIssuer) SetFailing(fail bool) {
	ti.failing.Store(fail)
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.fetches.Add(1)
	if ti.failing.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	jwtkit.ServeJWKS(w, r, ti.set)
}

// CreateToken creates a signed JWT for subject with iss, aud, exp (1h) and iat set.
func (ti *TestIssuer) CreateToken(subject string) string {
	return ti.CreateTokenWithClaims(subject, nil)
}

// CreateTokenWithClaims creates a signed JWT with additional custom claims.
// Custom claims override the standard ones.
func (ti *TestIssuer) CreateTokenWithClaims(subject string, extraClaims map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	for k, v := range extraClaims {
		claims[k] = v
	}

	token, err := ti.signer.Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// CreateTokenWithKID signs with a different kid header, for unknown-key tests.
func (ti *TestIssuer) CreateTokenWithKID(subject, kid string) string {
	now := time.Now()
	token, err := ti.signer.WithKID(kid).Sign(context.Background(), jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// CreateExpiredToken creates a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	return ti.CreateTokenWithClaims(subject, map[string]any{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
}
