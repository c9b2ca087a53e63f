package core

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var hmacSecret = []byte("0123456789abcdef0123456789abcdef")

func hmacVerifier(t *testing.T) *Verifier {
	t.Helper()
	r, err := jwtkit.NewStaticResolver(hmacSecret, nil)
	require.NoError(t, err)
	return NewVerifier(r)
}

func TestVerifier_Success(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{
		"sub": "user-1", "iss": "a", "aud": "app", "exp": time.Now().Add(time.Minute).Unix(), "role": "admin",
	})
	claims, err := v.Verify(context.Background(), tok, VerifyOptions{
		Algorithms: []string{"HS256"}, Issuer: []string{"a"}, Audience: []string{"app"},
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject())
	require.Equal(t, "admin", claims["role"])
	require.True(t, claims.ExternallyVerified())
}

func TestVerifier_ProvenanceCannotBeForged(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "provenance": "local"})
	claims, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.NoError(t, err)
	require.Equal(t, ProvenanceExternal, claims[ClaimProvenance])
}

func TestVerifier_ExpiryLaw(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})

	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.ErrorIs(t, err, ErrExpired)

	_, err = v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, ClockTolerance: 2 * time.Minute})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, IgnoreExpiration: true})
	require.NoError(t, err)
}

func TestVerifier_RequireExpiration(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u"})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, RequireExpiration: true})
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifier_NotBefore(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "nbf": time.Now().Add(time.Hour).Unix()})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.ErrorIs(t, err, ErrNotYetValid)
	_, err = v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, IgnoreNotBefore: true})
	require.NoError(t, err)
}

func TestVerifier_NonNumericTemporalClaim(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "exp": "tomorrow"})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.ErrorIs(t, err, ErrParse)
}

func TestVerifier_IssuerMembershipLaw(t *testing.T) {
	v := hmacVerifier(t)
	opts := VerifyOptions{Algorithms: []string{"HS256"}, Issuer: []string{"a", "b"}}
	for iss, ok := range map[string]bool{"a": true, "b": true, "c": false, "": false} {
		claims := jwt.MapClaims{"sub": "u"}
		if iss != "" {
			claims["iss"] = iss
		}
		_, err := v.Verify(context.Background(), signRaw(t, "HS256", hmacSecret, "", claims), opts)
		if ok {
			require.NoError(t, err, iss)
		} else {
			require.ErrorIs(t, err, ErrIssuerMismatch, iss)
		}
	}
}

func TestVerifier_SingleIssuerExact(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "iss": "https://a.example/"})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, Issuer: []string{"https://a.example"}})
	require.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerifier_Audience(t *testing.T) {
	v := hmacVerifier(t)
	opts := VerifyOptions{Algorithms: []string{"HS256"}, Audience: []string{"app"}}

	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "aud": []string{"other", "app"}})
	_, err := v.Verify(context.Background(), tok, opts)
	require.NoError(t, err)

	tok = signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "aud": "other"})
	_, err = v.Verify(context.Background(), tok, opts)
	require.ErrorIs(t, err, ErrAudienceMismatch)

	tok = signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u"})
	_, err = v.Verify(context.Background(), tok, opts)
	require.ErrorIs(t, err, ErrAudienceMismatch)
}

func TestVerifier_CheckOrder(t *testing.T) {
	v := hmacVerifier(t)
	// expired and wrong issuer: the temporal check runs first
	tok := signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "iss": "c", "exp": time.Now().Add(-time.Hour).Unix()})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, Issuer: []string{"a"}})
	require.ErrorIs(t, err, ErrExpired)

	// wrong audience and wrong issuer: audience runs before issuer
	tok = signRaw(t, "HS256", hmacSecret, "", jwt.MapClaims{"sub": "u", "iss": "c", "aud": "x"})
	_, err = v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}, Issuer: []string{"a"}, Audience: []string{"app"}})
	require.ErrorIs(t, err, ErrAudienceMismatch)
}

func TestVerifier_Malformed(t *testing.T) {
	v := hmacVerifier(t)
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d", "!!!.###.$$$"} {
		_, err := v.Verify(context.Background(), raw, VerifyOptions{Algorithms: []string{"HS256"}})
		require.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestVerifier_SignatureInvalid(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS256", []byte("another-secret-another-secret-xx"), "", jwt.MapClaims{"sub": "u"})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifier_AlgorithmNotAllowed(t *testing.T) {
	v := hmacVerifier(t)
	tok := signRaw(t, "HS512", hmacSecret, "", jwt.MapClaims{"sub": "u"})
	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.ErrorIs(t, err, ErrAlgorithmNotAllowed)
}

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return tok
}

func TestVerifier_NoneRequiresExplicitAllowList(t *testing.T) {
	v := hmacVerifier(t)
	tok := unsignedToken(t, jwt.MapClaims{"sub": "u"})

	_, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256"}})
	require.ErrorIs(t, err, ErrAlgorithmNotAllowed)

	claims, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"HS256", "none"}})
	require.NoError(t, err)
	require.Equal(t, "u", claims.Subject())
}

func TestVerifier_AlgorithmConfusion(t *testing.T) {
	// An HS256 token keyed with the RSA public key PEM must not verify against a static
	// public-key resolver, even when HS256 is allow-listed.
	priv := testRSAKey(t)
	r, err := jwtkit.NewStaticResolver(nil, &priv.PublicKey)
	require.NoError(t, err)
	v := NewVerifier(r)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	tok := signRaw(t, "HS256", pemBytes, "", jwt.MapClaims{"sub": "attacker"})

	_, err = v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"RS256", "HS256"}})
	require.ErrorIs(t, err, ErrAlgorithmNotAllowed)
}

func TestVerifier_RSA(t *testing.T) {
	priv := testRSAKey(t)
	r, err := jwtkit.NewStaticResolver(nil, &priv.PublicKey)
	require.NoError(t, err)
	v := NewVerifier(r)

	tok := signRaw(t, "RS256", priv, "k", jwt.MapClaims{"sub": "u"})
	claims, err := v.Verify(context.Background(), tok, VerifyOptions{Algorithms: []string{"RS256"}})
	require.NoError(t, err)
	require.Equal(t, "u", claims.Subject())

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	_, err = v.Verify(context.Background(), tampered, VerifyOptions{Algorithms: []string{"RS256"}})
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifier_JWKSResolverFailure(t *testing.T) {
	priv := testRSAKey(t)
	srv := newJWKSServer(t, jwtkit.PublishedKey{KID: "kid-1", Algorithm: "RS256", PublicKey: &priv.PublicKey})
	f := newFacade(t, jwksConfig(srv.URL))
	tok := signRaw(t, "RS256", priv, "kid-1", jwt.MapClaims{"sub": "u"})

	srv.fail.Store(true)
	_, err := f.ValidateToken(context.Background(), tok, nil)
	require.ErrorIs(t, err, ErrUnknownKey)

	// the failure was not cached
	srv.fail.Store(false)
	claims, err := f.ValidateToken(context.Background(), tok, nil)
	require.NoError(t, err)
	require.Equal(t, "u", claims.Subject())
	require.Equal(t, int32(2), srv.fetches.Load())

	// cached from here on
	_, err = f.ValidateToken(context.Background(), tok, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), srv.fetches.Load())
}

func TestVerifier_JWKSUnknownKid(t *testing.T) {
	priv := testRSAKey(t)
	srv := newJWKSServer(t, jwtkit.PublishedKey{KID: "kid-1", Algorithm: "RS256", PublicKey: &priv.PublicKey})
	f := newFacade(t, jwksConfig(srv.URL))

	_, err := f.ValidateToken(context.Background(), signRaw(t, "RS256", priv, "kid-2", jwt.MapClaims{"sub": "u"}), nil)
	require.ErrorIs(t, err, ErrUnknownKey)
	_, err = f.ValidateToken(context.Background(), signRaw(t, "RS256", priv, "", jwt.MapClaims{"sub": "u"}), nil)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerifier_JWKSRefusesSymmetric(t *testing.T) {
	priv := testRSAKey(t)
	srv := newJWKSServer(t, jwtkit.PublishedKey{KID: "kid-1", Algorithm: "RS256", PublicKey: &priv.PublicKey})
	cfg := jwksConfig(srv.URL)
	cfg.Verify.Algorithms = []string{"RS256", "HS256"}
	f := newFacade(t, cfg)

	_, err := f.ValidateToken(context.Background(), signRaw(t, "HS256", hmacSecret, "kid-1", jwt.MapClaims{"sub": "u"}), nil)
	require.ErrorIs(t, err, ErrAlgorithmNotAllowed)
	require.Equal(t, int32(0), srv.fetches.Load())
}
