package jwtkit

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues JWTs with a single key.
type Signer interface {
	// Algorithm returns the JWS algorithm (e.g., RS256, HS256, EdDSA).
	Algorithm() string
	// KID returns the key id written to the token header, if any.
	KID() string
	// Sign creates a signed compact JWT with the provided claims.
	Sign(ctx context.Context, claims jwt.MapClaims) (string, error)
}

// KeySigner signs with a secret ([]byte) or a private key (crypto.Signer).
type KeySigner struct {
	method jwt.SigningMethod
	key    any
	kid    string
}

// SigningMethod maps an algorithm name to its golang-jwt implementation.
// "none" is deliberately not resolvable here: tokens are never issued unsigned.
func SigningMethod(alg string) (jwt.SigningMethod, error) {
	if alg == "none" {
		return nil, errors.New("unsigned tokens cannot be issued")
	}
	m := jwt.GetSigningMethod(alg)
	if m == nil {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	return m, nil
}

// NewKeySigner builds a signer for alg. The key must match the algorithm family.
func NewKeySigner(alg string, key any, kid string) (*KeySigner, error) {
	m, err := SigningMethod(alg)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case []byte:
		if len(k) == 0 {
			return nil, errors.New("empty signing secret")
		}
	case crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
	if !KeyMatchesAlgorithm(alg, key) {
		return nil, fmt.Errorf("%w: key of type %T cannot sign %s", ErrKeyFamily, key, alg)
	}
	return &KeySigner{method: m, key: key, kid: kid}, nil
}

func (s *KeySigner) Algorithm() string { return s.method.Alg() }
func (s *KeySigner) KID() string       { return s.kid }

// WithKID returns a copy of the signer that writes kid to the token header.
func (s *KeySigner) WithKID(kid string) *KeySigner {
	c := *s
	c.kid = kid
	return &c
}

// PublicKey returns the verification key for asymmetric signers and nil for secrets.
func (s *KeySigner) PublicKey() crypto.PublicKey {
	if k, ok := s.key.(crypto.Signer); ok {
		return k.Public()
	}
	return nil
}

func (s *KeySigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		token.Header["kid"] = s.kid
	}
	return token.SignedString(s.key)
}
