package jwtkit

import (
	"context"
	"crypto"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey means no key material could be resolved for the token (unknown kid, fetch failure).
	ErrUnknownKey = errors.New("unknown_key")
	// ErrKeyFamily means the resolver holds no key of the family the token algorithm requires.
	ErrKeyFamily = errors.New("key_family_mismatch")
)

// Key sources recorded on SigningKey.
const (
	SourceJWKSRSA    = "jwks:rsa"
	SourceJWKSPublic = "jwks:public"
	SourceSecret     = "static:secret"
	SourcePublicKey  = "static:public"
)

// SigningKey is resolved verification key material for one kid.
type SigningKey struct {
	KID    string
	Key    any
	Source string
}

// KeyResolver resolves verification key material for a token header.
type KeyResolver interface {
	KeyFor(ctx context.Context, kid, alg string) (any, error)
}

// StaticResolver serves a configured secret or public key. It does no I/O and needs no cache.
// It holds a single key family, so a token can never be verified with key material of the
// other family.
type StaticResolver struct {
	secret    []byte
	publicKey crypto.PublicKey
}

// NewStaticResolver requires exactly one of secret or publicKey.
func NewStaticResolver(secret []byte, publicKey crypto.PublicKey) (*StaticResolver, error) {
	switch {
	case len(secret) > 0 && publicKey != nil:
		return nil, errors.New("static resolver takes a secret or a public key, not both")
	case len(secret) == 0 && publicKey == nil:
		return nil, errors.New("static resolver requires a secret or a public key")
	}
	return &StaticResolver{secret: secret, publicKey: publicKey}, nil
}

func (s *StaticResolver) KeyFor(_ context.Context, _ string, alg string) (any, error) {
	var key any
	switch Family(alg) {
	case FamilySymmetric:
		if len(s.secret) == 0 {
			return nil, fmt.Errorf("%w: %s needs a secret", ErrKeyFamily, alg)
		}
		key = s.secret
	case FamilyAsymmetric:
		if s.publicKey == nil {
			return nil, fmt.Errorf("%w: %s needs a public key", ErrKeyFamily, alg)
		}
		key = s.publicKey
	default:
		return nil, fmt.Errorf("%w: no key for %q", ErrKeyFamily, alg)
	}
	if !KeyMatchesAlgorithm(alg, key) {
		return nil, fmt.Errorf("%w: key of type %T cannot verify %s", ErrKeyFamily, key, alg)
	}
	return key, nil
}

// Family returns the key family this resolver serves.
func (s *StaticResolver) Family() AlgFamily {
	if len(s.secret) > 0 {
		return FamilySymmetric
	}
	return FamilyAsymmetric
}
