package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer issues tokens with the configured static secret or private key.
type Signer struct {
	key      *jwtkit.KeySigner
	defaults SignOptions
	now      func() time.Time
}

// NewSigner builds a signer from a static config. JWKS-mode and verify-only configs
// fail with ErrConfiguration.
func NewSigner(cfg AuthConfig) (*Signer, error) {
	cfg = cfg.normalized()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	key := cfg.signingKey()
	if key == nil {
		return nil, fmt.Errorf("%w: %s config has no signing key", ErrConfiguration, cfg.AuthMode)
	}
	ks, err := jwtkit.NewKeySigner(cfg.SigningAlgorithm, key, cfg.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	issuer := cfg.ComponentIdentity
	if len(cfg.Verify.Issuer) > 0 {
		issuer = cfg.Verify.Issuer[0]
	}
	return &Signer{
		key: ks,
		defaults: SignOptions{
			Issuer:    issuer,
			Audience:  slices.Clone(cfg.Verify.Audience),
			ExpiresIn: time.Duration(cfg.TokenLifespanMinutes) * time.Minute,
		},
		now: time.Now,
	}, nil
}

// Algorithm returns the signing algorithm.
func (s *Signer) Algorithm() string { return s.key.Algorithm() }

// Defaults returns the option set used when Sign is called without an override.
func (s *Signer) Defaults(subject string) SignOptions {
	o := s.defaults
	o.Subject = subject
	o.Audience = slices.Clone(o.Audience)
	return o
}

// Sign issues a compact JWT. subject is mandatory. A non-nil override replaces the defaults
// entirely (see SignOptions).
func (s *Signer) Sign(ctx context.Context, claims map[string]any, subject string, override *SignOptions) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	opts := s.Defaults(subject)
	if override != nil {
		opts = *override
	}

	now := s.now()
	mc := jwt.MapClaims{}
	maps.Copy(mc, claims)
	delete(mc, ClaimProvenance)
	if opts.Subject != "" {
		mc["sub"] = opts.Subject
	}
	if opts.Issuer != "" {
		mc["iss"] = opts.Issuer
	}
	switch len(opts.Audience) {
	case 0:
	case 1:
		mc["aud"] = opts.Audience[0]
	default:
		mc["aud"] = slices.Clone(opts.Audience)
	}
	if opts.ExpiresIn > 0 {
		mc["exp"] = now.Add(opts.ExpiresIn).Unix()
	}
	if opts.NotBefore != 0 {
		mc["nbf"] = now.Add(opts.NotBefore).Unix()
	}
	mc["iat"] = now.Unix()
	if _, ok := mc["jti"]; !ok {
		mc["jti"] = uuid.NewString()
	}

	ks := s.key
	if opts.KeyID != "" {
		ks = ks.WithKID(opts.KeyID)
	}
	return ks.Sign(ctx, mc)
}
