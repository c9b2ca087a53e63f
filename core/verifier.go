package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Verifier checks a compact JWT against a key resolver. Checks run strictly in order:
// structure, algorithm and signature, time, audience, issuer.
type Verifier struct {
	resolver jwtkit.KeyResolver
	now      func() time.Time
}

func NewVerifier(resolver jwtkit.KeyResolver) *Verifier {
	return &Verifier{resolver: resolver, now: time.Now}
}

// Verify returns the tagged claims or one of the verification errors (ErrParse,
// ErrAlgorithmNotAllowed, ErrUnknownKey, ErrSignatureInvalid, ErrExpired, ErrNotYetValid,
// ErrAudienceMismatch, ErrIssuerMismatch).
func (v *Verifier) Verify(ctx context.Context, raw string, opts VerifyOptions) (Claims, error) {
	mc, err := v.verifySignature(ctx, raw, opts.Algorithms)
	if err != nil {
		return nil, err
	}
	if err := v.checkTime(mc, opts); err != nil {
		return nil, err
	}
	if len(opts.Audience) > 0 {
		aud, err := mc.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("%w: aud: %v", ErrParse, err)
		}
		if !audContainsAny(aud, opts.Audience) {
			return nil, fmt.Errorf("%w: %v", ErrAudienceMismatch, []string(aud))
		}
	}
	if len(opts.Issuer) > 0 {
		iss, err := mc.GetIssuer()
		if err != nil {
			return nil, fmt.Errorf("%w: iss: %v", ErrParse, err)
		}
		if !slices.Contains(opts.Issuer, iss) {
			return nil, fmt.Errorf("%w: %q", ErrIssuerMismatch, iss)
		}
	}
	return tagExternal(mc), nil
}

func (v *Verifier) verifySignature(ctx context.Context, raw string, algorithms []string) (jwt.MapClaims, error) {
	var keyErr error
	keyfunc := func(t *jwt.Token) (any, error) {
		alg, _ := t.Header["alg"].(string)
		if !slices.Contains(algorithms, alg) {
			keyErr = fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, alg)
			return nil, keyErr
		}
		if alg == jwt.SigningMethodNone.Alg() {
			return jwt.UnsafeAllowNoneSignatureType, nil
		}
		kid, _ := t.Header["kid"].(string)
		key, err := v.resolver.KeyFor(ctx, kid, alg)
		switch {
		case err == nil:
			return key, nil
		case errors.Is(err, jwtkit.ErrKeyFamily):
			keyErr = fmt.Errorf("%w: %v", ErrAlgorithmNotAllowed, err)
		case errors.Is(err, ErrUnknownKey):
			keyErr = err
		default:
			keyErr = fmt.Errorf("%w: %v", ErrUnknownKey, err)
		}
		return nil, keyErr
	}

	mc := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(raw, mc, keyfunc); err != nil {
		switch {
		case keyErr != nil:
			return nil, keyErr
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			// unknown or missing alg header
			return nil, fmt.Errorf("%w: %v", ErrAlgorithmNotAllowed, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	return mc, nil
}

func (v *Verifier) checkTime(mc jwt.MapClaims, opts VerifyOptions) error {
	now := v.now()
	tol := opts.ClockTolerance
	if !opts.IgnoreExpiration {
		exp, err := mc.GetExpirationTime()
		if err != nil {
			return fmt.Errorf("%w: exp: %v", ErrParse, err)
		}
		switch {
		case exp == nil && opts.RequireExpiration:
			return fmt.Errorf("%w: exp claim required", ErrExpired)
		case exp != nil && !now.Before(exp.Add(tol)):
			return fmt.Errorf("%w: at %s", ErrExpired, exp.UTC().Format(time.RFC3339))
		}
	}
	if !opts.IgnoreNotBefore {
		nbf, err := mc.GetNotBefore()
		if err != nil {
			return fmt.Errorf("%w: nbf: %v", ErrParse, err)
		}
		if nbf != nil && now.Before(nbf.Add(-tol)) {
			return fmt.Errorf("%w: until %s", ErrNotYetValid, nbf.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func audContainsAny(aud []string, want []string) bool {
	for _, a := range aud {
		if slices.Contains(want, a) {
			return true
		}
	}
	return false
}
