package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	memorystore "github.com/PaulFidika/tokengate/storage/memory"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
)

// Facade is the in-process entry point: policy gate, locator, verifier and signer built
// from one AuthConfig.
type Facade struct {
	cfg      AuthConfig
	pipe     *pipeline
	verifier *Verifier
	signer   *Signer // nil when the config cannot sign
	jwks     *jwtkit.JWKSResolver
	closers  []func() error
	log      logrus.FieldLogger
}

// Option configures a Facade.
type Option func(*options)

type options struct {
	log        logrus.FieldLogger
	keyCache   jwtkit.KeyCache
	httpClient *http.Client
	events     VerificationEventLogger
	resolver   jwtkit.KeyResolver
}

// WithLogger sets the logger. Defaults to logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithKeyCache shares a JWKS key cache (e.g. storage/redis) instead of the in-memory default.
func WithKeyCache(c jwtkit.KeyCache) Option { return func(o *options) { o.keyCache = c } }

// WithHTTPClient sets the client used for JWKS fetches.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithEventLogger records every verification outcome.
func WithEventLogger(l VerificationEventLogger) Option { return func(o *options) { o.events = l } }

// WithKeyResolver replaces the resolver derived from the auth mode.
func WithKeyResolver(r jwtkit.KeyResolver) Option { return func(o *options) { o.resolver = r } }

// New validates cfg and builds the facade. Any error wraps ErrConfiguration and should stop startup.
func New(cfg AuthConfig, opts ...Option) (*Facade, error) {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.normalized()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	f := &Facade{cfg: cfg, log: o.log}
	resolver := o.resolver
	if resolver == nil {
		r, err := f.buildResolver(o)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		resolver = r
	}
	f.verifier = NewVerifier(resolver)
	if cfg.CanSign() {
		s, err := NewSigner(cfg)
		if err != nil {
			return nil, err
		}
		f.signer = s
	}
	f.pipe = newPipeline(cfg.Public(), o.log, o.events)
	if f.jwks != nil {
		f.jwks.Start()
	}
	return f, nil
}

func (f *Facade) buildResolver(o options) (jwtkit.KeyResolver, error) {
	cfg := f.cfg
	if cfg.AuthMode == ModeStatic {
		return jwtkit.NewStaticResolver(cfg.SecretKey, cfg.PublicKey)
	}
	cache := o.keyCache
	if cache == nil {
		mc := memorystore.NewKeyCache(cfg.KeyCacheTTL)
		f.closers = append(f.closers, mc.Close)
		cache = mc
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.JWKSFetchTimeout}
	}
	r, err := jwtkit.NewJWKSResolver(cfg.KeyURL, cache,
		jwtkit.WithHTTPClient(client),
		jwtkit.WithResolverLogger(o.log),
		jwtkit.WithFetchTimeout(cfg.JWKSFetchTimeout),
		jwtkit.WithPurgeSchedule(cfg.KeyCachePurgeSchedule),
	)
	if err != nil {
		return nil, err
	}
	f.jwks = r
	return r, nil
}

// Close stops background work (purge schedule, cache cleanup).
func (f *Facade) Close() error {
	if f.jwks != nil {
		f.jwks.Stop()
	}
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Config returns a copy of the effective configuration.
func (f *Facade) Config() AuthConfig { return f.cfg.normalized() }

// CanSign reports whether Sign is available.
func (f *Facade) CanSign() bool { return f.signer != nil }

// Verify locates and verifies the request token. Failures are always a *Rejection.
// tokenType defaults to the configured default.
func (f *Facade) Verify(ctx context.Context, req RequestView, tokenType ...TokenType) (Claims, error) {
	claims, rej := f.pipe.authenticate(ctx, req, tokenType, f.validate)
	if rej != nil {
		return nil, rej
	}
	return claims, nil
}

// VerifyQuiet runs the same pipeline as Verify and reports failure as false.
func (f *Facade) VerifyQuiet(ctx context.Context, req RequestView, tokenType ...TokenType) (Claims, bool) {
	claims, rej := f.pipe.authenticate(ctx, req, tokenType, f.validate)
	return claims, rej == nil
}

func (f *Facade) validate(ctx context.Context, raw string) (Claims, error) {
	return f.verifier.Verify(ctx, raw, f.cfg.Verify)
}

// ValidateToken verifies a raw token and returns the detailed verification error on failure.
// A non-nil override replaces the configured VerifyOptions; an empty Algorithms list keeps
// the configured allow-list.
func (f *Facade) ValidateToken(ctx context.Context, raw string, override *VerifyOptions) (Claims, error) {
	opts := f.cfg.Verify
	if override != nil {
		opts = override.clone()
		if len(opts.Algorithms) == 0 {
			opts.Algorithms = slices.Clone(f.cfg.Verify.Algorithms)
		}
	}
	return f.verifier.Verify(ctx, raw, opts)
}

// Sign issues a token for subject. It fails with ErrConfiguration when the config has no
// signing key.
func (f *Facade) Sign(ctx context.Context, claims map[string]any, subject string, override *SignOptions) (string, error) {
	if f.signer == nil {
		return "", fmt.Errorf("%w: signing requires a static secret or private key", ErrConfiguration)
	}
	return f.signer.Sign(ctx, claims, subject, override)
}

func (f *Facade) SignToken(ctx context.Context, claims map[string]any, subject string, override *SignOptions) (string, error) {
	return f.Sign(ctx, claims, subject, override)
}

func (f *Facade) GetConfig(context.Context) (PublicConfig, error) { return f.cfg.Public(), nil }

// JWKS returns the public verification key as a JWK set, for static asymmetric configs.
func (f *Facade) JWKS() (jwk.Set, error) {
	if f.cfg.AuthMode != ModeStatic || f.cfg.PublicKey == nil {
		return nil, fmt.Errorf("%w: no public key to publish", ErrConfiguration)
	}
	alg := f.cfg.SigningAlgorithm
	if alg == "" {
		alg = jwtkit.DefaultAlgorithm(f.cfg.PublicKey)
	}
	return jwtkit.BuildJWKS(jwtkit.PublishedKey{KID: f.cfg.KeyID, Algorithm: alg, PublicKey: f.cfg.PublicKey})
}

// PurgeKeyCache drops cached JWKS keys. It is a no-op in static mode.
func (f *Facade) PurgeKeyCache(ctx context.Context) error {
	if f.jwks == nil {
		return nil
	}
	return f.jwks.Purge(ctx)
}

type verifyFunc func(ctx context.Context, raw string) (Claims, error)

// pipeline is the gate -> locate -> verify sequence shared by Facade and RemoteFacade and
// by their strict and quiet entry points.
type pipeline struct {
	defaultType TokenType
	allowed     []TokenType
	locator     *Locator
	log         logrus.FieldLogger
	events      VerificationEventLogger
	now         func() time.Time
}

func newPipeline(pc PublicConfig, log logrus.FieldLogger, events VerificationEventLogger) *pipeline {
	return &pipeline{
		defaultType: pc.DefaultTokenType,
		allowed:     slices.Clone(pc.AllowedTokenTypes),
		locator:     NewLocator(pc.BearerPrefix, pc.QueryParamName),
		log:         log,
		events:      events,
		now:         time.Now,
	}
}

func (p *pipeline) authenticate(ctx context.Context, req RequestView, tokenType []TokenType, verify verifyFunc) (Claims, *Rejection) {
	tt := p.defaultType
	if len(tokenType) > 0 && tokenType[0] != "" {
		tt = tokenType[0]
	}
	if !slices.Contains(p.allowed, tt) {
		p.log.WithField("token_type", tt).Warn("unsupported_token_type")
		return nil, p.rejected(ctx, tt, ReasonUnsupportedTokenType)
	}
	raw, ok := p.locator.Find(req, tt)
	if !ok {
		p.log.WithField("token_type", tt).Warn("no_token_found")
		return nil, p.rejected(ctx, tt, ReasonNoTokenFound)
	}
	claims, err := verify(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			p.log.WithError(err).Warn("token_verification_timeout")
			return nil, p.rejected(ctx, tt, ReasonTimeout)
		}
		p.log.WithError(err).WithField("token_type", tt).Debug("token_rejected")
		return nil, p.rejected(ctx, tt, ReasonInvalidToken)
	}
	p.record(ctx, VerificationEvent{TokenType: tt, Accepted: true, Subject: claims.Subject(), Issuer: claims.Issuer()})
	return claims, nil
}

func (p *pipeline) rejected(ctx context.Context, tt TokenType, reason RejectReason) *Rejection {
	p.record(ctx, VerificationEvent{TokenType: tt, Reason: reason})
	return reject(reason)
}

func (p *pipeline) record(ctx context.Context, ev VerificationEvent) {
	if p.events == nil {
		return
	}
	ev.At = p.now()
	if err := p.events.LogVerification(ctx, ev); err != nil {
		p.log.WithError(err).Debug("verification_event_log_failed")
	}
}
