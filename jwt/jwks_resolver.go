package jwtkit

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// KeyCache stores resolved JWKS keys by kid. Implementations live in storage/memory and
// storage/redis and must be safe for concurrent use.
type KeyCache interface {
	Get(ctx context.Context, kid string) (SigningKey, bool, error)
	Put(ctx context.Context, key SigningKey) error
	Purge(ctx context.Context) error
}

// JWKSResolver resolves keys by kid from a remote JWKS document.
// Keys are fetched lazily on first use of a kid; failed fetches are never cached.
type JWKSResolver struct {
	url    string
	cache  KeyCache
	client *http.Client
	log    logrus.FieldLogger

	group        singleflight.Group
	fetchTimeout time.Duration

	purgeSpec string
	cron      *cron.Cron
}

// JWKSOption configures a JWKSResolver.
type JWKSOption func(*JWKSResolver)

// WithHTTPClient overrides the client used for JWKS fetches.
func WithHTTPClient(c *http.Client) JWKSOption {
	return func(r *JWKSResolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithResolverLogger sets the logger used for fetch diagnostics.
func WithResolverLogger(l logrus.FieldLogger) JWKSOption {
	return func(r *JWKSResolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFetchTimeout bounds one JWKS fetch. It applies on top of the HTTP client timeout.
func WithFetchTimeout(d time.Duration) JWKSOption {
	return func(r *JWKSResolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithPurgeSchedule purges the whole cache on a cron schedule (e.g. "@every 1h").
// The schedule only runs between Start and Stop.
func WithPurgeSchedule(spec string) JWKSOption {
	return func(r *JWKSResolver) { r.purgeSpec = strings.TrimSpace(spec) }
}

// NewJWKSResolver builds a resolver for the JWKS document at url.
func NewJWKSResolver(url string, cache KeyCache, opts ...JWKSOption) (*JWKSResolver, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("jwks url required")
	}
	if cache == nil {
		return nil, errors.New("jwks key cache required")
	}
	r := &JWKSResolver{
		url:          url,
		cache:        cache,
		client:       &http.Client{Timeout: 5 * time.Second},
		log:          logrus.StandardLogger(),
		fetchTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.purgeSpec != "" {
		r.cron = cron.New()
		if _, err := r.cron.AddFunc(r.purgeSpec, r.scheduledPurge); err != nil {
			return nil, fmt.Errorf("invalid purge schedule %q: %w", r.purgeSpec, err)
		}
	}
	return r, nil
}

// URL returns the JWKS endpoint.
func (r *JWKSResolver) URL() string { return r.url }

// Start runs the purge schedule, if one is configured.
func (r *JWKSResolver) Start() {
	if r.cron != nil {
		r.cron.Start()
	}
}

// Stop halts the purge schedule and waits for a running purge to finish.
func (r *JWKSResolver) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Purge drops every cached key; the next lookup of each kid fetches again.
func (r *JWKSResolver) Purge(ctx context.Context) error {
	return r.cache.Purge(ctx)
}

func (r *JWKSResolver) scheduledPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.cache.Purge(ctx); err != nil {
		r.log.WithError(err).WithField("jwks_url", r.url).Error("jwks_cache_purge_failed")
		return
	}
	r.log.WithField("jwks_url", r.url).Debug("jwks_cache_purged")
}

func (r *JWKSResolver) KeyFor(ctx context.Context, kid, alg string) (any, error) {
	if Family(alg) != FamilyAsymmetric {
		return nil, fmt.Errorf("%w: jwks keys cannot verify %q", ErrKeyFamily, alg)
	}
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKey)
	}

	if sk, ok, err := r.cache.Get(ctx, kid); err != nil {
		r.log.WithError(err).WithField("kid", kid).Warn("jwks_cache_read_failed")
	} else if ok {
		return sk.Key, nil
	}

	// The shared fetch outlives any single caller; each caller waits on its own ctx.
	ch := r.group.DoChan(kid, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return r.fetch(fctx, kid)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(SigningKey).Key, nil
	}
}

func (r *JWKSResolver) fetch(ctx context.Context, kid string) (SigningKey, error) {
	set, err := jwk.Fetch(ctx, r.url, jwk.WithHTTPClient(r.client))
	if err != nil {
		r.log.WithError(err).WithField("jwks_url", r.url).Error("jwks_fetch_failed")
		return SigningKey{}, fmt.Errorf("%w: jwks fetch: %v", ErrUnknownKey, err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return SigningKey{}, fmt.Errorf("%w: kid %q not in jwks", ErrUnknownKey, kid)
	}
	sk, err := signingKeyFromJWK(kid, key)
	if err != nil {
		return SigningKey{}, err
	}
	if err := r.cache.Put(ctx, sk); err != nil {
		r.log.WithError(err).WithField("kid", kid).Warn("jwks_cache_write_failed")
	}
	return sk, nil
}

// signingKeyFromJWK prefers the RSA public key of the entry and falls back to its generic
// public key. Symmetric entries are refused.
func signingKeyFromJWK(kid string, key jwk.Key) (SigningKey, error) {
	switch key.KeyType() {
	case jwa.OctetSeq:
		return SigningKey{}, fmt.Errorf("%w: kid %q is a symmetric jwk", ErrUnknownKey, kid)
	case jwa.RSA:
		var raw any
		if err := key.Raw(&raw); err == nil {
			switch k := raw.(type) {
			case *rsa.PublicKey:
				return SigningKey{KID: kid, Key: k, Source: SourceJWKSRSA}, nil
			case *rsa.PrivateKey:
				return SigningKey{KID: kid, Key: &k.PublicKey, Source: SourceJWKSRSA}, nil
			}
		}
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: kid %q: %v", ErrUnknownKey, kid, err)
	}
	var raw any
	if err := pub.Raw(&raw); err != nil {
		return SigningKey{}, fmt.Errorf("%w: kid %q: %v", ErrUnknownKey, kid, err)
	}
	return SigningKey{KID: kid, Key: raw, Source: SourceJWKSPublic}, nil
}
