package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRemoteTimeout bounds each cross-process call made by RemoteFacade.
const DefaultRemoteTimeout = time.Second

// RemoteFacade runs the same gate and locator as Facade but delegates verification and
// signing to a TokenService in another process. Every call is bounded by a timeout; a
// result arriving after the deadline is dropped.
type RemoteFacade struct {
	svc     TokenService
	pipe    *pipeline
	timeout time.Duration
}

// RemoteOption configures a RemoteFacade.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	timeout time.Duration
	log     logrus.FieldLogger
	events  VerificationEventLogger
}

func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(o *remoteOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRemoteLogger(l logrus.FieldLogger) RemoteOption {
	return func(o *remoteOptions) {
		if l != nil {
			o.log = l
		}
	}
}

func WithRemoteEventLogger(l VerificationEventLogger) RemoteOption {
	return func(o *remoteOptions) { o.events = l }
}

// NewRemoteFacade builds a remote facade using policy for the gate and locator.
func NewRemoteFacade(policy PublicConfig, svc TokenService, opts ...RemoteOption) (*RemoteFacade, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: token service required", ErrConfiguration)
	}
	o := remoteOptions{timeout: DefaultRemoteTimeout, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if policy.BearerPrefix == "" || policy.QueryParamName == "" || len(policy.AllowedTokenTypes) == 0 {
		return nil, fmt.Errorf("%w: incomplete locator policy", ErrConfiguration)
	}
	return &RemoteFacade{
		svc:     svc,
		pipe:    newPipeline(policy, o.log, o.events),
		timeout: o.timeout,
	}, nil
}

// NewRemoteFacadeFromService fetches the locator policy from svc.
func NewRemoteFacadeFromService(ctx context.Context, svc TokenService, opts ...RemoteOption) (*RemoteFacade, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: token service required", ErrConfiguration)
	}
	o := remoteOptions{timeout: DefaultRemoteTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	policy, err := callWithTimeout(ctx, o.timeout, func(ctx context.Context) (PublicConfig, error) {
		return svc.GetConfig(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch remote config: %v", ErrConfiguration, err)
	}
	return NewRemoteFacade(policy, svc, opts...)
}

func (r *RemoteFacade) Verify(ctx context.Context, req RequestView, tokenType ...TokenType) (Claims, error) {
	claims, rej := r.pipe.authenticate(ctx, req, tokenType, r.validate)
	if rej != nil {
		return nil, rej
	}
	return claims, nil
}

func (r *RemoteFacade) VerifyQuiet(ctx context.Context, req RequestView, tokenType ...TokenType) (Claims, bool) {
	claims, rej := r.pipe.authenticate(ctx, req, tokenType, r.validate)
	return claims, rej == nil
}

// ValidateToken verifies a raw token remotely. A timeout returns ErrTimeout.
func (r *RemoteFacade) ValidateToken(ctx context.Context, raw string, override *VerifyOptions) (Claims, error) {
	claims, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) (Claims, error) {
		return r.svc.ValidateToken(ctx, raw, override)
	})
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: empty reply from token service", ErrInvalidToken)
	}
	return tagExternal(claims), nil
}

func (r *RemoteFacade) validate(ctx context.Context, raw string) (Claims, error) {
	return r.ValidateToken(ctx, raw, nil)
}

// Sign asks the remote service to issue a token. A timeout returns ErrTimeout.
func (r *RemoteFacade) Sign(ctx context.Context, claims map[string]any, subject string, override *SignOptions) (string, error) {
	return callWithTimeout(ctx, r.timeout, func(ctx context.Context) (string, error) {
		return r.svc.SignToken(ctx, claims, subject, override)
	})
}

// callWithTimeout runs fn in a goroutine and waits at most d. The result channel is
// buffered so a late fn never blocks; its result is discarded.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w: %v", ErrTimeout, res.err)
			}
			return zero, res.err
		}
		return res.v, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: no reply within %s", ErrTimeout, d)
		}
		return zero, ctx.Err()
	}
}
