package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	core "github.com/PaulFidika/tokengate/core"
	"github.com/sirupsen/logrus"
)

// SignBucket is the rate-limit bucket for sign calls.
const SignBucket = "sign"

// Limiter is satisfied by ratelimit/memory and ratelimit/redis.
type Limiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// Dispatcher decodes a request payload, calls the TokenService and encodes the response.
// Transport failures are the caller's concern; service errors travel inside the response.
type Dispatcher struct {
	svc     core.TokenService
	limiter Limiter
	log     logrus.FieldLogger
}

type Option func(*Dispatcher)

// WithSignLimiter bounds sign calls per caller.
func WithSignLimiter(l Limiter) Option { return func(d *Dispatcher) { d.limiter = l } }

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func NewDispatcher(svc core.TokenService, opts ...Option) *Dispatcher {
	d := &Dispatcher{svc: svc, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one call. The returned error is non-nil only for malformed requests.
func (d *Dispatcher) Dispatch(ctx context.Context, method, caller string, payload []byte) (any, error) {
	switch method {
	case MethodValidate:
		var req ValidateRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode validate request: %w", err)
		}
		claims, err := d.svc.ValidateToken(ctx, req.Token, req.Options.Core())
		if err != nil {
			d.log.WithError(err).WithField("caller", caller).Debug("rpc_validate_rejected")
			return ValidateResponse{Error: NewError(err)}, nil
		}
		return ValidateResponse{Claims: claims}, nil

	case MethodSign:
		var req SignRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode sign request: %w", err)
		}
		if d.limiter != nil {
			key := caller
			if key == "" {
				key = "anonymous"
			}
			ok, err := d.limiter.Allow(ctx, SignBucket, key)
			if err != nil {
				// limiter outage must not block issuance
				d.log.WithError(err).Error("rpc_sign_limiter_failed")
			} else if !ok {
				d.log.WithField("caller", key).Warn("rpc_sign_rate_limited")
				return SignResponse{Error: NewError(ErrRateLimited)}, nil
			}
		}
		tok, err := d.svc.SignToken(ctx, req.Claims, req.Subject, req.Options.Core())
		if err != nil {
			d.log.WithError(err).WithField("caller", caller).Warn("rpc_sign_failed")
			return SignResponse{Error: NewError(err)}, nil
		}
		return SignResponse{Token: tok}, nil

	case MethodConfig:
		cfg, err := d.svc.GetConfig(ctx)
		if err != nil {
			return ConfigResponse{Error: NewError(err)}, nil
		}
		return ConfigResponse{Config: &cfg}, nil
	}
	return nil, errUnknownMethod(method)
}

// ResponseError extracts the service error from a decoded response, if any.
func ResponseError(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
