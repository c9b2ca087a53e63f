// Package redisbus carries token service calls over Redis lists: callers LPUSH an
// envelope onto a shared queue and block on a per-call reply list.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	core "github.com/PaulFidika/tokengate/core"
	"github.com/PaulFidika/tokengate/rpc"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueue is the request list shared by clients and servers.
const DefaultQueue = "tokengate:rpc:requests"

const (
	defaultReplyTTL    = 30 * time.Second
	defaultCallTimeout = 5 * time.Second
)

// Server consumes the request queue and answers through a Dispatcher.
type Server struct {
	rdb      *redis.Client
	queue    string
	d        *rpc.Dispatcher
	log      logrus.FieldLogger
	replyTTL time.Duration
	poll     time.Duration
	now      func() time.Time
	secrets  rpc.CallerSecrets
}

type ServerOption func(*Server)

func WithQueue(q string) ServerOption {
	return func(s *Server) {
		if q != "" {
			s.queue = q
		}
	}
}

func WithServerLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSignSecrets requires sign envelopes to carry a caller and secret known to secrets.
// Without it the envelope caller is taken on trust, and access to the Redis queue is
// the only gate on signing.
func WithSignSecrets(secrets rpc.CallerSecrets) ServerOption {
	return func(s *Server) { s.secrets = secrets }
}

func NewServer(rdb *redis.Client, d *rpc.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		rdb:      rdb,
		queue:    DefaultQueue,
		d:        d,
		log:      logrus.StandardLogger(),
		replyTTL: defaultReplyTTL,
		poll:     time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves requests until ctx is cancelled. Each request is handled in its own goroutine;
// Run waits for in-flight requests before returning.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.rdb.BRPop(ctx, s.poll, s.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).WithField("queue", s.queue).Error("redisbus_receive_failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.poll):
			}
			continue
		}
		// res is [queue, value]
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			s.handle(ctx, raw)
		}(res[1])
	}
}

func (s *Server) handle(ctx context.Context, raw string) {
	var env rpc.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.log.WithError(err).Warn("redisbus_bad_envelope")
		return
	}
	log := s.log.WithFields(logrus.Fields{"id": env.ID, "method": env.Method})
	if env.Expired(s.now()) {
		log.Debug("redisbus_request_expired")
		return
	}
	if env.ReplyTo == "" {
		log.Warn("redisbus_missing_reply_to")
		return
	}
	if env.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(env.DeadlineMS))
		defer cancel()
	}

	var (
		resp any
		err  error
	)
	caller := env.Caller
	if env.Method == rpc.MethodSign && s.secrets != nil {
		caller, err = s.secrets.Authenticate(env.Caller, env.Secret)
	}
	if err != nil {
		log.WithField("caller", env.Caller).Warn("redisbus_unauthorized_caller")
		resp, err = rpc.SignResponse{Error: rpc.NewError(err)}, nil
	} else {
		resp, err = s.d.Dispatch(ctx, env.Method, caller, env.Payload)
	}
	if err != nil {
		log.WithError(err).Warn("redisbus_bad_request")
		resp = map[string]any{"error": rpc.Error{Code: "invalid_request", Message: err.Error()}}
	}
	if env.Expired(s.now()) {
		log.Debug("redisbus_reply_dropped")
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("redisbus_encode_failed")
		return
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(context.WithoutCancel(ctx), env.ReplyTo, b)
	pipe.Expire(context.WithoutCancel(ctx), env.ReplyTo, s.replyTTL)
	if _, err := pipe.Exec(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Error("redisbus_reply_failed")
	}
}

// Client implements core.TokenService over the bus. Calls never retry; a call without a
// context deadline waits at most 5s. Redis rounds blocking timeouts up to whole seconds, so
// the redis.Client should set ContextTimeoutEnabled for sub-second deadlines.
type Client struct {
	rdb    *redis.Client
	queue  string
	caller string
	secret string
}

type ClientOption func(*Client)

func WithClientQueue(q string) ClientOption {
	return func(c *Client) {
		if q != "" {
			c.queue = q
		}
	}
}

// WithCaller sets the caller id used for sign rate limiting.
func WithCaller(id string) ClientOption { return func(c *Client) { c.caller = id } }

// WithSecret sets the shared secret sent with each envelope, for servers using WithSignSecrets.
func WithSecret(secret string) ClientOption { return func(c *Client) { c.secret = secret } }

func NewClient(rdb *redis.Client, opts ...ClientOption) *Client {
	c := &Client{rdb: rdb, queue: DefaultQueue}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ValidateToken(ctx context.Context, raw string, override *core.VerifyOptions) (core.Claims, error) {
	var resp rpc.ValidateResponse
	if err := c.call(ctx, rpc.MethodValidate, rpc.ValidateRequest{Token: raw, Options: rpc.FromVerifyOptions(override)}, &resp); err != nil {
		return nil, err
	}
	if err := rpc.ResponseError(resp.Error); err != nil {
		return nil, err
	}
	if resp.Claims == nil {
		return nil, errors.New("redisbus: empty validate reply")
	}
	return core.Claims(resp.Claims), nil
}

func (c *Client) SignToken(ctx context.Context, claims map[string]any, subject string, override *core.SignOptions) (string, error) {
	var resp rpc.SignResponse
	if err := c.call(ctx, rpc.MethodSign, rpc.SignRequest{Claims: claims, Subject: subject, Options: rpc.FromSignOptions(override)}, &resp); err != nil {
		return "", err
	}
	if err := rpc.ResponseError(resp.Error); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("redisbus: empty sign reply")
	}
	return resp.Token, nil
}

func (c *Client) GetConfig(ctx context.Context) (core.PublicConfig, error) {
	var resp rpc.ConfigResponse
	if err := c.call(ctx, rpc.MethodConfig, struct{}{}, &resp); err != nil {
		return core.PublicConfig{}, err
	}
	if err := rpc.ResponseError(resp.Error); err != nil {
		return core.PublicConfig{}, err
	}
	if resp.Config == nil {
		return core.PublicConfig{}, errors.New("redisbus: empty config response")
	}
	return *resp.Config, nil
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	env := rpc.Envelope{
		ID:         id,
		Method:     method,
		ReplyTo:    c.queue + ":reply:" + id,
		Caller:     c.caller,
		Secret:     c.secret,
		DeadlineMS: deadline.UnixMilli(),
		Payload:    payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.rdb.LPush(ctx, c.queue, b).Err(); err != nil {
		return fmt.Errorf("redisbus %s: %w", method, err)
	}

	wait := time.Until(deadline)
	if wait <= 0 {
		return fmt.Errorf("redisbus %s: %w", method, context.DeadlineExceeded)
	}
	res, err := c.rdb.BLPop(ctx, wait, env.ReplyTo).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("redisbus %s: %w", method, context.DeadlineExceeded)
	case err != nil:
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return fmt.Errorf("redisbus %s: %w: %v", method, context.DeadlineExceeded, err)
		}
		return fmt.Errorf("redisbus %s: %w", method, err)
	}
	if err := json.Unmarshal([]byte(res[1]), out); err != nil {
		return fmt.Errorf("redisbus %s: decode reply: %w", method, err)
	}
	return nil
}

var _ core.TokenService = (*Client)(nil)
