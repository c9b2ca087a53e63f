// Package rpc carries the core.TokenService surface across process boundaries.
// The wire types here are shared by the HTTP (httprpc) and Redis (redisbus) transports.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	core "github.com/PaulFidika/tokengate/core"
)

// Methods understood by Dispatcher.
const (
	MethodValidate = "validate"
	MethodSign     = "sign"
	MethodConfig   = "config"
)

var (
	// ErrRateLimited is returned to sign callers over their budget.
	ErrRateLimited = errors.New("rate_limited")
	// ErrUnauthorizedCaller is returned when a transport could not authenticate a sign caller.
	ErrUnauthorizedCaller = errors.New("unauthorized_caller")
)

var transportErrors = []error{ErrRateLimited, ErrUnauthorizedCaller}

// Error is the wire form of a failed call.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Unwrap maps the code back to its sentinel so errors.Is works on the client side.
func (e *Error) Unwrap() error {
	for _, s := range transportErrors {
		if e.Code == s.Error() {
			return s
		}
	}
	return core.ErrorFromCode(e.Code)
}

// NewError converts err for the wire.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	code := core.ErrorCode(err)
	for _, s := range transportErrors {
		if errors.Is(err, s) {
			code = s.Error()
		}
	}
	return &Error{Code: code, Message: err.Error()}
}

type VerifyOptions struct {
	Algorithms        []string `json:"algorithms,omitempty"`
	Issuer            []string `json:"issuer,omitempty"`
	Audience          []string `json:"audience,omitempty"`
	ClockToleranceMS  int64    `json:"clock_tolerance_ms,omitempty"`
	IgnoreExpiration  bool     `json:"ignore_expiration,omitempty"`
	IgnoreNotBefore   bool     `json:"ignore_not_before,omitempty"`
	RequireExpiration bool     `json:"require_expiration,omitempty"`
}

func FromVerifyOptions(o *core.VerifyOptions) *VerifyOptions {
	if o == nil {
		return nil
	}
	return &VerifyOptions{
		Algorithms:        o.Algorithms,
		Issuer:            o.Issuer,
		Audience:          o.Audience,
		ClockToleranceMS:  o.ClockTolerance.Milliseconds(),
		IgnoreExpiration:  o.IgnoreExpiration,
		IgnoreNotBefore:   o.IgnoreNotBefore,
		RequireExpiration: o.RequireExpiration,
	}
}

func (o *VerifyOptions) Core() *core.VerifyOptions {
	if o == nil {
		return nil
	}
	return &core.VerifyOptions{
		Algorithms:        o.Algorithms,
		Issuer:            o.Issuer,
		Audience:          o.Audience,
		ClockTolerance:    time.Duration(o.ClockToleranceMS) * time.Millisecond,
		IgnoreExpiration:  o.IgnoreExpiration,
		IgnoreNotBefore:   o.IgnoreNotBefore,
		RequireExpiration: o.RequireExpiration,
	}
}

type SignOptions struct {
	Subject          string   `json:"subject,omitempty"`
	Issuer           string   `json:"issuer,omitempty"`
	Audience         []string `json:"audience,omitempty"`
	ExpiresInSeconds int64    `json:"expires_in_seconds,omitempty"`
	NotBeforeSeconds int64    `json:"not_before_seconds,omitempty"`
	KeyID            string   `json:"kid,omitempty"`
}

func FromSignOptions(o *core.SignOptions) *SignOptions {
	if o == nil {
		return nil
	}
	return &SignOptions{
		Subject:          o.Subject,
		Issuer:           o.Issuer,
		Audience:         o.Audience,
		ExpiresInSeconds: int64(o.ExpiresIn / time.Second),
		NotBeforeSeconds: int64(o.NotBefore / time.Second),
		KeyID:            o.KeyID,
	}
}

func (o *SignOptions) Core() *core.SignOptions {
	if o == nil {
		return nil
	}
	return &core.SignOptions{
		Subject:   o.Subject,
		Issuer:    o.Issuer,
		Audience:  o.Audience,
		ExpiresIn: time.Duration(o.ExpiresInSeconds) * time.Second,
		NotBefore: time.Duration(o.NotBeforeSeconds) * time.Second,
		KeyID:     o.KeyID,
	}
}

type ValidateRequest struct {
	Token   string         `json:"token"`
	Options *VerifyOptions `json:"options,omitempty"`
}

type ValidateResponse struct {
	Claims map[string]any `json:"claims,omitempty"`
	Error  *Error         `json:"error,omitempty"`
}

type SignRequest struct {
	Claims  map[string]any `json:"claims,omitempty"`
	Subject string         `json:"subject"`
	Options *SignOptions   `json:"options,omitempty"`
}

type SignResponse struct {
	Token string `json:"token,omitempty"`
	Error *Error `json:"error,omitempty"`
}

type ConfigResponse struct {
	Config *core.PublicConfig `json:"config,omitempty"`
	Error  *Error             `json:"error,omitempty"`
}

// Envelope is one request on the Redis bus.
type Envelope struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	ReplyTo string `json:"reply_to"`
	Caller  string `json:"caller,omitempty"`
	// Secret authenticates Caller to servers that check sign callers.
	Secret string `json:"secret,omitempty"`
	// DeadlineMS is the caller's deadline in Unix milliseconds; expired requests are dropped.
	DeadlineMS int64           `json:"deadline_ms"`
	Payload    json.RawMessage `json:"payload"`
}

// Expired reports whether the caller has stopped waiting.
func (e Envelope) Expired(now time.Time) bool {
	return e.DeadlineMS > 0 && now.UnixMilli() >= e.DeadlineMS
}

func errUnknownMethod(m string) error { return fmt.Errorf("unknown method %q", m) }

func errMalformedSecret(pair string) error {
	id, _, _ := strings.Cut(pair, "=")
	return fmt.Errorf("caller secret for %q must be id=secret", strings.TrimSpace(id))
}
