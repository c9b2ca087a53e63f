package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	core "github.com/PaulFidika/tokengate/core"
	"github.com/PaulFidika/tokengate/rpc"
)

var errEmptyReply = errors.New("httprpc: empty reply")

// Client implements core.TokenService against a Server. It does not retry.
type Client struct {
	base   string
	http   *http.Client
	caller string
	secret string
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithCaller sets the caller id sent in CallerHeader.
func WithCaller(id string) ClientOption { return func(cl *Client) { cl.caller = id } }

// WithSecret sets the shared secret sent in SecretHeader, for servers using SharedSecretAuth.
func WithSecret(secret string) ClientOption { return func(cl *Client) { cl.secret = secret } }

// NewClient targets baseURL plus the prefix the server was registered with
// (e.g. "http://auth:8080/rpc").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 5 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ValidateToken(ctx context.Context, raw string, override *core.VerifyOptions) (core.Claims, error) {
	var resp rpc.ValidateResponse
	if err := c.do(ctx, http.MethodPost, "/validate", rpc.ValidateRequest{Token: raw, Options: rpc.FromVerifyOptions(override)}, &resp); err != nil {
		return nil, err
	}
	if err := rpc.ResponseError(resp.Error); err != nil {
		return nil, err
	}
	if resp.Claims == nil {
		return nil, errEmptyReply
	}
	return core.Claims(resp.Claims), nil
}

func (c *Client) SignToken(ctx context.Context, claims map[string]any, subject string, override *core.SignOptions) (string, error) {
	var resp rpc.SignResponse
	if err := c.do(ctx, http.MethodPost, "/sign", rpc.SignRequest{Claims: claims, Subject: subject, Options: rpc.FromSignOptions(override)}, &resp); err != nil {
		return "", err
	}
	if err := rpc.ResponseError(resp.Error); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errEmptyReply
	}
	return resp.Token, nil
}

func (c *Client) GetConfig(ctx context.Context) (core.PublicConfig, error) {
	var resp rpc.ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/config", nil, &resp); err != nil {
		return core.PublicConfig{}, err
	}
	if err := rpc.ResponseError(resp.Error); err != nil {
		return core.PublicConfig{}, err
	}
	if resp.Config == nil {
		return core.PublicConfig{}, errEmptyReply
	}
	return *resp.Config, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(CallerHeader, c.caller)
	}
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httprpc %s: %w", path, err)
	}
	defer res.Body.Close()
	if !expectedStatus(res.StatusCode) {
		// not produced by Server; a proxy or a wrong route answered
		return fmt.Errorf("httprpc %s: unexpected status %d", path, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("httprpc %s: status %d: %w", path, res.StatusCode, err)
	}
	return nil
}

// expectedStatus lists the statuses Server answers with a coded body.
func expectedStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusNotImplemented:
		return true
	}
	return code >= 200 && code < 300
}

var _ core.TokenService = (*Client)(nil)
