package core

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = k
	})
	return rsaKey
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func hmacConfig() AuthConfig {
	cfg := DefaultAuthConfig()
	cfg.AuthMode = ModeStatic
	cfg.SecretKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Verify.Algorithms = []string{"HS256"}
	return cfg
}

func rsaConfig(t *testing.T) AuthConfig {
	cfg := DefaultAuthConfig()
	cfg.AuthMode = ModeStatic
	cfg.PrivateKey = testRSAKey(t)
	cfg.KeyID = "static-1"
	return cfg
}

func newFacade(t *testing.T, cfg AuthConfig, opts ...Option) *Facade {
	t.Helper()
	f, err := New(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func signRaw(t *testing.T, alg string, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwtkit.NewKeySigner(alg, key, kid)
	require.NoError(t, err)
	tok, err := s.Sign(context.Background(), claims)
	require.NoError(t, err)
	return tok
}

func bearer(tok string) MapRequest {
	return MapRequest{Headers: map[string]string{"Authorization": "Bearer " + tok}}
}

type jwksServer struct {
	*httptest.Server
	fetches atomic.Int32
	fail    atomic.Bool
}

func newJWKSServer(t *testing.T, keys ...jwtkit.PublishedKey) *jwksServer {
	t.Helper()
	set, err := jwtkit.BuildJWKS(keys...)
	require.NoError(t, err)
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		if s.fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		jwtkit.ServeJWKS(w, r, set)
	}))
	t.Cleanup(s.Close)
	return s
}

func jwksConfig(url string) AuthConfig {
	cfg := DefaultAuthConfig()
	cfg.AuthMode = ModeJWKS
	cfg.KeyURL = url
	return cfg
}

// countingRequest records every access so tests can prove the locator never ran.
type countingRequest struct {
	MapRequest
	calls atomic.Int32
}

func (c *countingRequest) HeaderValue(name string) string {
	c.calls.Add(1)
	return c.MapRequest.HeaderValue(name)
}

func (c *countingRequest) QueryValue(name string) (string, bool) {
	c.calls.Add(1)
	return c.MapRequest.QueryValue(name)
}
