package authhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	core "github.com/PaulFidika/tokengate/core"
	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func testFacade(t *testing.T) *core.Facade {
	t.Helper()
	cfg := core.DefaultAuthConfig()
	cfg.AuthMode = core.ModeStatic
	cfg.SecretKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Verify.Algorithms = []string{"HS256"}
	log, _ := test.NewNullLogger()
	f, err := core.New(cfg, core.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func subjectHandler(w http.ResponseWriter, r *http.Request) {
	cl, ok := core.ClaimsFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write([]byte(cl.Subject()))
}

func TestRequired(t *testing.T) {
	f := testFacade(t)
	tok, err := f.Sign(context.Background(), nil, "user-1", nil)
	require.NoError(t, err)
	h := Required(f)(http.HandlerFunc(subjectHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "user-1", rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/?passtk="+tok, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	for _, auth := range []string{"", "Basic xxxx", "Bearer " + tok + "x"} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", auth)
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusForbidden, rr.Code, auth)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, map[string]string{"error": "forbidden"}, body)
	}
}

func TestRequired_TokenTypeOverride(t *testing.T) {
	f := testFacade(t)
	tok, err := f.Sign(context.Background(), nil, "user-1", nil)
	require.NoError(t, err)
	h := Required(f, core.HeaderOnly)(http.HandlerFunc(subjectHandler))

	req := httptest.NewRequest(http.MethodGet, "/?passtk="+tok, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOptional(t *testing.T) {
	f := testFacade(t)
	tok, err := f.Sign(context.Background(), nil, "user-1", nil)
	require.NoError(t, err)
	h := Optional(f)(http.HandlerFunc(subjectHandler))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "user-1", rr.Body.String())
}

func TestChiRegistrar(t *testing.T) {
	r := chi.NewRouter()
	reg := NewChiRegistrar(r)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(r.Method)) })
	reg.GET("/x", ok)
	reg.POST("/x", ok)
	reg.PUT("/x", ok)
	reg.PATCH("/x", ok)
	reg.DELETE("/x", ok)

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(m, "/x", nil))
		require.Equal(t, http.StatusOK, rr.Code, m)
		require.Equal(t, m, rr.Body.String())
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodHead, "/x", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type publisherFunc func() (jwk.Set, error)

func (f publisherFunc) JWKS() (jwk.Set, error) { return f() }

func TestJWKSHandler(t *testing.T) {
	f := testFacade(t)
	rr := httptest.NewRecorder()
	JWKSHandler(f).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	set := jwk.NewSet()
	h := JWKSHandler(publisherFunc(func() (jwk.Set, error) { return set, nil }))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	etag := rr.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotModified, rr.Code)
}
