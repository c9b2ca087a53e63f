// Package httprpc serves and consumes the token service over HTTP+JSON.
package httprpc

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	core "github.com/PaulFidika/tokengate/core"
	"github.com/PaulFidika/tokengate/routes"
	"github.com/PaulFidika/tokengate/rpc"
)

const (
	// CallerHeader names the calling component. It is only trusted together with
	// SecretHeader under SharedSecretAuth.
	CallerHeader = "X-Tokengate-Caller"
	// SecretHeader carries the caller's shared secret.
	SecretHeader = "X-Tokengate-Secret"
)

const maxBody = 1 << 20

// CallerAuth authenticates the sender of a sign request and returns its identity.
// The identity keys the sign rate limit.
type CallerAuth func(r *http.Request) (caller string, err error)

// Server exposes a Dispatcher as POST {prefix}/validate, POST {prefix}/sign and
// GET {prefix}/config. Without WithSignAuth, sign callers are identified (and rate
// limited) by remote address only.
type Server struct {
	d        *rpc.Dispatcher
	signAuth CallerAuth
}

type ServerOption func(*Server)

// WithSignAuth requires every sign request to pass auth.
func WithSignAuth(auth CallerAuth) ServerOption { return func(s *Server) { s.signAuth = auth } }

func NewServer(d *rpc.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{d: d}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SharedSecretAuth accepts callers that send a known CallerHeader with its SecretHeader.
func SharedSecretAuth(secrets rpc.CallerSecrets) CallerAuth {
	return func(r *http.Request) (string, error) {
		return secrets.Authenticate(r.Header.Get(CallerHeader), r.Header.Get(SecretHeader))
	}
}

// ClientCertAuth identifies callers by the common name of their verified TLS client
// certificate. The http.Server must request and verify client certificates.
func ClientCertAuth() CallerAuth {
	return func(r *http.Request) (string, error) {
		if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
			return "", rpc.ErrUnauthorizedCaller
		}
		cn := r.TLS.VerifiedChains[0][0].Subject.CommonName
		if cn == "" {
			return "", rpc.ErrUnauthorizedCaller
		}
		return cn, nil
	}
}

// Register mounts the routes under prefix (e.g. "/rpc").
func (s *Server) Register(r routes.Registrar, prefix string) {
	prefix = strings.TrimRight(prefix, "/")
	r.POST(prefix+"/validate", s.handler(rpc.MethodValidate))
	r.POST(prefix+"/sign", s.handler(rpc.MethodSign))
	r.GET(prefix+"/config", s.handler(rpc.MethodConfig))
}

func (s *Server) handler(method string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []byte
		if r.Method == http.MethodPost {
			b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
				return
			}
			payload = b
		}
		caller := remoteHost(r)
		if method == rpc.MethodSign && s.signAuth != nil {
			id, err := s.signAuth(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, rpc.SignResponse{Error: rpc.NewError(rpc.ErrUnauthorizedCaller)})
				return
			}
			caller = id
		}
		resp, err := s.d.Dispatch(r.Context(), method, caller, payload)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		writeJSON(w, statusOf(resp), resp)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func statusOf(resp any) int {
	var e *rpc.Error
	switch v := resp.(type) {
	case rpc.ValidateResponse:
		e = v.Error
	case rpc.SignResponse:
		e = v.Error
	case rpc.ConfigResponse:
		e = v.Error
	}
	switch {
	case e == nil:
		return http.StatusOK
	case errors.Is(e, rpc.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(e, core.ErrConfiguration):
		return http.StatusNotImplemented
	case e.Code == "internal_error":
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
