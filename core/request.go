package core

import (
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// RequestView is the part of an HTTP request the locator reads.
type RequestView interface {
	// HeaderValue returns the first value of the named header; names are case-insensitive.
	HeaderValue(name string) string
	// QueryValue returns the raw (still URL-encoded) value of the named query parameter.
	QueryValue(name string) (string, bool)
}

type httpRequest struct{ r *http.Request }

// HTTPRequest adapts a net/http request.
func HTTPRequest(r *http.Request) RequestView { return httpRequest{r: r} }

func (h httpRequest) HeaderValue(name string) string { return h.r.Header.Get(name) }

func (h httpRequest) QueryValue(name string) (string, bool) {
	if h.r.URL == nil {
		return "", false
	}
	for _, pair := range strings.Split(h.r.URL.RawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if k == name {
			return v, true
		}
	}
	return "", false
}

// MapRequest is a RequestView over plain maps, for non-HTTP callers and tests.
// Query values are raw, as they appear on the wire.
type MapRequest struct {
	Headers map[string]string
	Query   map[string]string
}

func (m MapRequest) HeaderValue(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	if v, ok := m.Headers[textproto.CanonicalMIMEHeaderKey(name)]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (m MapRequest) QueryValue(name string) (string, bool) {
	v, ok := m.Query[name]
	return v, ok
}
