package core

import (
	"net/url"
	"strings"
)

// Locator extracts a candidate token from a request. It never fails: anything that does
// not look like a token for the applicable path is treated as absent.
type Locator struct {
	bearerPrefix string
	queryParam   string
}

func NewLocator(bearerPrefix, queryParam string) *Locator {
	return &Locator{bearerPrefix: bearerPrefix, queryParam: queryParam}
}

// Find returns the raw token for the given token type.
func (l *Locator) Find(req RequestView, tokenType TokenType) (string, bool) {
	switch tokenType {
	case HeaderOnly:
		return l.fromHeader(req)
	case QueryOnly:
		return l.fromQuery(req)
	case HeaderThenQuery:
		if tok, ok := l.fromHeader(req); ok {
			return tok, true
		}
		return l.fromQuery(req)
	}
	return "", false
}

// fromHeader requires exactly "<prefix> " (case-sensitive). Other schemes are not parsed.
func (l *Locator) fromHeader(req RequestView) (string, bool) {
	h := req.HeaderValue("Authorization")
	prefix := l.bearerPrefix + " "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	tok := h[len(prefix):]
	return tok, tok != ""
}

func (l *Locator) fromQuery(req RequestView) (string, bool) {
	raw, ok := req.QueryValue(l.queryParam)
	if !ok || raw == "" {
		return "", false
	}
	tok, err := url.QueryUnescape(raw)
	if err != nil || tok == "" {
		return "", false
	}
	return tok, true
}
