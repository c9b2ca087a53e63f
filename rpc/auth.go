package rpc

import (
	"crypto/subtle"
	"strings"
)

// CallerSecrets maps caller ids to the shared secrets they sign requests with.
type CallerSecrets map[string]string

// Authenticate returns the caller id when secret is the one registered for it.
func (cs CallerSecrets) Authenticate(id, secret string) (string, error) {
	id = strings.TrimSpace(id)
	want, ok := cs[id]
	if !ok || id == "" || want == "" {
		return "", ErrUnauthorizedCaller
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(want)) != 1 {
		return "", ErrUnauthorizedCaller
	}
	return id, nil
}

// ParseCallerSecrets reads "id=secret" pairs, as listed in configuration.
func ParseCallerSecrets(pairs []string) (CallerSecrets, error) {
	cs := CallerSecrets{}
	for _, p := range pairs {
		id, secret, ok := strings.Cut(strings.TrimSpace(p), "=")
		id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
		if !ok || id == "" || secret == "" {
			return nil, errMalformedSecret(p)
		}
		cs[id] = secret
	}
	return cs, nil
}
