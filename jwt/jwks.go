package jwtkit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// PublishedKey is a public key advertised in a JWKS document.
type PublishedKey struct {
	KID       string
	Algorithm string
	PublicKey any
}

// BuildJWKS converts public keys into a JWK set suitable for JWKS-mode consumers.
func BuildJWKS(keys ...PublishedKey) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		if k.PublicKey == nil {
			return nil, errors.New("jwks: nil public key")
		}
		if _, ok := k.PublicKey.([]byte); ok {
			return nil, errors.New("jwks: secrets cannot be published")
		}
		key, err := jwk.FromRaw(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		if k.KID != "" {
			if err := key.Set(jwk.KeyIDKey, k.KID); err != nil {
				return nil, err
			}
		}
		if k.Algorithm != "" {
			if err := key.Set(jwk.AlgorithmKey, jwa.KeyAlgorithmFrom(k.Algorithm)); err != nil {
				return nil, err
			}
		}
		if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// ServeJWKS writes the JWKS JSON to the ResponseWriter.
func ServeJWKS(w http.ResponseWriter, r *http.Request, ks jwk.Set) {
	// Marshal first to compute a stable ETag and set cache headers
	b, err := json.Marshal(ks)
	if err != nil {
		http.Error(w, "jwks unavailable", http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}
