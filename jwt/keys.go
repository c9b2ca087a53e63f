package jwtkit

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AlgFamily groups JWS algorithms by the kind of key material they need.
type AlgFamily int

const (
	FamilyUnknown AlgFamily = iota
	FamilyNone
	FamilySymmetric
	FamilyAsymmetric
)

func (f AlgFamily) String() string {
	switch f {
	case FamilyNone:
		return "none"
	case FamilySymmetric:
		return "symmetric"
	case FamilyAsymmetric:
		return "asymmetric"
	default:
		return "unknown"
	}
}

// Family reports the key family of a JWS algorithm name.
func Family(alg string) AlgFamily {
	switch alg {
	case "none":
		return FamilyNone
	case "HS256", "HS384", "HS512":
		return FamilySymmetric
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA":
		return FamilyAsymmetric
	default:
		return FamilyUnknown
	}
}

// KeyMatchesAlgorithm reports whether key is usable (for verification or signing) with alg.
// Public and private keys of the same type both match.
func KeyMatchesAlgorithm(alg string, key any) bool {
	switch {
	case strings.HasPrefix(alg, "HS"):
		b, ok := key.([]byte)
		return ok && len(b) > 0
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		switch key.(type) {
		case *rsa.PublicKey, *rsa.PrivateKey:
			return true
		}
	case strings.HasPrefix(alg, "ES"):
		var curve string
		switch k := key.(type) {
		case *ecdsa.PublicKey:
			curve = k.Curve.Params().Name
		case *ecdsa.PrivateKey:
			curve = k.Curve.Params().Name
		default:
			return false
		}
		switch alg {
		case "ES256":
			return curve == "P-256"
		case "ES384":
			return curve == "P-384"
		case "ES512":
			return curve == "P-521"
		}
	case alg == "EdDSA":
		switch key.(type) {
		case ed25519.PublicKey, ed25519.PrivateKey:
			return true
		}
	}
	return false
}

// DefaultAlgorithm picks the natural JWS algorithm for a signing key.
func DefaultAlgorithm(key any) string {
	switch k := key.(type) {
	case []byte:
		return "HS256"
	case *rsa.PrivateKey, *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PrivateKey:
		return ecAlgorithm(k.Curve.Params().Name)
	case *ecdsa.PublicKey:
		return ecAlgorithm(k.Curve.Params().Name)
	case ed25519.PrivateKey, ed25519.PublicKey:
		return "EdDSA"
	}
	return ""
}

func ecAlgorithm(curve string) string {
	switch curve {
	case "P-384":
		return "ES384"
	case "P-521":
		return "ES512"
	default:
		return "ES256"
	}
}

// PublicKeyOf returns the public half of a private key.
func PublicKeyOf(priv crypto.Signer) crypto.PublicKey {
	if priv == nil {
		return nil
	}
	return priv.Public()
}

// ParsePrivateKeyPEM decodes an RSA, EC or Ed25519 private key (PKCS#1, SEC1 or PKCS#8).
func ParsePrivateKeyPEM(pemBytes []byte) (crypto.Signer, error) {
	if len(pemBytes) == 0 {
		return nil, errors.New("empty private key pem")
	}
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("failed to decode private key pem")
	}
	switch blk.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(blk.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(blk.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("pkcs8 key of type %T cannot sign", key)
	}
	return signer, nil
}

// ParsePublicKeyPEM decodes a PKIX or PKCS#1 public key, or the key of an X.509 certificate.
func ParsePublicKeyPEM(pemBytes []byte) (crypto.PublicKey, error) {
	if len(pemBytes) == 0 {
		return nil, errors.New("empty public key pem")
	}
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("failed to decode public key pem")
	}
	switch blk.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(blk.Bytes)
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(blk.Bytes)
		if err != nil {
			return nil, err
		}
		return cert.PublicKey, nil
	}
	return x509.ParsePKIXPublicKey(blk.Bytes)
}

// EncodePrivateKeyPEM serializes a private key as PKCS#8 PEM.
func EncodePrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM serializes a public key as PKIX PEM.
func EncodePublicKeyPEM(key crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

const (
	privateKeyFile = "private.pem"
	keyIDFile      = "kid"
)

// DevKey is a locally generated RSA signing key used by the dev server when no key
// material is configured. Keys are stored under dir and reused across restarts.
type DevKey struct {
	KID        string
	PrivateKey *rsa.PrivateKey
}

// LoadOrGenerateDevKey loads a persisted dev key from dir, or generates and persists a new one.
// It must never be used in production.
func LoadOrGenerateDevKey(dir string) (*DevKey, error) {
	if dir == "" {
		dir = ".runtime/tokengate"
	}
	if k, ok := loadDevKey(dir); ok {
		return k, nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate dev key: %w", err)
	}
	k := &DevKey{KID: fmt.Sprintf("dev-%d", time.Now().Unix()), PrivateKey: priv}
	if err := persistDevKey(dir, k); err != nil {
		return k, fmt.Errorf("persist dev key: %w", err)
	}
	return k, nil
}

func loadDevKey(dir string) (*DevKey, bool) {
	pemBytes, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, false
	}
	kid := "dev"
	if b, err := os.ReadFile(filepath.Join(dir, keyIDFile)); err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			kid = s
		}
	}
	signer, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, false
	}
	priv, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, false
	}
	return &DevKey{KID: kid, PrivateKey: priv}, true
}

func persistDevKey(dir string, k *DevKey) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	privPEM, err := EncodePrivateKeyPEM(k.PrivateKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, keyIDFile), []byte(k.KID), 0o600)
}
