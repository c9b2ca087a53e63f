package jwtkit

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFamily(t *testing.T) {
	require.Equal(t, FamilySymmetric, Family("HS384"))
	require.Equal(t, FamilyAsymmetric, Family("ES256"))
	require.Equal(t, FamilyAsymmetric, Family("EdDSA"))
	require.Equal(t, FamilyNone, Family("none"))
	require.Equal(t, FamilyUnknown, Family("XS256"))
	require.Equal(t, "symmetric", FamilySymmetric.String())
}

func TestKeyMatchesAlgorithm(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	require.True(t, KeyMatchesAlgorithm("HS256", []byte("s")))
	require.False(t, KeyMatchesAlgorithm("HS256", []byte{}))
	require.False(t, KeyMatchesAlgorithm("HS256", &rsaKey.PublicKey))
	require.True(t, KeyMatchesAlgorithm("RS256", &rsaKey.PublicKey))
	require.True(t, KeyMatchesAlgorithm("PS512", rsaKey))
	require.False(t, KeyMatchesAlgorithm("RS256", []byte("s")))
	require.True(t, KeyMatchesAlgorithm("ES256", &p256.PublicKey))
	require.False(t, KeyMatchesAlgorithm("ES384", &p256.PublicKey))
	require.True(t, KeyMatchesAlgorithm("EdDSA", edPub))
	require.False(t, KeyMatchesAlgorithm("none", nil))

	require.Equal(t, "RS256", DefaultAlgorithm(rsaKey))
	require.Equal(t, "ES256", DefaultAlgorithm(p256))
	require.Equal(t, "EdDSA", DefaultAlgorithm(edPub))
	require.Equal(t, "HS256", DefaultAlgorithm([]byte("s")))
}

func TestPEMRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	privPEM, err := EncodePrivateKeyPEM(priv)
	require.NoError(t, err)
	parsed, err := ParsePrivateKeyPEM(privPEM)
	require.NoError(t, err)
	require.True(t, priv.Equal(parsed))

	pubPEM, err := EncodePublicKeyPEM(priv.Public())
	require.NoError(t, err)
	pub, err := ParsePublicKeyPEM(pubPEM)
	require.NoError(t, err)
	require.True(t, priv.PublicKey.Equal(pub))

	_, err = ParsePrivateKeyPEM([]byte("not pem"))
	require.Error(t, err)
	_, err = ParsePublicKeyPEM(nil)
	require.Error(t, err)
}

func TestLoadOrGenerateDevKey_Persists(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrGenerateDevKey(dir)
	require.NoError(t, err)
	second, err := LoadOrGenerateDevKey(dir)
	require.NoError(t, err)
	require.Equal(t, first.KID, second.KID)
	require.True(t, first.PrivateKey.Equal(second.PrivateKey))
}

func TestKeySigner(t *testing.T) {
	_, err := NewKeySigner("none", []byte("s"), "")
	require.Error(t, err)
	_, err = NewKeySigner("HS256", []byte{}, "")
	require.Error(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = NewKeySigner("HS256", rsaKey, "")
	require.True(t, errors.Is(err, ErrKeyFamily))

	s, err := NewKeySigner("RS256", rsaKey, "k1")
	require.NoError(t, err)
	require.Equal(t, "RS256", s.Algorithm())
	require.Equal(t, "k1", s.KID())
	require.Equal(t, "k2", s.WithKID("k2").KID())
	require.Equal(t, "k1", s.KID())
	require.NotNil(t, s.PublicKey())

	tok, err := s.Sign(context.Background(), map[string]any{"sub": "u"})
	require.NoError(t, err)
	require.NotEmpty(t, tok)
}

func TestStaticResolver(t *testing.T) {
	_, err := NewStaticResolver(nil, nil)
	require.Error(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = NewStaticResolver([]byte("s"), &rsaKey.PublicKey)
	require.Error(t, err)

	secret, err := NewStaticResolver([]byte("s"), nil)
	require.NoError(t, err)
	require.Equal(t, FamilySymmetric, secret.Family())
	key, err := secret.KeyFor(context.Background(), "", "HS256")
	require.NoError(t, err)
	require.Equal(t, []byte("s"), key)
	_, err = secret.KeyFor(context.Background(), "", "RS256")
	require.ErrorIs(t, err, ErrKeyFamily)

	public, err := NewStaticResolver(nil, &rsaKey.PublicKey)
	require.NoError(t, err)
	_, err = public.KeyFor(context.Background(), "", "HS256")
	require.ErrorIs(t, err, ErrKeyFamily)
	_, err = public.KeyFor(context.Background(), "", "ES256")
	require.ErrorIs(t, err, ErrKeyFamily)
}
