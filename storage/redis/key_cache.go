package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/redis/go-redis/v9"
)

// KeyCache shares resolved JWKS keys between processes. Entries are stored as JWK JSON so
// any JOSE library can read them back.
type KeyCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

type storedKey struct {
	Source string          `json:"source"`
	JWK    json.RawMessage `json:"jwk"`
}

// DefaultTTL applies when NewKeyCache is given ttl <= 0. Entries in a shared cache are
// never kept without expiry, since they would outlive every process using them.
const DefaultTTL = time.Hour

// NewKeyCache creates a redis-backed key cache.
func NewKeyCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *KeyCache {
	if keyPrefix == "" {
		keyPrefix = "tokengate:jwks:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &KeyCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *KeyCache) key(kid string) string { return c.keyNS + kid }

func (c *KeyCache) Put(ctx context.Context, sk jwtkit.SigningKey) error {
	if sk.KID == "" {
		return errors.New("kid required")
	}
	if _, ok := sk.Key.([]byte); ok {
		return errors.New("secrets are not cached")
	}
	k, err := jwk.FromRaw(sk.Key)
	if err != nil {
		return fmt.Errorf("encode jwk: %w", err)
	}
	if err := k.Set(jwk.KeyIDKey, sk.KID); err != nil {
		return err
	}
	raw, err := json.Marshal(k)
	if err != nil {
		return err
	}
	b, err := json.Marshal(storedKey{Source: sk.Source, JWK: raw})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(sk.KID), b, c.ttl).Err()
}

func (c *KeyCache) Get(ctx context.Context, kid string) (jwtkit.SigningKey, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(kid)).Bytes()
	if err == redis.Nil {
		return jwtkit.SigningKey{}, false, nil
	}
	if err != nil {
		return jwtkit.SigningKey{}, false, err
	}
	var s storedKey
	if err := json.Unmarshal(val, &s); err != nil {
		return jwtkit.SigningKey{}, false, err
	}
	k, err := jwk.ParseKey(s.JWK)
	if err != nil {
		return jwtkit.SigningKey{}, false, fmt.Errorf("decode jwk: %w", err)
	}
	var raw any
	if err := k.Raw(&raw); err != nil {
		return jwtkit.SigningKey{}, false, fmt.Errorf("decode jwk: %w", err)
	}
	return jwtkit.SigningKey{KID: kid, Key: raw, Source: s.Source}, true, nil
}

// Purge deletes every entry under the key prefix.
func (c *KeyCache) Purge(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, c.keyNS+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

var _ jwtkit.KeyCache = (*KeyCache)(nil)
