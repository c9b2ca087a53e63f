package memorystore

import (
	"context"
	"sync"
	"time"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
)

// KeyCache is an in-process jwtkit.KeyCache. Reads are lock-free once a kid is populated.
// With ttl <= 0 entries are kept for the life of the process.
type KeyCache struct {
	ttl    time.Duration
	now    func() time.Time
	data   sync.Map // kid -> *entry
	closed chan struct{}
	once   sync.Once
}

type entry struct {
	key SigningKey
	exp time.Time
}

// SigningKey aliases the descriptor type so callers need not import jwtkit.
type SigningKey = jwtkit.SigningKey

// NewKeyCache creates an in-memory key cache. With a positive ttl a background goroutine
// removes expired entries every minute until Close is called.
func NewKeyCache(ttl time.Duration) *KeyCache {
	c := &KeyCache{ttl: ttl, now: time.Now, closed: make(chan struct{})}
	if ttl > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *KeyCache) Get(_ context.Context, kid string) (SigningKey, bool, error) {
	v, ok := c.data.Load(kid)
	if !ok {
		return SigningKey{}, false, nil
	}
	e := v.(*entry)
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.data.CompareAndDelete(kid, v)
		return SigningKey{}, false, nil
	}
	return e.key, true, nil
}

func (c *KeyCache) Put(_ context.Context, key SigningKey) error {
	e := &entry{key: key}
	if c.ttl > 0 {
		e.exp = c.now().Add(c.ttl)
	}
	c.data.Store(key.KID, e)
	return nil
}

func (c *KeyCache) Purge(_ context.Context) error {
	c.data.Range(func(k, _ any) bool {
		c.data.Delete(k)
		return true
	})
	return nil
}

// Len reports the number of cached kids, expired or not.
func (c *KeyCache) Len() int {
	n := 0
	c.data.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *KeyCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.closed:
			return
		}
	}
}

func (c *KeyCache) cleanup() {
	now := c.now()
	c.data.Range(func(k, v any) bool {
		if e := v.(*entry); !e.exp.IsZero() && now.After(e.exp) {
			c.data.CompareAndDelete(k, v)
		}
		return true
	})
}

// Close stops the background cleanup goroutine.
func (c *KeyCache) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

var _ jwtkit.KeyCache = (*KeyCache)(nil)
