package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache lookup outcomes reported to the observer.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
)

// CachedVerifier remembers successful verifications for a short TTL, never
// beyond the credential's own expiry, and coalesces concurrent verifications
// of the same credential into one upstream call. Failures are not cached.
type CachedVerifier struct {
	next    Verifier
	entries *expirable.LRU[string, ExternalIdentity]
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
	observe func(result string)
}

var _ Verifier = (*CachedVerifier)(nil)

// CacheOption configures CachedVerifier.
type CacheOption func(*CachedVerifier)

// WithCacheClock overrides the clock used to compare against credential expiry.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedVerifier) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheObserver receives one of CacheHit, CacheMiss or CacheShared per call.
func WithCacheObserver(fn func(result string)) CacheOption {
	return func(c *CachedVerifier) {
		c.observe = fn
	}
}

// NewCachedVerifier wraps next. timeout bounds the shared upstream call, which
// runs detached from any single caller.
func NewCachedVerifier(next Verifier, size int, ttl, timeout time.Duration, opts ...CacheOption) *CachedVerifier {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &CachedVerifier{
		next:    next,
		entries: expirable.NewLRU[string, ExternalIdentity](size, nil, ttl),
		timeout: timeout,
		now:     time.Now,
		observe: func(string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedVerifier) Verify(ctx context.Context, credential string) (ExternalIdentity, error) {
	key := credentialKey(credential)
	if id, ok := c.entries.Get(key); ok {
		if c.usable(id) {
			c.observe(CacheHit)
			return id, nil
		}
		c.entries.Remove(key)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		id, err := c.next.Verify(vctx, credential)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || vctx.Err() != nil {
				return nil, context.DeadlineExceeded
			}
			return nil, err
		}
		if c.usable(id) {
			c.entries.Add(key, id)
		}
		return id, nil
	})

	select {
	case <-ctx.Done():
		return ExternalIdentity{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.observe(CacheShared)
		} else {
			c.observe(CacheMiss)
		}
		if res.Err != nil {
			return ExternalIdentity{}, res.Err
		}
		return res.Val.(ExternalIdentity), nil
	}
}

func (c *CachedVerifier) usable(id ExternalIdentity) bool {
	return !id.ExpiresAt.IsZero() && c.now().Before(id.ExpiresAt)
}

// Len reports the number of cached identities.
func (c *CachedVerifier) Len() int {
	return c.entries.Len()
}

func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
