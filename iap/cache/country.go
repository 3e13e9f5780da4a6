package cache

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/code-payments/iap-coordinator/iap"
)

const countryCacheKey = "storefront"

type CountryCodeSource interface {
	CountryCode(ctx context.Context) (string, error)
}

// CountryCode caches the normalized storefront country of a source for ttl.
// Storefronts change rarely, and on one platform the lookup costs a billing
// service round trip.
type CountryCode struct {
	source CountryCodeSource
	cache  *ttlcache.Cache
}

func NewCountryCode(source CountryCodeSource, ttl time.Duration) *CountryCode {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &CountryCode{
		source: source,
		cache:  cache,
	}
}

func (c *CountryCode) CountryCode(ctx context.Context) (string, error) {
	if cached, ok := c.cache.Get(countryCacheKey); ok {
		return cached.(string), nil
	}

	raw, err := c.source.CountryCode(ctx)
	if err != nil {
		return "", err
	}

	code, err := iap.NormalizeCountryCode(raw)
	if err != nil {
		return "", iap.ErrInternal.WithCause(err).WithMessage(err.Error())
	}

	c.cache.Set(countryCacheKey, code)
	return code, nil
}

// Invalidate drops the cached value, e.g. after a storefront change.
func (c *CountryCode) Invalidate() {
	c.cache.Remove(countryCacheKey)
}

func (c *CountryCode) Close() {
	c.cache.Close()
}
