package auth

import (
	"context"

	gocache "github.com/patrickmn/go-cache"

	"orgmesh.io/internal/obs"
)

// PolicyLoader resolves the full set of a user's effective policies from the
// role/policy join in one query.
type PolicyLoader func(ctx context.Context, userID string) ([]Policy, error)

// PolicyCache holds per-user authorization snapshots for the process lifetime.
// Entries are loaded lazily and kept until explicitly invalidated; there is no
// TTL and no eviction, which is an accepted limitation of the single-process
// deployment model. Two concurrent misses for the same user may both load and
// both store the result; the overwrite is idempotent.
type PolicyCache struct {
	cache *gocache.Cache
	load  PolicyLoader
}

// NewPolicyCache constructs the cache around a loader. The cache is built at
// process start and passed by injection to every consumer.
func NewPolicyCache(load PolicyLoader) *PolicyCache {
	return &PolicyCache{
		cache: gocache.New(gocache.NoExpiration, 0),
		load:  load,
	}
}

// Policies returns the cached policy set for the user, loading and storing it
// on first use.
func (c *PolicyCache) Policies(ctx context.Context, userID string) (PolicySet, error) {
	if v, ok := c.cache.Get(userID); ok {
		obs.PolicyCacheHit()
		if set, ok := v.(PolicySet); ok {
			return set, nil
		}
	}
	obs.PolicyCacheMiss()
	policies, err := c.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := NewPolicySet(policies)
	c.cache.Set(userID, set, gocache.NoExpiration)
	return set, nil
}

// Invalidate drops the cached entry for the user; the next Policies call
// repopulates it.
func (c *PolicyCache) Invalidate(userID string) {
	c.cache.Delete(userID)
}

// Refresh forces invalidate+reload in one step, used after role changes.
func (c *PolicyCache) Refresh(ctx context.Context, userID string) (PolicySet, error) {
	c.Invalidate(userID)
	return c.Policies(ctx, userID)
}
