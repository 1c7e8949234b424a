package cache

import (
	"strings"
	"time"
)

const defaultTierTTL = 5 * time.Minute

// TierResolverCache stores plan-tier lookups for quota gating.
type TierResolverCache interface {
	GetTier(userID string) (string, bool)
	SetTier(userID, tier string)
	InvalidateTier(userID string)
}

type tierResolverCache struct {
	tiers Cache[string, string]
	ttl   time.Duration
}

// NewTierResolverCache returns an in-memory cache tuned for tier lookups.
func NewTierResolverCache() TierResolverCache {
	return &tierResolverCache{
		tiers: NewTTLCache[string, string](),
		ttl:   defaultTierTTL,
	}
}

func (c *tierResolverCache) GetTier(userID string) (string, bool) {
	return c.tiers.Get(cacheKey(userID))
}

func (c *tierResolverCache) SetTier(userID, tier string) {
	if strings.TrimSpace(tier) == "" {
		return
	}
	c.tiers.Set(cacheKey(userID), tier, c.ttl)
}

func (c *tierResolverCache) InvalidateTier(userID string) {
	c.tiers.Delete(cacheKey(userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
