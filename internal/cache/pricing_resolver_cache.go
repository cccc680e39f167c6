package cache

import (
	"strings"
	"time"

	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
)

// PricingResolverCache stores hot-path catalog lookups in front of the
// pricing tables. Admin writes invalidate entries explicitly; the TTL only
// bounds staleness if an invalidation is missed.
type PricingResolverCache interface {
	GetEntries(modelID, providerID string) ([]pricingdomain.PricingEntry, bool)
	SetEntries(modelID, providerID string, entries []pricingdomain.PricingEntry, ttl time.Duration)
	GetMargins(tier string) ([]pricingdomain.TierMargin, bool)
	SetMargins(tier string, margins []pricingdomain.TierMargin, ttl time.Duration)
	GetModelMeta(modelID string) (pricingdomain.ModelMeta, bool)
	SetModelMeta(modelID string, meta pricingdomain.ModelMeta, ttl time.Duration)

	InvalidateModel(modelID string)
	InvalidateAll()
}

type pricingResolverCache struct {
	entries Cache[string, []pricingdomain.PricingEntry]
	margins Cache[string, []pricingdomain.TierMargin]
	metas   Cache[string, pricingdomain.ModelMeta]
}

// NewPricingResolverCache returns an in-memory cache for catalog resolution.
func NewPricingResolverCache() PricingResolverCache {
	return &pricingResolverCache{
		entries: NewTTLCache[string, []pricingdomain.PricingEntry](),
		margins: NewTTLCache[string, []pricingdomain.TierMargin](),
		metas:   NewTTLCache[string, pricingdomain.ModelMeta](),
	}
}

func (c *pricingResolverCache) GetEntries(modelID, providerID string) ([]pricingdomain.PricingEntry, bool) {
	return c.entries.Get(cacheKey(modelID, providerID))
}

func (c *pricingResolverCache) SetEntries(modelID, providerID string, entries []pricingdomain.PricingEntry, ttl time.Duration) {
	if len(entries) == 0 {
		return
	}
	c.entries.Set(cacheKey(modelID, providerID), entries, ttl)
}

func (c *pricingResolverCache) GetMargins(tier string) ([]pricingdomain.TierMargin, bool) {
	return c.margins.Get(cacheKey(tier))
}

func (c *pricingResolverCache) SetMargins(tier string, margins []pricingdomain.TierMargin, ttl time.Duration) {
	if len(margins) == 0 {
		return
	}
	c.margins.Set(cacheKey(tier), margins, ttl)
}

func (c *pricingResolverCache) GetModelMeta(modelID string) (pricingdomain.ModelMeta, bool) {
	return c.metas.Get(cacheKey(modelID))
}

func (c *pricingResolverCache) SetModelMeta(modelID string, meta pricingdomain.ModelMeta, ttl time.Duration) {
	c.metas.Set(cacheKey(modelID), meta, ttl)
}

// InvalidateModel drops cached state for one model. Pricing entries are keyed
// by provider as well, so the whole entry cache is purged; entry lookups are
// cheap to re-warm.
func (c *pricingResolverCache) InvalidateModel(modelID string) {
	c.metas.Delete(cacheKey(modelID))
	c.entries.Purge()
}

// InvalidateAll drops every cached row, used after margin writes since a
// margin change can affect any tier.
func (c *pricingResolverCache) InvalidateAll() {
	c.entries.Purge()
	c.margins.Purge()
	c.metas.Purge()
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
