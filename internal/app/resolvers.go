package app

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/exo-agent-assist/internal/config"
	"github.com/rapidaai/exo-agent-assist/internal/kb"
	"github.com/rapidaai/exo-agent-assist/internal/summary"
)

// kbResolver bridges internal/consumer.KBResolver to config.TenantConfigStore
// + kb.Select. A tenant's adapter choice rarely changes inside the 5s config
// cache window, so the built adapter is cached for the same TTL — a
// directdb/external adapter is cheap to build, but cheap beats rebuilt on
// every transcript line, and an expired entry means a tenant's provider
// switch takes effect on the same schedule as the rest of its config.
type kbResolver struct {
	tenants *config.TenantConfigStore
	db      *gorm.DB

	mu    sync.Mutex
	cache map[string]cachedKBAdapter
}

const kbAdapterCacheTTL = tenantCacheTTL

type cachedKBAdapter struct {
	adapter   kb.Adapter
	max       int
	expiresAt time.Time
}

// newKBResolver assumes tenants is non-nil; callers only construct a
// kbResolver when a tenant config store actually exists (see internal/app.New).
func newKBResolver(tenants *config.TenantConfigStore, db *gorm.DB) *kbResolver {
	return &kbResolver{tenants: tenants, db: db, cache: make(map[string]cachedKBAdapter)}
}

// AdapterFor satisfies internal/consumer.KBResolver.
func (r *kbResolver) AdapterFor(ctx context.Context, tenantID string) (kb.Adapter, int) {
	r.mu.Lock()
	if cached, ok := r.cache[tenantID]; ok && time.Now().Before(cached.expiresAt) {
		r.mu.Unlock()
		return cached.adapter, cached.max
	}
	r.mu.Unlock()

	effective, err := r.tenants.Effective(ctx, config.ScopeKey{TenantID: tenantID})
	if err != nil {
		return nil, 0
	}

	settings := kb.TenantSettings{Provider: "noop", MaxArticles: 3}
	if kbSection, ok := effective["kb"].(map[string]any); ok {
		if v, ok := kbSection["provider"].(string); ok {
			settings.Provider = v
		}
		if v, ok := kbSection["external_url"].(string); ok {
			settings.ExternalURL = v
		}
		if v, ok := kbSection["external_key"].(string); ok {
			settings.ExternalKey = v
		}
		if v, ok := kbSection["max_articles"].(float64); ok && v > 0 {
			settings.MaxArticles = int(v)
		}
	}

	adapter := kb.Select(settings, r.db)

	r.mu.Lock()
	r.cache[tenantID] = cachedKBAdapter{adapter: adapter, max: settings.MaxArticles, expiresAt: time.Now().Add(kbAdapterCacheTTL)}
	r.mu.Unlock()

	return adapter, settings.MaxArticles
}

// taxonomyResolver bridges internal/summary.TaxonomyResolver to the same
// tenant configuration store, reading a "dispositions" array of
// {code, title} pairs configured per tenant.
type taxonomyResolver struct {
	tenants *config.TenantConfigStore
}

func newTaxonomyResolver(tenants *config.TenantConfigStore) *taxonomyResolver {
	return &taxonomyResolver{tenants: tenants}
}

func (r *taxonomyResolver) Taxonomy(ctx context.Context, tenantID string) ([]summary.TaxonomyEntry, error) {
	effective, err := r.tenants.Effective(ctx, config.ScopeKey{TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	raw, ok := effective["dispositions"].([]any)
	if !ok {
		return nil, nil
	}

	entries := make([]summary.TaxonomyEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code, _ := m["code"].(string)
		title, _ := m["title"].(string)
		if code == "" {
			continue
		}
		entries = append(entries, summary.TaxonomyEntry{Code: code, Title: title})
	}
	return entries, nil
}
