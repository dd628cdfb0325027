package kb

import "gorm.io/gorm"

// TenantSettings is the slice of per-tenant config this package cares
// about, resolved by the caller from config.TenantConfigStore.Effective.
type TenantSettings struct {
	Provider    string // "directdb" | "external" | "noop"
	ExternalURL string
	ExternalKey string
	MaxArticles int
}

// Select returns the Adapter for a tenant's configured provider.
func Select(settings TenantSettings, db *gorm.DB) Adapter {
	switch settings.Provider {
	case "directdb":
		return NewDirectDBAdapter(db)
	case "external":
		return NewExternalAdapter(settings.ExternalURL, settings.ExternalKey)
	default:
		return NoopAdapter{}
	}
}
