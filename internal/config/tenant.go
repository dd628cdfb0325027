package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ScopeType is one of the five merge levels, applied in this order
// (later overrides earlier): default, global, tenant, campaign, agent.
type ScopeType string

const (
	ScopeDefault  ScopeType = "default"
	ScopeGlobal   ScopeType = "global"
	ScopeTenant   ScopeType = "tenant"
	ScopeCampaign ScopeType = "campaign"
	ScopeAgent    ScopeType = "agent"
)

var scopeOrder = []ScopeType{ScopeDefault, ScopeGlobal, ScopeTenant, ScopeCampaign, ScopeAgent}

// TenantConfigRow is the gorm model backing the configs table. One row per
// (scope_type, scope_id) pair; scope_id is empty for default/global.
type TenantConfigRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ScopeType  string    `gorm:"column:scope_type;type:varchar(16);not null;index:idx_scope,unique"`
	ScopeID    string    `gorm:"column:scope_id;type:varchar(128);not null;default:'';index:idx_scope,unique"`
	ConfigJSON string    `gorm:"column:config_json;type:jsonb;not null;default:'{}'"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (TenantConfigRow) TableName() string { return "tenant_configs" }

// ScopeKey identifies which tenant/campaign/agent rows to fold together for
// one effective config.
type ScopeKey struct {
	TenantID   string
	CampaignID string
	AgentID    string
}

func (k ScopeKey) cacheKey() string {
	return k.TenantID + "|" + k.CampaignID + "|" + k.AgentID
}

func (k ScopeKey) scopeID(t ScopeType) string {
	switch t {
	case ScopeTenant:
		return k.TenantID
	case ScopeCampaign:
		return k.CampaignID
	case ScopeAgent:
		return k.AgentID
	default:
		return ""
	}
}

// TenantConfigStore loads and deep-merges configuration rows, caching the
// effective result per ScopeKey for a short TTL.
type TenantConfigStore struct {
	db  *gorm.DB
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     map[string]any
	expiresAt time.Time
}

// NewTenantConfigStore builds a store with the given cache TTL (spec: 5s).
func NewTenantConfigStore(db *gorm.DB, ttl time.Duration) *TenantConfigStore {
	return &TenantConfigStore{db: db, ttl: ttl, cache: make(map[string]cacheEntry)}
}

// Effective returns the deep-merged configuration for the given scope,
// folding default -> global -> tenant -> campaign -> agent, later scopes
// overriding earlier ones field-by-field (not wholesale replacement).
func (s *TenantConfigStore) Effective(ctx context.Context, key ScopeKey) (map[string]any, error) {
	ck := key.cacheKey()

	s.mu.Lock()
	if e, ok := s.cache[ck]; ok && time.Now().Before(e.expiresAt) {
		s.mu.Unlock()
		return e.value, nil
	}
	s.mu.Unlock()

	merged := map[string]any{}
	for _, scope := range scopeOrder {
		scopeID := key.scopeID(scope)
		if scope == ScopeTenant && scopeID == "" {
			continue
		}
		if scope == ScopeCampaign && scopeID == "" {
			continue
		}
		if scope == ScopeAgent && scopeID == "" {
			continue
		}

		var row TenantConfigRow
		err := s.db.WithContext(ctx).
			Where("scope_type = ? AND scope_id = ?", string(scope), scopeID).
			First(&row).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return nil, fmt.Errorf("load tenant config scope %s/%s: %w", scope, scopeID, err)
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(row.ConfigJSON), &parsed); err != nil {
			return nil, fmt.Errorf("parse tenant config scope %s/%s: %w", scope, scopeID, err)
		}
		merged = DeepMerge(merged, parsed)
	}

	s.mu.Lock()
	s.cache[ck] = cacheEntry{value: merged, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return merged, nil
}

// DeepMerge folds override onto base: for each key in override, if both
// base and override hold a nested map, the merge recurses; otherwise
// override's value replaces base's. Keys present only in base are kept
// untouched. Neither input is mutated.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, bIsMap := bv.(map[string]any)
		om, oIsMap := ov.(map[string]any)
		if bIsMap && oIsMap {
			out[k] = DeepMerge(bm, om)
		} else {
			out[k] = ov
		}
	}
	return out
}
