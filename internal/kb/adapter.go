// Package kb implements the narrow KB adapter interface named in the
// external interfaces section: Search(query, {tenant_id, max, context?}) →
// [KBArticle]. Implementations: direct-database, external-service, no-op.
// Adapter selection is driven by per-tenant configuration.
package kb

import (
	"context"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// Query parametrizes a Search call.
type Query struct {
	Text     string
	TenantID string
	Max      int
	Context  string
}

// Adapter is the interface every KB backend implements. Errors are the
// caller's (consumer's) concern to degrade on — an adapter error must
// become an empty result, never propagate as a failure that blocks
// transcript delivery.
type Adapter interface {
	Search(ctx context.Context, q Query) ([]model.KBArticle, error)
}
