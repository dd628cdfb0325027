package kb

import (
	"context"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// NoopAdapter always returns an empty result; used when a tenant has no KB
// provider configured.
type NoopAdapter struct{}

func (NoopAdapter) Search(ctx context.Context, q Query) ([]model.KBArticle, error) {
	return nil, nil
}
