package kb

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// kbArticleRow is the gorm model backing the direct-database adapter,
// shaped after the teacher's wrap-a-connector-struct convention
// (callcontext.postgresStore holds a connector + logger; this holds a
// *gorm.DB directly since KB rows need no write path here).
type kbArticleRow struct {
	ID      string `gorm:"column:id;primaryKey"`
	Title   string `gorm:"column:title"`
	Snippet string `gorm:"column:snippet"`
	URL     string `gorm:"column:url"`
	Tags    string `gorm:"column:tags"` // comma-joined; no array type dependency needed for a LIKE-only adapter
}

func (kbArticleRow) TableName() string { return "kb_articles" }

// DirectDBAdapter searches KB articles with a LIKE query over
// title/snippet/tags, scoped to tenant.
type DirectDBAdapter struct {
	db *gorm.DB
}

func NewDirectDBAdapter(db *gorm.DB) *DirectDBAdapter {
	return &DirectDBAdapter{db: db}
}

func (a *DirectDBAdapter) Search(ctx context.Context, q Query) ([]model.KBArticle, error) {
	max := q.Max
	if max <= 0 {
		max = 3
	}
	like := "%" + q.Text + "%"

	var rows []kbArticleRow
	err := a.db.WithContext(ctx).
		Where("tenant_id = ? AND (title ILIKE ? OR snippet ILIKE ? OR tags ILIKE ?)", q.TenantID, like, like, like).
		Limit(max).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("kb directdb search: %w", err)
	}

	out := make([]model.KBArticle, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.KBArticle{
			ID:         r.ID,
			Title:      r.Title,
			Snippet:    r.Snippet,
			URL:        r.URL,
			Source:     "directdb",
			Confidence: 0.5,
		})
	}
	return out, nil
}
