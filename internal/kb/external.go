package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// ExternalAdapter queries an external KB service over HTTPS with a bearer
// token, per the external interfaces section's "external-service" shape.
type ExternalAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewExternalAdapter(baseURL, bearerToken string) *ExternalAdapter {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetAuthToken(bearerToken)
	return &ExternalAdapter{client: client, baseURL: baseURL}
}

type externalSearchResponse struct {
	Articles []model.KBArticle `json:"articles"`
}

func (a *ExternalAdapter) Search(ctx context.Context, q Query) ([]model.KBArticle, error) {
	max := q.Max
	if max <= 0 {
		max = 3
	}

	var body externalSearchResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":     q.Text,
			"tenant_id": q.TenantID,
			"max":       fmt.Sprintf("%d", max),
			"context":   q.Context,
		}).
		SetResult(&body).
		Get(a.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("kb external search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("kb external search: status %d", resp.StatusCode())
	}

	for i := range body.Articles {
		body.Articles[i].Source = "external"
	}
	return body.Articles, nil
}
