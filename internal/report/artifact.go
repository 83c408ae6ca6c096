package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/storage"
)

// Publisher uploads the rendered report so clients can fetch it directly.
type Publisher struct {
	bucket storage.Bucket
}

func NewPublisher(b storage.Bucket) *Publisher {
	return &Publisher{bucket: b}
}

type artifact struct {
	ID            string          `json:"id"`
	ChartID       string          `json:"chart_id"`
	Title         string          `json:"title"`
	Body          json.RawMessage `json:"body"`
	Markdown      string          `json:"markdown"`
	PromptVersion string          `json:"prompt_version"`
	CreatedAt     string          `json:"created_at"`
}

// ArtifactPath is the object key for a report.
func ArtifactPath(r *models.Report) string {
	return fmt.Sprintf("%s/%s.json", r.ChartID, r.ID)
}

// Publish uploads r and returns its URL.
func (p *Publisher) Publish(ctx context.Context, r *models.Report, body Body) (string, error) {
	data, err := json.Marshal(artifact{
		ID:            r.ID.String(),
		ChartID:       r.ChartID.String(),
		Title:         r.Title,
		Body:          r.Body,
		Markdown:      body.Markdown(),
		PromptVersion: r.PromptVersion,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	url, err := p.bucket.Put(ctx, ArtifactPath(r), data, "application/json")
	if err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	return url, nil
}
