package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("object storage not configured")

// Bucket stores rendered report artifacts.
type Bucket interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// SupabaseBucket talks to the Supabase storage REST API for one bucket.
type SupabaseBucket struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

func NewSupabaseBucket(supabaseURL, serviceKey, bucket string) *SupabaseBucket {
	return &SupabaseBucket{
		baseURL:    strings.TrimRight(supabaseURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

// Put uploads data, overwriting any existing object, and returns its
// public URL.
func (s *SupabaseBucket) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if s.serviceKey == "" {
		return "", ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if err := s.do(req); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

func (s *SupabaseBucket) PublicURL(path string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, s.bucket, escapePath(path))
}

func (s *SupabaseBucket) objectURL(path string) string {
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, escapePath(path))
}

func (s *SupabaseBucket) do(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
