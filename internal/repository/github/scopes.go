package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raakeshmj/licensegate/internal/db"
	"github.com/raakeshmj/licensegate/internal/repository"
)

// RawScopeSource fetches the token scope document from a plain URL on every
// call, typically a raw file in a private repository.
type RawScopeSource struct {
	url    string
	token  string
	client *http.Client
}

func NewRawScopeSource(url, token string, client *http.Client) *RawScopeSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RawScopeSource{url: url, token: token, client: client}
}

func (s *RawScopeSource) Scopes(ctx context.Context) (db.TokenScopes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch token scopes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch token scopes: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch token scopes: %w", err)
	}
	return repository.DecodeScopes(data)
}

var _ repository.ScopeSource = (*RawScopeSource)(nil)
