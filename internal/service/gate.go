package service

import (
	"context"
	"fmt"

	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/db"
	"github.com/raakeshmj/licensegate/internal/repository"
)

// PermissionGate checks API tokens against the token scope document.
// The document is fetched on every call so revocations apply immediately.
type PermissionGate struct {
	scopes repository.ScopeSource
}

func NewPermissionGate(scopes repository.ScopeSource) *PermissionGate {
	return &PermissionGate{scopes: scopes}
}

// Authorize returns the requested categories the token may access for op,
// in the caller's order and without duplicates.
func (g *PermissionGate) Authorize(ctx context.Context, token string, op db.Operation, categories []string) ([]string, error) {
	if token == "" {
		return nil, auth.ErrMissingToken
	}

	scopes, err := g.scopes.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token scopes: %w", err)
	}

	scope, ok := scopes[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}

	granted := make(map[string]struct{})
	for _, c := range scope.Categories(op) {
		granted[c] = struct{}{}
	}

	allowed := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := granted[c]; ok {
			allowed = append(allowed, c)
		}
	}

	if len(allowed) == 0 {
		return nil, auth.ErrNoPermission
	}
	return allowed, nil
}
