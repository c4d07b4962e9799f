package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raakeshmj/licensegate/internal/db"
)

// DocumentStore stores the accounts document as JSON under a single key.
type DocumentStore struct {
	blobs BlobStore
	key   string
}

func NewDocumentStore(blobs BlobStore, key string) *DocumentStore {
	return &DocumentStore{blobs: blobs, key: key}
}

// Read returns the current document and its version. A missing document is
// returned as empty with the empty version, so the first write creates it.
func (s *DocumentStore) Read(ctx context.Context) (db.Document, Version, error) {
	data, version, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return db.Document{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read accounts document: %w", err)
	}

	doc := db.Document{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
	}
	return doc, version, nil
}

func (s *DocumentStore) WriteIfVersion(ctx context.Context, doc db.Document, version Version) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts document: %w", err)
	}
	if _, err := s.blobs.PutIfVersion(ctx, s.key, data, version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("write accounts document: %w", err)
	}
	return nil
}

// Ping checks the underlying backend when it supports it.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if p, ok := s.blobs.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, _, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// BlobScopeSource reads the token scope document from a BlobStore key on every call.
type BlobScopeSource struct {
	blobs BlobStore
	key   string
}

func NewBlobScopeSource(blobs BlobStore, key string) *BlobScopeSource {
	return &BlobScopeSource{blobs: blobs, key: key}
}

func (s *BlobScopeSource) Scopes(ctx context.Context) (db.TokenScopes, error) {
	data, _, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return db.TokenScopes{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token scopes: %w", err)
	}
	return DecodeScopes(data)
}

// DecodeScopes parses a token scope document.
func DecodeScopes(data []byte) (db.TokenScopes, error) {
	scopes := db.TokenScopes{}
	if len(data) == 0 {
		return scopes, nil
	}
	if err := json.Unmarshal(data, &scopes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return scopes, nil
}

var (
	_ AccountStore = (*DocumentStore)(nil)
	_ ScopeSource  = (*BlobScopeSource)(nil)
)
