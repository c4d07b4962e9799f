package repository

import (
	"context"
	"errors"

	"github.com/raakeshmj/licensegate/internal/db"
)

var (
	ErrVersionConflict   = errors.New("version conflict")
	ErrNotFound          = errors.New("document not found")
	ErrMalformedDocument = errors.New("malformed document")
)

// Version is the opaque token a store returns with a read and requires on a
// conditional write. The empty version means "the document does not exist yet".
type Version string

// BlobStore is a key -> bytes store with optimistic concurrency.
// PutIfVersion succeeds only if version is still current for key; otherwise
// it returns ErrVersionConflict.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, Version, error)
	PutIfVersion(ctx context.Context, key string, data []byte, version Version) (Version, error)
}

// AccountStore holds the whole accounts document behind a version guard.
type AccountStore interface {
	Read(ctx context.Context) (db.Document, Version, error)
	WriteIfVersion(ctx context.Context, doc db.Document, version Version) error
}

// ScopeSource returns the token -> scope document. Implementations must not cache.
type ScopeSource interface {
	Scopes(ctx context.Context) (db.TokenScopes, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
