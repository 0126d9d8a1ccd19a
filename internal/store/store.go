// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/procurelabs/spachat/internal/domain"
)

// Repository defines the interface for persisting local client state:
// the device identity, cached gateway tokens, and the last file-manifest
// snapshot. Conversation history is deliberately not persisted.
type Repository interface {
	// GetIdentity retrieves the stored device identity, or nil if none
	// has been created yet.
	GetIdentity(ctx context.Context) (*domain.Identity, error)

	// SaveIdentity stores the device identity. At most one identity row
	// exists; saving again replaces it.
	SaveIdentity(ctx context.Context, id *domain.Identity) error

	// GetCredential retrieves a cached token by key, or nil if absent.
	GetCredential(ctx context.Context, key string) (*domain.Credential, error)

	// PutCredential creates or replaces a cached token.
	PutCredential(ctx context.Context, cred *domain.Credential) error

	// SaveManifest replaces the cached file-manifest snapshot wholesale.
	SaveManifest(ctx context.Context, files []domain.FileEntry) error

	// GetManifest retrieves the cached manifest and the time it was
	// fetched. An empty manifest with a zero time means no snapshot has
	// been cached.
	GetManifest(ctx context.Context) ([]domain.FileEntry, time.Time, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
