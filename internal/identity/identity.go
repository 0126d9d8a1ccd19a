// Package identity provides the device identity and bearer-token primitives.
// The token provider is the only contact point with the identity service:
// the client treats tokens as opaque strings refreshed before each send.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/procurelabs/spachat/internal/domain"
	"github.com/procurelabs/spachat/internal/store"
)

// TokenProvider supplies a bearer token on demand.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token for development and tests.
type Static string

// Token returns the static token.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// GetOrCreateUserID returns the stable anonymous device identity, creating
// and persisting one on first use.
func GetOrCreateUserID(ctx context.Context, repo store.Repository) (string, error) {
	id, err := repo.GetIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}
	if id != nil {
		return id.UserID, nil
	}

	userID := "user-" + uuid.NewString()
	if err := repo.SaveIdentity(ctx, &domain.Identity{
		UserID:    userID,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("save identity: %w", err)
	}
	return userID, nil
}
