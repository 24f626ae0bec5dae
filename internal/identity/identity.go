// Package identity resolves a caller credential into a user id and role.
package identity

import (
	"context"
	"strings"

	"conversation-service/internal/models"
)

// Resolver turns a credential into an identity. Invalid or expired
// credentials fail with apperr.ErrUnauthenticated.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (models.Identity, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
