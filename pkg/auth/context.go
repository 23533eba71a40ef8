package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// RequireUserIDFromContext extracts the user ID from context and returns an error if not found.
func RequireUserIDFromContext(ctx context.Context) (string, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetAzureAccessToken returns the caller's Azure AD token if present and not expired.
func GetAzureAccessToken(ctx context.Context) (string, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.AzureAccessToken == "" {
		return "", false
	}
	if claims.AzureTokenExpiry > 0 && time.Now().Unix() >= claims.AzureTokenExpiry {
		return "", false
	}
	return claims.AzureAccessToken, true
}

// IdentityFromContext returns the caller a backend connection is opened for.
// Anonymous requests yield the zero Identity, which uses the shared pool.
func IdentityFromContext(ctx context.Context) datasource.Identity {
	token, _ := GetAzureAccessToken(ctx)
	return datasource.Identity{
		UserID:      GetUserIDFromContext(ctx),
		AccessToken: token,
	}
}
