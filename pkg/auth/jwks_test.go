package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// createTestToken creates an unsigned JWT for development mode.
func createTestToken(claims *Claims) string {
	headerJSON, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "."
}

func newDevClient(t *testing.T, audience string) *JWKSClient {
	t.Helper()
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{Audience: audience})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestJWKSClient_ValidateToken_DevMode(t *testing.T) {
	client := newDevClient(t, "")

	token := createTestToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-456",
			Issuer:    "https://login.example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:            "ana@example.com",
		Roles:            []string{"reporting"},
		Scope:            "https://database.windows.net/.default",
		AzureAccessToken: "aad-token",
		AzureTokenExpiry: 1700000000,
	})

	claims, err := client.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "user-456" {
		t.Errorf("Subject mismatch: got %q", claims.Subject)
	}
	if claims.Email != "ana@example.com" {
		t.Errorf("Email mismatch: got %q", claims.Email)
	}
	if claims.AzureAccessToken != "aad-token" || claims.AzureTokenExpiry != 1700000000 {
		t.Errorf("Azure token claims mismatch: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "reporting" {
		t.Errorf("Roles mismatch: got %v", claims.Roles)
	}
}

func TestJWKSClient_ValidateToken_Malformed(t *testing.T) {
	client := newDevClient(t, "")

	for _, token := range []string{"", "not-a-jwt", "a.b.c", "!!!.@@@."} {
		if _, err := client.ValidateToken(token); err == nil {
			t.Errorf("expected error for token %q", token)
		}
	}
}

func TestJWKSClient_ValidateToken_Audience(t *testing.T) {
	client := newDevClient(t, "query-gateway")

	tests := []struct {
		name     string
		audience jwt.ClaimStrings
		wantErr  bool
	}{
		{"matching", jwt.ClaimStrings{"query-gateway"}, false},
		{"one of many", jwt.ClaimStrings{"other", "query-gateway"}, false},
		{"wrong", jwt.ClaimStrings{"other"}, true},
		{"missing", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := createTestToken(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Audience: tt.audience}})
			_, err := client.ValidateToken(token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAudience) {
					t.Errorf("expected ErrInvalidAudience, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestJWKSClient_VerifiedRejectsUnsignedToken(t *testing.T) {
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: true})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	defer client.Close()

	token := createTestToken(&Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "user-1",
		Issuer:  "https://login.example.com",
	}})

	_, err = client.ValidateToken(token)
	if err == nil {
		t.Fatal("expected unsigned token to be rejected when verification is enabled")
	}
	if !strings.Contains(err.Error(), "token validation failed") {
		t.Errorf("unexpected error: %v", err)
	}
}
