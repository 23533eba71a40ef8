package auth

import (
	"context"
	"testing"
)

func TestGetClaims_Success(t *testing.T) {
	claims := &Claims{Email: "ana@example.com"}
	claims.Subject = "user-123"

	ctx := WithClaims(context.Background(), claims, "raw-token")

	got, ok := GetClaims(ctx)
	if !ok {
		t.Fatal("expected claims to be found")
	}
	if got.Subject != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", got.Subject)
	}
	token, ok := GetToken(ctx)
	if !ok || token != "raw-token" {
		t.Errorf("expected token 'raw-token', got %q", token)
	}
}

func TestGetClaims_NotFound(t *testing.T) {
	if _, ok := GetClaims(context.Background()); ok {
		t.Error("expected claims to not be found")
	}
	if _, ok := GetToken(context.Background()); ok {
		t.Error("expected token to not be found")
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-a-claims-struct")
	if _, ok := GetClaims(ctx); ok {
		t.Error("expected claims to not be found when wrong type")
	}

	ctx = context.WithValue(context.Background(), TokenKey, 12345)
	if _, ok := GetToken(ctx); ok {
		t.Error("expected token to not be found when wrong type")
	}
}
