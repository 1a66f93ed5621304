package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

func newCreds(t *testing.T) *Credentials {
	t.Helper()
	c, err := NewCredentials("test-secret", time.Hour, 4)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	return c
}

func TestHashAndVerify(t *testing.T) {
	c := newCreds(t)
	hash, err := c.Hash("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("hash must not equal the password")
	}
	if !c.Verify("hunter22", hash) {
		t.Fatal("expected password to verify")
	}
	if c.Verify("hunter23", hash) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestMintTokenIsUniqueAndParses(t *testing.T) {
	c := newCreds(t)
	a, err := c.MintToken(7)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	b, _ := c.MintToken(7)
	if a == b {
		t.Fatal("tokens for the same user must differ")
	}
	id, err := c.ParseToken(a)
	if err != nil || id != 7 {
		t.Fatalf("parse: id=%d err=%v", id, err)
	}

	other, _ := NewCredentials("other-secret", time.Hour, 4)
	if _, err := other.ParseToken(a); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestParseTokenRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	c := newCreds(t)
	c.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := c.MintToken(1)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	c.now = time.Now
	if _, err := c.ParseToken(expired); err == nil {
		t.Fatal("expected expired token to fail")
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.ParseToken(unsigned); err == nil {
		t.Fatal("expected alg=none to be rejected")
	}
}

func TestGateResolvesOnlyCurrentSessionToken(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := newCreds(t)
	gate := NewGate(NewTokenResolver(store, c))

	id, err := store.CreateUser(ctx, user.User{Email: "a@b.co", FirstName: "A", LastName: "B", Password: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _ := c.MintToken(id)

	if _, err := gate.Authenticate(ctx, ""); !apperrors.IsUnauthenticated(err) {
		t.Fatalf("empty credential: expected unauthenticated, got %v", err)
	}
	// minted but never stored: not a live session
	if _, err := gate.Authenticate(ctx, token); !apperrors.IsUnauthenticated(err) {
		t.Fatalf("unstored token: expected unauthenticated, got %v", err)
	}

	if err := store.SetUserToken(ctx, id, token); err != nil {
		t.Fatalf("set token: %v", err)
	}
	got, err := gate.Authenticate(ctx, token)
	if err != nil || got != id {
		t.Fatalf("authenticate: id=%d err=%v", got, err)
	}

	if err := store.SetUserToken(ctx, id, ""); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	if _, err := gate.Authenticate(ctx, token); !apperrors.IsUnauthenticated(err) {
		t.Fatalf("after logout: expected unauthenticated, got %v", err)
	}
}

func TestRequireOwner(t *testing.T) {
	if err := RequireOwner(3, 3, "edit"); err != nil {
		t.Fatalf("owner denied: %v", err)
	}
	err := RequireOwner(4, 3, "edit this petition")
	if !apperrors.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if svcErr := apperrors.GetServiceError(err); svcErr.Message != "only the owner can edit this petition" {
		t.Fatalf("unexpected message %q", svcErr.Message)
	}
}
