package auth

import (
	"context"
	"errors"

	"github.com/R3E-Network/petition_service/internal/app/storage"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

// Resolver maps an opaque credential to a user id.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (userID int64, ok bool, err error)
}

// TokenResolver accepts tokens that verify and are still the user's current
// session token, so logout revokes them immediately.
type TokenResolver struct {
	users storage.UserStore
	creds *Credentials
}

// NewTokenResolver checks tokens against creds and the users' stored sessions.
func NewTokenResolver(users storage.UserStore, creds *Credentials) *TokenResolver {
	return &TokenResolver{users: users, creds: creds}
}

// Resolve reports ok=false for malformed, expired or revoked tokens.
func (r *TokenResolver) Resolve(ctx context.Context, credential string) (int64, bool, error) {
	if credential == "" {
		return 0, false, nil
	}
	subject, err := r.creds.ParseToken(credential)
	if err != nil {
		return 0, false, nil
	}
	u, err := r.users.GetUserByToken(ctx, credential)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if u.ID != subject {
		return 0, false, nil
	}
	return u.ID, true, nil
}

// Gate turns credentials into caller ids. It holds no mutable state.
type Gate struct {
	resolver Resolver
}

// NewGate builds a Gate over resolver.
func NewGate(resolver Resolver) *Gate {
	return &Gate{resolver: resolver}
}

// Authenticate returns the caller id or Unauthenticated.
func (g *Gate) Authenticate(ctx context.Context, credential string) (int64, error) {
	if credential == "" {
		return 0, apperrors.Unauthenticated("missing credential")
	}
	id, ok, err := g.resolver.Resolve(ctx, credential)
	if err != nil {
		return 0, apperrors.Internal("resolve credential", err)
	}
	if !ok {
		return 0, apperrors.Unauthenticated("invalid or expired credential")
	}
	return id, nil
}

// RequireOwner denies callers other than ownerID.
func RequireOwner(callerID, ownerID int64, action string) error {
	if callerID != ownerID {
		return apperrors.Forbidden("only the owner can " + action)
	}
	return nil
}
