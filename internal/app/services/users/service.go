// Package users handles registration, sessions, profiles and profile images.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/services/storeerr"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/logging"
)

const maxNameLength = 64

// Service manages user accounts.
type Service struct {
	store   storage.Store
	creds   *auth.Credentials
	content content.Store
	log     *logging.Logger
}

// New constructs a user service.
func New(store storage.Store, creds *auth.Credentials, images content.Store, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("users")
	}
	return &Service{store: store, creds: creds, content: images, log: log}
}

// Register creates an account and returns its id.
func (s *Service) Register(ctx context.Context, reg user.Registration) (int64, error) {
	if err := ValidateRegistration(reg); err != nil {
		return 0, err
	}

	hash, err := s.creds.Hash(reg.Password)
	if err != nil {
		return 0, apperrors.Internal("hash password failed", err)
	}

	var id int64
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		taken, err := tx.EmailInUse(ctx, reg.Email, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict("email already in use")
		}
		id, err = tx.CreateUser(ctx, user.User{
			Email:     reg.Email,
			FirstName: reg.FirstName,
			LastName:  reg.LastName,
			Password:  hash,
		})
		return err
	})
	if err != nil {
		return 0, storeerr.Translate(err, "user", reg.Email, "register user")
	}
	s.log.WithField("user_id", id).Info("user registered")
	return id, nil
}

// ValidateRegistration checks the sign-up fields.
func ValidateRegistration(reg user.Registration) error {
	var violations []string
	violations = append(violations, nameViolations("firstName", reg.FirstName)...)
	violations = append(violations, nameViolations("lastName", reg.LastName)...)
	if !user.ValidEmail(reg.Email) {
		violations = append(violations, "email must be a valid address")
	}
	if utf8.RuneCountInString(reg.Password) < user.MinPasswordLength {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters", user.MinPasswordLength))
	}
	if len(violations) > 0 {
		return apperrors.ValidationFields(violations)
	}
	return nil
}

func nameViolations(field, value string) []string {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case n == 0:
		return []string{field + " must not be empty"}
	case n > maxNameLength:
		return []string{fmt.Sprintf("%s must be at most %d characters", field, maxNameLength)}
	}
	return nil
}

// Login checks the password and starts a new session, replacing any
// previous token.
func (s *Service) Login(ctx context.Context, email, password string) (user.Session, error) {
	if email == "" || password == "" {
		return user.Session{}, apperrors.Validation("email and password are required")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return user.Session{}, apperrors.Unauthenticated("incorrect email/password")
	}
	if err != nil {
		return user.Session{}, apperrors.Internal("load user failed", err)
	}
	if !s.creds.Verify(password, u.Password) {
		return user.Session{}, apperrors.Unauthenticated("incorrect email/password")
	}

	token, err := s.creds.MintToken(u.ID)
	if err != nil {
		return user.Session{}, apperrors.Internal("mint token failed", err)
	}
	if err := s.store.SetUserToken(ctx, u.ID, token); err != nil {
		return user.Session{}, storeerr.Translate(err, "user", u.ID, "store session")
	}
	s.log.WithField("user_id", u.ID).Info("user logged in")
	return user.Session{UserID: u.ID, Token: token}, nil
}

// Logout clears the caller's session token.
func (s *Service) Logout(ctx context.Context, callerID int64) error {
	if err := s.store.SetUserToken(ctx, callerID, ""); err != nil {
		return storeerr.Translate(err, "user", callerID, "logout")
	}
	s.log.WithField("user_id", callerID).Info("user logged out")
	return nil
}

// Profile returns the public view of userID. The email is included only
// when the caller is that user; callerID 0 is anonymous.
func (s *Service) Profile(ctx context.Context, userID, callerID int64) (user.Profile, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return user.Profile{}, storeerr.Translate(err, "user", userID, "get user")
	}
	p := user.Profile{FirstName: u.FirstName, LastName: u.LastName}
	if callerID != 0 && callerID == userID {
		p.Email = u.Email
	}
	return p, nil
}

// Update changes the caller's own profile. Changing the password requires
// the current one.
func (s *Service) Update(ctx context.Context, userID, callerID int64, changes user.Changes) error {
	if err := ValidateChanges(changes); err != nil {
		return err
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if callerID != userID {
			return apperrors.Forbidden("cannot edit another user's information")
		}
		if changes.Password != nil {
			if *changes.Password == *changes.CurrentPassword {
				return apperrors.Forbidden("new password must differ from the current password")
			}
			if !s.creds.Verify(*changes.CurrentPassword, u.Password) {
				return apperrors.Unauthenticated("invalid currentPassword")
			}
			hash, err := s.creds.Hash(*changes.Password)
			if err != nil {
				return apperrors.Internal("hash password failed", err)
			}
			changes.Password = &hash
		}
		if changes.Email != nil {
			taken, err := tx.EmailInUse(ctx, *changes.Email, userID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("email already in use")
			}
		}
		return tx.UpdateUser(ctx, userID, changes)
	})
	if err != nil {
		return storeerr.Translate(err, "user", userID, "update user")
	}
	s.log.WithField("user_id", userID).Info("user updated")
	return nil
}

// ValidateChanges checks a profile update before any lookup.
func ValidateChanges(c user.Changes) error {
	if c.Empty() {
		return apperrors.Validation("no fields to update")
	}
	var violations []string
	if c.FirstName != nil {
		violations = append(violations, nameViolations("firstName", *c.FirstName)...)
	}
	if c.LastName != nil {
		violations = append(violations, nameViolations("lastName", *c.LastName)...)
	}
	if c.Email != nil && !user.ValidEmail(*c.Email) {
		violations = append(violations, "email must be a valid address")
	}
	if c.Password != nil {
		if utf8.RuneCountInString(*c.Password) < user.MinPasswordLength {
			violations = append(violations, fmt.Sprintf("password must be at least %d characters", user.MinPasswordLength))
		}
		if c.CurrentPassword == nil || *c.CurrentPassword == "" {
			violations = append(violations, "currentPassword is required to change password")
		}
	}
	if len(violations) > 0 {
		return apperrors.ValidationFields(violations)
	}
	return nil
}
