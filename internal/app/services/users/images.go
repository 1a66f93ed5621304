package users

import (
	"context"
	"errors"

	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/services/storeerr"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

// Image returns the user's profile image and its MIME type.
func (s *Service) Image(ctx context.Context, userID int64) ([]byte, string, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, "", storeerr.Translate(err, "user", userID, "get user")
	}
	if u.ImageFilename == "" {
		return nil, "", apperrors.NotFound("user image", userID)
	}
	data, mimeType, err := s.content.Read(ctx, u.ImageFilename)
	if errors.Is(err, content.ErrNotFound) {
		return nil, "", apperrors.NotFound("user image", userID)
	}
	if err != nil {
		return nil, "", apperrors.Internal("read user image failed", err)
	}
	return data, mimeType, nil
}

// SetImage stores a new profile image for the caller. created is false when
// an existing image was replaced.
func (s *Service) SetImage(ctx context.Context, userID, callerID int64, contentType string, data []byte) (created bool, err error) {
	ext, ok := content.ExtensionFor(contentType)
	if !ok {
		return false, apperrors.Validation("unsupported content type %q, expected image/png, image/jpeg or image/gif", contentType)
	}
	if len(data) == 0 {
		return false, apperrors.Validation("no image data in request body")
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false, storeerr.Translate(err, "user", userID, "get user")
	}
	if callerID != userID {
		return false, apperrors.Forbidden("cannot change another user's image")
	}

	key := content.UserKey(userID, ext)
	err = content.Replace(ctx, s.content, u.ImageFilename, key, data, func() error {
		return storeerr.Translate(s.store.SetUserImage(ctx, userID, key), "user", userID, "set user image")
	})
	switch {
	case errors.Is(err, content.ErrStale):
		s.log.WithContext(ctx).WithError(err).Warn("failed to remove replaced user image")
	case err != nil:
		return false, storeerr.Translate(err, "user", userID, "write user image")
	}
	s.log.WithField("user_id", userID).WithField("key", key).Info("user image stored")
	return u.ImageFilename == "", nil
}

// DeleteImage removes the caller's profile image.
func (s *Service) DeleteImage(ctx context.Context, userID, callerID int64) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return storeerr.Translate(err, "user", userID, "get user")
	}
	if callerID != userID {
		return apperrors.Forbidden("cannot delete another user's image")
	}
	if u.ImageFilename == "" {
		return apperrors.NotFound("user image", userID)
	}
	if err := s.store.SetUserImage(ctx, userID, ""); err != nil {
		return storeerr.Translate(err, "user", userID, "clear user image")
	}
	if err := s.content.Delete(ctx, u.ImageFilename); err != nil && !errors.Is(err, content.ErrNotFound) {
		s.log.WithContext(ctx).WithError(err).WithField("key", u.ImageFilename).Warn("failed to remove user image")
	}
	s.log.WithField("user_id", userID).Info("user image deleted")
	return nil
}
