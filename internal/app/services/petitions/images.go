package petitions

import (
	"context"
	"errors"

	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/services/storeerr"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

// Image returns the petition's hero image and its MIME type.
func (s *Service) Image(ctx context.Context, petitionID int64) ([]byte, string, error) {
	p, err := s.store.GetPetition(ctx, petitionID)
	if err != nil {
		return nil, "", storeerr.Translate(err, "petition", petitionID, "get petition")
	}
	if p.ImageFilename == "" || s.content == nil {
		return nil, "", apperrors.NotFound("petition image", petitionID)
	}
	data, mimeType, err := s.content.Read(ctx, p.ImageFilename)
	if errors.Is(err, content.ErrNotFound) {
		return nil, "", apperrors.NotFound("petition image", petitionID)
	}
	if err != nil {
		return nil, "", apperrors.Internal("read petition image failed", err)
	}
	return data, mimeType, nil
}

// SetImage stores the hero image. Only the owner may change it; created is
// false when an existing image was replaced.
func (s *Service) SetImage(ctx context.Context, petitionID, callerID int64, contentType string, data []byte) (created bool, err error) {
	ext, ok := content.ExtensionFor(contentType)
	if !ok {
		return false, apperrors.Validation("unsupported content type %q, expected image/png, image/jpeg or image/gif", contentType)
	}
	if len(data) == 0 {
		return false, apperrors.Validation("no image data in request body")
	}
	if s.content == nil {
		return false, apperrors.Internal("image storage not configured", nil)
	}

	p, err := s.store.GetPetition(ctx, petitionID)
	if err != nil {
		return false, storeerr.Translate(err, "petition", petitionID, "get petition")
	}
	if err := auth.RequireOwner(callerID, p.OwnerID, "change the hero image"); err != nil {
		return false, err
	}

	key := content.PetitionKey(petitionID, ext)
	err = content.Replace(ctx, s.content, p.ImageFilename, key, data, func() error {
		return storeerr.Translate(s.store.SetPetitionImage(ctx, petitionID, key), "petition", petitionID, "set petition image")
	})
	switch {
	case errors.Is(err, content.ErrStale):
		s.log.WithContext(ctx).WithError(err).Warn("failed to remove replaced petition image")
	case err != nil:
		return false, storeerr.Translate(err, "petition", petitionID, "write petition image")
	}
	s.log.WithField("petition_id", petitionID).WithField("key", key).Info("petition image stored")
	return p.ImageFilename == "", nil
}
