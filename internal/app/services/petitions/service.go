// Package petitions enforces the petition rules: unique titles, existing
// categories, 1 to 3 tiers created atomically and owner-only mutation.
package petitions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/services/storeerr"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/logging"
)

// Service manages petitions and the tiers created with them.
type Service struct {
	store   storage.Store
	content content.Store
	log     *logging.Logger
}

// New constructs a petition service. images may be nil, in which case hero
// images are left in place when a petition is deleted.
func New(store storage.Store, images content.Store, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("petitions")
	}
	return &Service{store: store, content: images, log: log}
}

// Search returns one page of petition summaries plus the filtered total.
func (s *Service) Search(ctx context.Context, query petition.SearchQuery) (petition.Page, error) {
	if err := query.Validate(); err != nil {
		return petition.Page{}, err
	}
	page, err := s.store.SearchPetitions(ctx, query)
	if err != nil {
		return petition.Page{}, apperrors.Internal("search petitions failed", err)
	}
	return page, nil
}

// Get returns the petition with owner name, tiers and support aggregates.
func (s *Service) Get(ctx context.Context, petitionID int64) (petition.Detail, error) {
	detail, err := s.store.GetPetitionDetail(ctx, petitionID)
	if err != nil {
		return petition.Detail{}, storeerr.Translate(err, "petition", petitionID, "get petition")
	}
	return detail, nil
}

// Categories lists the reference categories.
func (s *Service) Categories(ctx context.Context) ([]petition.Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, apperrors.Internal("list categories failed", err)
	}
	return cats, nil
}

// Create writes the petition and all of its tiers in one transaction.
func (s *Service) Create(ctx context.Context, ownerID int64, draft petition.Draft) (int64, error) {
	if err := ValidateDraft(draft); err != nil {
		return 0, err
	}

	var id int64
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		ok, err := tx.CategoryExists(ctx, draft.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NotFound("category", draft.CategoryID)
		}
		taken, err := tx.PetitionTitleExists(ctx, draft.Title, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict("a petition with this title already exists")
		}

		id, err = tx.CreatePetition(ctx, petition.Petition{
			Title:       draft.Title,
			Description: draft.Description,
			CategoryID:  draft.CategoryID,
			OwnerID:     ownerID,
		})
		if err != nil {
			return err
		}
		for _, t := range draft.Tiers {
			if _, err := tx.CreateTier(ctx, petition.SupportTier{
				PetitionID:  id,
				Title:       t.Title,
				Description: t.Description,
				Cost:        *t.Cost,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeerr.Translate(err, "petition", draft.Title, "create petition")
	}
	s.log.WithField("petition_id", id).WithField("owner_id", ownerID).Info("petition created")
	return id, nil
}

// ValidateDraft checks a petition draft without touching the store.
func ValidateDraft(d petition.Draft) error {
	var violations []string
	if strings.TrimSpace(d.Title) == "" {
		violations = append(violations, "title must not be empty")
	}
	if strings.TrimSpace(d.Description) == "" {
		violations = append(violations, "description must not be empty")
	}
	if n := len(d.Tiers); n < petition.MinTiers || n > petition.MaxTiers {
		violations = append(violations, fmt.Sprintf("supportTiers must contain %d to %d entries", petition.MinTiers, petition.MaxTiers))
	}
	seen := make(map[string]bool, len(d.Tiers))
	for i, t := range d.Tiers {
		if strings.TrimSpace(t.Title) == "" {
			violations = append(violations, fmt.Sprintf("supportTiers[%d].title must not be empty", i))
		}
		if strings.TrimSpace(t.Description) == "" {
			violations = append(violations, fmt.Sprintf("supportTiers[%d].description must not be empty", i))
		}
		switch {
		case t.Cost == nil:
			violations = append(violations, fmt.Sprintf("supportTiers[%d].cost is required", i))
		case *t.Cost < 0:
			violations = append(violations, fmt.Sprintf("supportTiers[%d].cost must not be negative", i))
		}
		if seen[t.Title] {
			violations = append(violations, fmt.Sprintf("supportTiers[%d].title duplicates another tier", i))
		}
		seen[t.Title] = true
	}
	if len(violations) > 0 {
		return apperrors.ValidationFields(violations)
	}
	return nil
}

// Update applies the supplied fields. A petition may keep its own title.
func (s *Service) Update(ctx context.Context, petitionID, callerID int64, changes petition.Changes) error {
	if err := ValidateChanges(changes); err != nil {
		return err
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetPetition(ctx, petitionID)
		if err != nil {
			return err
		}
		if err := auth.RequireOwner(callerID, current.OwnerID, "edit this petition"); err != nil {
			return err
		}
		if changes.CategoryID != nil {
			ok, err := tx.CategoryExists(ctx, *changes.CategoryID)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.NotFound("category", *changes.CategoryID)
			}
		}
		if changes.Title != nil {
			taken, err := tx.PetitionTitleExists(ctx, *changes.Title, petitionID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("a petition with this title already exists")
			}
		}
		return tx.UpdatePetition(ctx, petitionID, changes)
	})
	if err != nil {
		return storeerr.Translate(err, "petition", petitionID, "update petition")
	}
	s.log.WithField("petition_id", petitionID).Info("petition updated")
	return nil
}

// ValidateChanges rejects empty updates and blank fields.
func ValidateChanges(c petition.Changes) error {
	if c.Empty() {
		return apperrors.Validation("no fields to update")
	}
	var violations []string
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		violations = append(violations, "title must not be empty")
	}
	if c.Description != nil && strings.TrimSpace(*c.Description) == "" {
		violations = append(violations, "description must not be empty")
	}
	if len(violations) > 0 {
		return apperrors.ValidationFields(violations)
	}
	return nil
}

// Delete removes a petition without supporters. Its tiers go with it and the
// hero image is removed afterwards on a best-effort basis.
func (s *Service) Delete(ctx context.Context, petitionID, callerID int64) error {
	var image string
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetPetition(ctx, petitionID)
		if err != nil {
			return err
		}
		if err := auth.RequireOwner(callerID, current.OwnerID, "delete this petition"); err != nil {
			return err
		}
		supported, err := tx.PetitionHasSupporters(ctx, petitionID)
		if err != nil {
			return err
		}
		if supported {
			return apperrors.Conflict("cannot delete a petition with one or more supporters")
		}
		image = current.ImageFilename
		return tx.DeletePetition(ctx, petitionID)
	})
	if err != nil {
		return storeerr.Translate(err, "petition", petitionID, "delete petition")
	}
	s.log.WithField("petition_id", petitionID).Info("petition deleted")

	if image != "" && s.content != nil {
		if err := s.content.Delete(ctx, image); err != nil && !errors.Is(err, content.ErrNotFound) {
			s.log.WithContext(ctx).WithError(err).WithField("key", image).Warn("failed to remove petition image")
		}
	}
	return nil
}
