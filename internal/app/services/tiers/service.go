// Package tiers manages the support tiers of a petition after creation.
package tiers

import (
	"context"
	"strings"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/services/storeerr"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/logging"
)

// Service enforces tier count bounds, per-petition title uniqueness and the
// supporter guard on edits and deletes.
type Service struct {
	store storage.Store
	log   *logging.Logger
}

// New constructs a support tier service.
func New(store storage.Store, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("tiers")
	}
	return &Service{store: store, log: log}
}

// List returns the petition's tiers in creation order.
func (s *Service) List(ctx context.Context, petitionID int64) ([]petition.SupportTier, error) {
	if _, err := s.store.GetPetition(ctx, petitionID); err != nil {
		return nil, storeerr.Translate(err, "petition", petitionID, "list support tiers")
	}
	tiers, err := s.store.ListTiers(ctx, petitionID)
	if err != nil {
		return nil, apperrors.Internal("list support tiers failed", err)
	}
	return tiers, nil
}

// Create adds a tier while the petition has fewer than the maximum.
func (s *Service) Create(ctx context.Context, petitionID, callerID int64, draft petition.TierDraft) (int64, error) {
	if err := ValidateDraft(draft); err != nil {
		return 0, err
	}

	var id int64
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		p, err := tx.GetPetition(ctx, petitionID)
		if err != nil {
			return err
		}
		if err := auth.RequireOwner(callerID, p.OwnerID, "add support tiers"); err != nil {
			return err
		}
		existing, err := tx.ListTiers(ctx, petitionID)
		if err != nil {
			return err
		}
		if len(existing) >= petition.MaxTiers {
			return apperrors.Conflict("a petition can have at most 3 support tiers")
		}
		for _, t := range existing {
			if t.Title == draft.Title {
				return apperrors.Conflict("a support tier with this title already exists on the petition")
			}
		}
		id, err = tx.CreateTier(ctx, petition.SupportTier{
			PetitionID:  petitionID,
			Title:       draft.Title,
			Description: draft.Description,
			Cost:        *draft.Cost,
		})
		return err
	})
	if err != nil {
		return 0, storeerr.Translate(err, "petition", petitionID, "create support tier")
	}
	s.log.WithField("petition_id", petitionID).WithField("support_tier_id", id).Info("support tier created")
	return id, nil
}

// ValidateDraft checks a new tier's fields.
func ValidateDraft(d petition.TierDraft) error {
	var violations []string
	if strings.TrimSpace(d.Title) == "" {
		violations = append(violations, "title must not be empty")
	}
	if strings.TrimSpace(d.Description) == "" {
		violations = append(violations, "description must not be empty")
	}
	switch {
	case d.Cost == nil:
		violations = append(violations, "cost is required")
	case *d.Cost < 0:
		violations = append(violations, "cost must not be negative")
	}
	if len(violations) > 0 {
		return apperrors.ValidationFields(violations)
	}
	return nil
}

// loadOwned fetches the petition and tier, checking that the tier belongs
// to the petition and the caller owns it.
func loadOwned(ctx context.Context, tx storage.Tx, petitionID, tierID, callerID int64, action string) (petition.SupportTier, error) {
	p, err := tx.GetPetition(ctx, petitionID)
	if err != nil {
		return petition.SupportTier{}, storeerr.Translate(err, "petition", petitionID, "load petition")
	}
	tier, err := tx.GetTier(ctx, tierID)
	if err != nil {
		return petition.SupportTier{}, storeerr.Translate(err, "support tier", tierID, "load support tier")
	}
	if tier.PetitionID != petitionID {
		return petition.SupportTier{}, apperrors.NotFound("support tier", tierID)
	}
	if err := auth.RequireOwner(callerID, p.OwnerID, action); err != nil {
		return petition.SupportTier{}, err
	}
	return tier, nil
}

// Update edits a tier nobody has pledged to. Unsupplied fields keep their
// current values.
func (s *Service) Update(ctx context.Context, petitionID, tierID, callerID int64, changes petition.TierChanges) error {
	if err := ValidateChanges(changes); err != nil {
		return err
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := loadOwned(ctx, tx, petitionID, tierID, callerID, "edit support tiers"); err != nil {
			return err
		}
		supported, err := tx.TierHasSupporters(ctx, tierID)
		if err != nil {
			return err
		}
		if supported {
			return apperrors.Conflict("cannot edit a support tier with one or more supporters")
		}
		if changes.Title != nil {
			siblings, err := tx.ListTiers(ctx, petitionID)
			if err != nil {
				return err
			}
			for _, t := range siblings {
				if t.ID != tierID && t.Title == *changes.Title {
					return apperrors.Conflict("a support tier with this title already exists on the petition")
				}
			}
		}
		return tx.UpdateTier(ctx, tierID, changes)
	})
	if err != nil {
		return storeerr.Translate(err, "support tier", tierID, "update support tier")
	}
	s.log.WithField("support_tier_id", tierID).Info("support tier updated")
	return nil
}

// ValidateChanges checks the supplied fields of a tier edit.
func ValidateChanges(c petition.TierChanges) error {
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
	if c.Cost != nil && *c.Cost < 0 {
		violations = append(violations, "cost must not be negative")
	}
	if len(violations) > 0 {
		return apperrors.ValidationFields(violations)
	}
	return nil
}

// Delete removes a tier nobody has pledged to, as long as it is not the
// petition's last one.
func (s *Service) Delete(ctx context.Context, petitionID, tierID, callerID int64) error {
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := loadOwned(ctx, tx, petitionID, tierID, callerID, "delete support tiers"); err != nil {
			return err
		}
		supported, err := tx.TierHasSupporters(ctx, tierID)
		if err != nil {
			return err
		}
		if supported {
			return apperrors.Conflict("cannot delete a support tier with one or more supporters")
		}
		siblings, err := tx.ListTiers(ctx, petitionID)
		if err != nil {
			return err
		}
		if len(siblings) <= petition.MinTiers {
			return apperrors.Conflict("cannot delete the only support tier of a petition")
		}
		return tx.DeleteTier(ctx, tierID)
	})
	if err != nil {
		return storeerr.Translate(err, "support tier", tierID, "delete support tier")
	}
	s.log.WithField("support_tier_id", tierID).Info("support tier deleted")
	return nil
}
