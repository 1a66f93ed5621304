// Package supporters is the append-only pledge ledger.
package supporters

import (
	"context"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/services/storeerr"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/logging"
)

// Service records and lists pledges.
type Service struct {
	store storage.Store
	log   *logging.Logger
}

// New constructs a supporter service.
func New(store storage.Store, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("supporters")
	}
	return &Service{store: store, log: log}
}

// List returns the petition's supporters, newest first.
func (s *Service) List(ctx context.Context, petitionID int64) ([]petition.Supporter, error) {
	if _, err := s.store.GetPetition(ctx, petitionID); err != nil {
		return nil, storeerr.Translate(err, "petition", petitionID, "list supporters")
	}
	out, err := s.store.ListSupporters(ctx, petitionID)
	if err != nil {
		return nil, apperrors.Internal("list supporters failed", err)
	}
	return out, nil
}

// Pledge records userID's support for one tier of a petition. An empty
// message is stored as absent.
func (s *Service) Pledge(ctx context.Context, userID, petitionID int64, draft petition.PledgeDraft) (int64, error) {
	var id int64
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		p, err := tx.GetPetition(ctx, petitionID)
		if err != nil {
			return storeerr.Translate(err, "petition", petitionID, "load petition")
		}
		tier, err := tx.GetTier(ctx, draft.SupportTierID)
		if err != nil {
			return storeerr.Translate(err, "support tier", draft.SupportTierID, "load support tier")
		}
		if tier.PetitionID != petitionID {
			return apperrors.NotFound("support tier", draft.SupportTierID)
		}
		if p.OwnerID == userID {
			return apperrors.Forbidden("cannot support your own petition")
		}
		dup, err := tx.SupporterExists(ctx, userID, petitionID, draft.SupportTierID)
		if err != nil {
			return err
		}
		if dup {
			return apperrors.Conflict("already supporting this tier of the petition")
		}

		var message *string
		if draft.Message != nil && *draft.Message != "" {
			m := *draft.Message
			message = &m
		}
		id, err = tx.CreateSupporter(ctx, petition.Supporter{
			PetitionID:    petitionID,
			SupportTierID: draft.SupportTierID,
			UserID:        userID,
			Message:       message,
		})
		return err
	})
	if err != nil {
		return 0, storeerr.Translate(err, "supporter", userID, "create supporter")
	}
	s.log.WithField("petition_id", petitionID).
		WithField("support_tier_id", draft.SupportTierID).
		WithField("user_id", userID).
		Info("pledge recorded")
	return id, nil
}
