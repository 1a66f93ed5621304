package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a write would break a unique index.
	ErrDuplicate = errors.New("storage: duplicate")
)

// UserStore persists user accounts and their session token.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (int64, error)
	GetUser(ctx context.Context, id int64) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByToken(ctx context.Context, token string) (user.User, error)
	// EmailInUse ignores the user with id excludeID; pass 0 to check everyone.
	EmailInUse(ctx context.Context, email string, excludeID int64) (bool, error)
	UpdateUser(ctx context.Context, id int64, changes user.Changes) error
	// SetUserToken stores token; an empty token clears it.
	SetUserToken(ctx context.Context, id int64, token string) error
	// SetUserImage stores filename; an empty filename clears it.
	SetUserImage(ctx context.Context, id int64, filename string) error
}

// CategoryStore exposes reference categories.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]petition.Category, error)
	CategoryExists(ctx context.Context, id int64) (bool, error)
}

// PetitionStore persists petitions and answers search queries.
type PetitionStore interface {
	SearchPetitions(ctx context.Context, query petition.SearchQuery) (petition.Page, error)
	GetPetition(ctx context.Context, id int64) (petition.Petition, error)
	GetPetitionDetail(ctx context.Context, id int64) (petition.Detail, error)
	// PetitionTitleExists ignores the petition with id excludeID; pass 0 to check all.
	PetitionTitleExists(ctx context.Context, title string, excludeID int64) (bool, error)
	CreatePetition(ctx context.Context, p petition.Petition) (int64, error)
	UpdatePetition(ctx context.Context, id int64, changes petition.Changes) error
	// DeletePetition removes the petition and its support tiers.
	DeletePetition(ctx context.Context, id int64) error
	SetPetitionImage(ctx context.Context, id int64, filename string) error
}

// SupportTierStore persists support tiers. ListTiers returns creation order.
type SupportTierStore interface {
	ListTiers(ctx context.Context, petitionID int64) ([]petition.SupportTier, error)
	GetTier(ctx context.Context, id int64) (petition.SupportTier, error)
	CreateTier(ctx context.Context, tier petition.SupportTier) (int64, error)
	UpdateTier(ctx context.Context, id int64, changes petition.TierChanges) error
	DeleteTier(ctx context.Context, id int64) error
}

// SupporterStore is the append-only pledge ledger. ListSupporters returns
// newest first.
type SupporterStore interface {
	ListSupporters(ctx context.Context, petitionID int64) ([]petition.Supporter, error)
	SupporterExists(ctx context.Context, userID, petitionID, tierID int64) (bool, error)
	PetitionHasSupporters(ctx context.Context, petitionID int64) (bool, error)
	TierHasSupporters(ctx context.Context, tierID int64) (bool, error)
	CreateSupporter(ctx context.Context, s petition.Supporter) (int64, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	UserStore
	CategoryStore
	PetitionStore
	SupportTierStore
	SupporterStore
}

// Store is a transactional persistence backend. InTx runs fn atomically:
// either every write made through tx is committed or none is.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
