package tiers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	"github.com/R3E-Network/petition_service/internal/app/storage/memory"
	"github.com/R3E-Network/petition_service/internal/app/storage/sqlite"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/logging"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	owner    int64
	stranger int64
	petition int64
	tiers    []int64
}

func newFixture(t *testing.T, costs ...int64) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f := fixture{svc: New(store, logging.NewDiscard()), store: store}

	var err error
	if f.owner, err = store.CreateUser(ctx, user.User{Email: "owner@example.com", FirstName: "O", LastName: "W"}); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if f.stranger, err = store.CreateUser(ctx, user.User{Email: "s@example.com", FirstName: "S", LastName: "T"}); err != nil {
		t.Fatalf("create stranger: %v", err)
	}
	if f.petition, err = store.CreatePetition(ctx, petition.Petition{Title: "P", Description: "D", CategoryID: 1, OwnerID: f.owner}); err != nil {
		t.Fatalf("create petition: %v", err)
	}
	for i, c := range costs {
		id, err := store.CreateTier(ctx, petition.SupportTier{PetitionID: f.petition, Title: string(rune('A' + i)), Description: "d", Cost: c})
		if err != nil {
			t.Fatalf("create tier: %v", err)
		}
		f.tiers = append(f.tiers, id)
	}
	return f
}

func (f fixture) pledge(t *testing.T, tierID int64) {
	t.Helper()
	if _, err := f.store.CreateSupporter(context.Background(), petition.Supporter{PetitionID: f.petition, SupportTierID: tierID, UserID: f.stranger}); err != nil {
		t.Fatalf("create supporter: %v", err)
	}
}

func cost(v int64) *int64 { return &v }

func str(v string) *string { return &v }

func TestCreateRespectsMaximum(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()

	id, err := f.svc.Create(ctx, f.petition, f.owner, petition.TierDraft{Title: "C", Description: "c", Cost: cost(3)})
	if err != nil {
		t.Fatalf("create third tier: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.petition, f.owner, petition.TierDraft{Title: "D", Description: "d", Cost: cost(4)}); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict for fourth tier, got %v", err)
	}

	tiers, err := f.svc.List(ctx, f.petition)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tiers) != 3 || tiers[2].ID != id {
		t.Fatalf("expected new tier last, got %+v", tiers)
	}
}

// createConcurrently races n tier creations on a petition that starts with
// one tier and returns how many succeeded.
func createConcurrently(t *testing.T, store storage.Store, n int) int {
	t.Helper()
	ctx := context.Background()
	var owner, petitionID int64
	err := store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		if owner, err = tx.CreateUser(ctx, user.User{Email: "racer@example.com", FirstName: "R", LastName: "C"}); err != nil {
			return err
		}
		if petitionID, err = tx.CreatePetition(ctx, petition.Petition{Title: "Race", Description: "D", CategoryID: 1, OwnerID: owner}); err != nil {
			return err
		}
		_, err = tx.CreateTier(ctx, petition.SupportTier{PetitionID: petitionID, Title: "first", Description: "d", Cost: 1})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := New(store, logging.NewDiscard())
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(ctx, petitionID, owner, petition.TierDraft{Title: fmt.Sprintf("tier %d", i), Description: "d", Cost: cost(int64(i))})
			if err != nil && !apperrors.IsConflict(err) {
				t.Errorf("create %d: %v", i, err)
				return
			}
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	tiers, err := svc.List(ctx, petitionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tiers) != petition.MaxTiers {
		t.Fatalf("tiers after %d concurrent creates = %d, want %d", n, len(tiers), petition.MaxTiers)
	}
	return created
}

func TestConcurrentCreateRespectsMaximum(t *testing.T) {
	if created := createConcurrently(t, memory.New(), 20); created != petition.MaxTiers-1 {
		t.Fatalf("created = %d, want %d", created, petition.MaxTiers-1)
	}
}

func TestConcurrentCreateRespectsMaximumSQLite(t *testing.T) {
	store, err := sqlite.Open(sqlite.MemoryDSN)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if created := createConcurrently(t, store, 20); created != petition.MaxTiers-1 {
		t.Fatalf("created = %d, want %d", created, petition.MaxTiers-1)
	}
}

func TestCreateChecks(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	tests := []struct {
		name     string
		petition int64
		caller   int64
		draft    petition.TierDraft
		check    func(error) bool
	}{
		{"missing cost", f.petition, f.owner, petition.TierDraft{Title: "X", Description: "x"}, apperrors.IsValidation},
		{"negative cost", f.petition, f.owner, petition.TierDraft{Title: "X", Description: "x", Cost: cost(-5)}, apperrors.IsValidation},
		{"unknown petition", 999, f.owner, petition.TierDraft{Title: "X", Description: "x", Cost: cost(1)}, apperrors.IsNotFound},
		{"not owner", f.petition, f.stranger, petition.TierDraft{Title: "X", Description: "x", Cost: cost(1)}, apperrors.IsForbidden},
		{"duplicate title", f.petition, f.owner, petition.TierDraft{Title: "A", Description: "x", Cost: cost(1)}, apperrors.IsConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, tc.petition, tc.caller, tc.draft); !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestUpdateKeepsUnsuppliedFields(t *testing.T) {
	f := newFixture(t, 10, 20)
	ctx := context.Background()

	if err := f.svc.Update(ctx, f.petition, f.tiers[0], f.owner, petition.TierChanges{Cost: cost(0)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	tier, err := f.store.GetTier(ctx, f.tiers[0])
	if err != nil {
		t.Fatalf("get tier: %v", err)
	}
	if tier.Cost != 0 || tier.Title != "A" || tier.Description != "d" {
		t.Fatalf("unexpected tier after update: %+v", tier)
	}

	if err := f.svc.Update(ctx, f.petition, f.tiers[0], f.owner, petition.TierChanges{Title: str("B")}); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict for sibling title, got %v", err)
	}
	if err := f.svc.Update(ctx, f.petition, f.tiers[0], f.owner, petition.TierChanges{Title: str("A")}); err != nil {
		t.Fatalf("keeping own title should succeed: %v", err)
	}
	if err := f.svc.Update(ctx, f.petition, f.tiers[0], f.owner, petition.TierChanges{}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation for empty change set, got %v", err)
	}
	if err := f.svc.Update(ctx, f.petition, f.tiers[0], f.stranger, petition.TierChanges{Cost: cost(1)}); !apperrors.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestTierMustBelongToPetition(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()

	if err := f.svc.Update(ctx, f.petition, 999, f.owner, petition.TierChanges{Cost: cost(1)}); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	second, err := f.store.CreatePetition(ctx, petition.Petition{Title: "Q", Description: "D", CategoryID: 1, OwnerID: f.owner})
	if err != nil {
		t.Fatalf("create petition: %v", err)
	}
	if err := f.svc.Delete(ctx, second, f.tiers[0], f.owner); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found for tier of another petition, got %v", err)
	}
}

func TestSupportedTierIsFrozen(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()
	f.pledge(t, f.tiers[0])

	if err := f.svc.Update(ctx, f.petition, f.tiers[0], f.owner, petition.TierChanges{Cost: cost(9)}); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict on edit, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.petition, f.tiers[0], f.owner); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict on delete, got %v", err)
	}
	if err := f.svc.Update(ctx, f.petition, f.tiers[1], f.owner, petition.TierChanges{Cost: cost(9)}); err != nil {
		t.Fatalf("unsupported tier should be editable: %v", err)
	}
}

func TestDeleteKeepsLastTier(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()

	if err := f.svc.Delete(ctx, f.petition, f.tiers[1], f.owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.Delete(ctx, f.petition, f.tiers[0], f.owner); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict for last tier, got %v", err)
	}
	tiers, err := f.svc.List(ctx, f.petition)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tiers) != 1 || tiers[0].ID != f.tiers[0] {
		t.Fatalf("expected only the first tier to remain, got %+v", tiers)
	}
}

func TestListUnknownPetition(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.svc.List(context.Background(), 42); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
