package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

func mustUser(t *testing.T, s *Store, email, first string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), user.User{Email: email, FirstName: first, LastName: "X", Password: "hash"})
	require.NoError(t, err)
	return id
}

func mustPetition(t *testing.T, s *Store, owner int64, title string, category int64, created time.Time, costs ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := s.InTx(ctx, func(tx storage.Tx) error {
		var err error
		id, err = tx.CreatePetition(ctx, petition.Petition{
			Title: title, Description: title + " description", CategoryID: category, OwnerID: owner, CreationDate: created,
		})
		if err != nil {
			return err
		}
		for i, cost := range costs {
			if _, err := tx.CreateTier(ctx, petition.SupportTier{
				PetitionID: id, Title: title + string(rune('A'+i)), Description: "tier", Cost: cost,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestOpenSeedsCategories(t *testing.T) {
	s := newStore(t)
	cats, err := s.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, petition.DefaultCategories(), cats)

	ok, err := s.CategoryExists(context.Background(), 12)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := mustUser(t, s, "Ann@Example.com", "Ann")

	_, err := s.CreateUser(ctx, user.User{Email: "Ann@Example.com", FirstName: "A", LastName: "B", Password: "p"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	inUse, err := s.EmailInUse(ctx, "ANN@example.com", 0)
	require.NoError(t, err)
	assert.True(t, inUse)
	inUse, err = s.EmailInUse(ctx, "ANN@example.com", id)
	require.NoError(t, err)
	assert.False(t, inUse)

	require.NoError(t, s.SetUserToken(ctx, id, "tok"))
	got, err = s.GetUserByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AuthToken)

	require.NoError(t, s.SetUserToken(ctx, id, ""))
	_, err = s.GetUserByToken(ctx, "tok")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.UpdateUser(ctx, id, user.Changes{LastName: ptr("Lee")}))
	got, err = s.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Lee", got.LastName)

	assert.ErrorIs(t, s.UpdateUser(ctx, 999, user.Changes{}), storage.ErrNotFound)
	assert.ErrorIs(t, s.SetUserImage(ctx, 999, "user_999.png"), storage.ErrNotFound)
}

func TestSearchFiltersSortsAndPages(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Olive")
	fan := mustUser(t, s, "fan@example.com", "Fan")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p1 := mustPetition(t, s, owner, "Clean River", 3, base, 20, 5)
	p2 := mustPetition(t, s, owner, "Art Wall", 5, base.Add(time.Hour), 50)
	p3 := mustPetition(t, s, fan, "Bike Lanes", 7, base.Add(2*time.Hour), 0)
	p4 := mustPetition(t, s, fan, "Zoo Fund", 3, base.Add(3*time.Hour), 11)

	tiers, err := s.ListTiers(ctx, p2)
	require.NoError(t, err)
	_, err = s.CreateSupporter(ctx, petition.Supporter{PetitionID: p2, SupportTierID: tiers[0].ID, UserID: fan})
	require.NoError(t, err)

	page, err := s.SearchPetitions(ctx, petition.DefaultSearchQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Count)
	assert.Equal(t, []int64{p1, p2, p3, p4}, ids(page))

	page, err = s.SearchPetitions(ctx, petition.SearchQuery{CategoryIDs: []int64{3}, SortBy: petition.SortCostAsc})
	require.NoError(t, err)
	assert.Equal(t, []int64{p1, p4}, ids(page))
	assert.Equal(t, int64(5), page.Petitions[0].SupportingCost)

	page, err = s.SearchPetitions(ctx, petition.SearchQuery{SupportingCost: ptr(int64(10)), SortBy: petition.SortAlphabeticalAsc})
	require.NoError(t, err)
	assert.Equal(t, []int64{p3, p1}, ids(page))

	page, err = s.SearchPetitions(ctx, petition.SearchQuery{Q: "RIVER"})
	require.NoError(t, err)
	assert.Equal(t, []int64{p1}, ids(page))

	page, err = s.SearchPetitions(ctx, petition.SearchQuery{SupporterID: &fan})
	require.NoError(t, err)
	require.Equal(t, []int64{p2}, ids(page))
	assert.Equal(t, int64(1), page.Petitions[0].NumberOfSupporters)
	assert.Equal(t, "Olive", page.Petitions[0].OwnerFirstName)

	page, err = s.SearchPetitions(ctx, petition.SearchQuery{SortBy: petition.SortCreatedDesc, StartIndex: 1, Count: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Count)
	assert.Equal(t, []int64{p3, p2}, ids(page))

	page, err = s.SearchPetitions(ctx, petition.SearchQuery{StartIndex: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{p4}, ids(page))
}

func ids(page petition.Page) []int64 {
	out := make([]int64, 0, len(page.Petitions))
	for _, p := range page.Petitions {
		out = append(out, p.ID)
	}
	return out
}

func TestDetailAndSupporters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Olive")
	fan := mustUser(t, s, "fan@example.com", "Fan")
	pid := mustPetition(t, s, owner, "Clean River", 3, time.Now().UTC(), 5, 20)

	tiers, err := s.ListTiers(ctx, pid)
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.CreateSupporter(ctx, petition.Supporter{PetitionID: pid, SupportTierID: tiers[0].ID, UserID: fan, Timestamp: at})
	require.NoError(t, err)
	_, err = s.CreateSupporter(ctx, petition.Supporter{PetitionID: pid, SupportTierID: tiers[1].ID, UserID: fan, Message: ptr("go"), Timestamp: at.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.CreateSupporter(ctx, petition.Supporter{PetitionID: pid, SupportTierID: tiers[1].ID, UserID: fan, Timestamp: at.Add(2 * time.Minute)})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	detail, err := s.GetPetitionDetail(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), detail.NumberOfSupporters)
	assert.Equal(t, int64(25), detail.MoneyRaised)
	assert.Equal(t, "Olive", detail.OwnerFirstName)

	supporters, err := s.ListSupporters(ctx, pid)
	require.NoError(t, err)
	require.Len(t, supporters, 2)
	assert.Equal(t, tiers[1].ID, supporters[0].SupportTierID)
	require.NotNil(t, supporters[0].Message)
	assert.Equal(t, "go", *supporters[0].Message)
	assert.Nil(t, supporters[1].Message)
	assert.Equal(t, "Fan", supporters[1].FirstName)
	assert.True(t, supporters[0].Timestamp.Equal(at.Add(time.Minute)))

	has, err := s.TierHasSupporters(ctx, tiers[0].ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestUniqueTitlesAndTiers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Olive")
	pid := mustPetition(t, s, owner, "Clean River", 3, time.Now().UTC(), 5)

	_, err := s.CreatePetition(ctx, petition.Petition{Title: "Clean River", Description: "d", CategoryID: 3, OwnerID: owner})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, err = s.CreatePetition(ctx, petition.Petition{Title: "Other", Description: "d", CategoryID: 99, OwnerID: owner})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.CreateTier(ctx, petition.SupportTier{PetitionID: pid, Title: "Clean RiverA", Description: "dup", Cost: 1})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	exists, err := s.PetitionTitleExists(ctx, "Clean River", pid)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInTxRollsBackAndDeleteCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Olive")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.CreatePetition(ctx, petition.Petition{Title: "Doomed", Description: "d", CategoryID: 1, OwnerID: owner}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	exists, err := s.PetitionTitleExists(ctx, "Doomed", 0)
	require.NoError(t, err)
	assert.False(t, exists)

	pid := mustPetition(t, s, owner, "Kept", 1, time.Now().UTC(), 1, 2)
	tiers, err := s.ListTiers(ctx, pid)
	require.NoError(t, err)

	require.NoError(t, s.DeletePetition(ctx, pid))
	_, err = s.GetTier(ctx, tiers[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeletePetition(ctx, pid), storage.ErrNotFound)
}
