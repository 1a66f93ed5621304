package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/storage"
)

// Store is an in-memory implementation of storage.Store. It is safe for
// concurrent use. A transaction holds the store lock for its whole duration
// and is rolled back from a snapshot when fn fails.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store seeded with the default categories.
func New(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.state.clock = s.now
	for _, c := range petition.DefaultCategories() {
		s.state.categories[c.ID] = c
	}
	return s
}

// InTx runs fn against a private view of the store. Writes become visible
// only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (id int64, err error) {
	err = s.write(func(st *state) error { id, err = st.CreateUser(ctx, u); return err })
	return id, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (u user.User, err error) {
	err = s.read(func(st *state) error { u, err = st.GetUser(ctx, id); return err })
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (u user.User, err error) {
	err = s.read(func(st *state) error { u, err = st.GetUserByEmail(ctx, email); return err })
	return u, err
}

func (s *Store) GetUserByToken(ctx context.Context, token string) (u user.User, err error) {
	err = s.read(func(st *state) error { u, err = st.GetUserByToken(ctx, token); return err })
	return u, err
}

func (s *Store) EmailInUse(ctx context.Context, email string, excludeID int64) (ok bool, err error) {
	err = s.read(func(st *state) error { ok, err = st.EmailInUse(ctx, email, excludeID); return err })
	return ok, err
}

func (s *Store) UpdateUser(ctx context.Context, id int64, changes user.Changes) error {
	return s.write(func(st *state) error { return st.UpdateUser(ctx, id, changes) })
}

func (s *Store) SetUserToken(ctx context.Context, id int64, token string) error {
	return s.write(func(st *state) error { return st.SetUserToken(ctx, id, token) })
}

func (s *Store) SetUserImage(ctx context.Context, id int64, filename string) error {
	return s.write(func(st *state) error { return st.SetUserImage(ctx, id, filename) })
}

// --- CategoryStore ----------------------------------------------------------

func (s *Store) ListCategories(ctx context.Context) (out []petition.Category, err error) {
	err = s.read(func(st *state) error { out, err = st.ListCategories(ctx); return err })
	return out, err
}

func (s *Store) CategoryExists(ctx context.Context, id int64) (ok bool, err error) {
	err = s.read(func(st *state) error { ok, err = st.CategoryExists(ctx, id); return err })
	return ok, err
}

// --- PetitionStore ----------------------------------------------------------

func (s *Store) SearchPetitions(ctx context.Context, query petition.SearchQuery) (page petition.Page, err error) {
	err = s.read(func(st *state) error { page, err = st.SearchPetitions(ctx, query); return err })
	return page, err
}

func (s *Store) GetPetition(ctx context.Context, id int64) (p petition.Petition, err error) {
	err = s.read(func(st *state) error { p, err = st.GetPetition(ctx, id); return err })
	return p, err
}

func (s *Store) GetPetitionDetail(ctx context.Context, id int64) (d petition.Detail, err error) {
	err = s.read(func(st *state) error { d, err = st.GetPetitionDetail(ctx, id); return err })
	return d, err
}

func (s *Store) PetitionTitleExists(ctx context.Context, title string, excludeID int64) (ok bool, err error) {
	err = s.read(func(st *state) error { ok, err = st.PetitionTitleExists(ctx, title, excludeID); return err })
	return ok, err
}

func (s *Store) CreatePetition(ctx context.Context, p petition.Petition) (id int64, err error) {
	err = s.write(func(st *state) error { id, err = st.CreatePetition(ctx, p); return err })
	return id, err
}

func (s *Store) UpdatePetition(ctx context.Context, id int64, changes petition.Changes) error {
	return s.write(func(st *state) error { return st.UpdatePetition(ctx, id, changes) })
}

func (s *Store) DeletePetition(ctx context.Context, id int64) error {
	return s.write(func(st *state) error { return st.DeletePetition(ctx, id) })
}

func (s *Store) SetPetitionImage(ctx context.Context, id int64, filename string) error {
	return s.write(func(st *state) error { return st.SetPetitionImage(ctx, id, filename) })
}

// --- SupportTierStore -------------------------------------------------------

func (s *Store) ListTiers(ctx context.Context, petitionID int64) (out []petition.SupportTier, err error) {
	err = s.read(func(st *state) error { out, err = st.ListTiers(ctx, petitionID); return err })
	return out, err
}

func (s *Store) GetTier(ctx context.Context, id int64) (t petition.SupportTier, err error) {
	err = s.read(func(st *state) error { t, err = st.GetTier(ctx, id); return err })
	return t, err
}

func (s *Store) CreateTier(ctx context.Context, tier petition.SupportTier) (id int64, err error) {
	err = s.write(func(st *state) error { id, err = st.CreateTier(ctx, tier); return err })
	return id, err
}

func (s *Store) UpdateTier(ctx context.Context, id int64, changes petition.TierChanges) error {
	return s.write(func(st *state) error { return st.UpdateTier(ctx, id, changes) })
}

func (s *Store) DeleteTier(ctx context.Context, id int64) error {
	return s.write(func(st *state) error { return st.DeleteTier(ctx, id) })
}

// --- SupporterStore ---------------------------------------------------------

func (s *Store) ListSupporters(ctx context.Context, petitionID int64) (out []petition.Supporter, err error) {
	err = s.read(func(st *state) error { out, err = st.ListSupporters(ctx, petitionID); return err })
	return out, err
}

func (s *Store) SupporterExists(ctx context.Context, userID, petitionID, tierID int64) (ok bool, err error) {
	err = s.read(func(st *state) error { ok, err = st.SupporterExists(ctx, userID, petitionID, tierID); return err })
	return ok, err
}

func (s *Store) PetitionHasSupporters(ctx context.Context, petitionID int64) (ok bool, err error) {
	err = s.read(func(st *state) error { ok, err = st.PetitionHasSupporters(ctx, petitionID); return err })
	return ok, err
}

func (s *Store) TierHasSupporters(ctx context.Context, tierID int64) (ok bool, err error) {
	err = s.read(func(st *state) error { ok, err = st.TierHasSupporters(ctx, tierID); return err })
	return ok, err
}

func (s *Store) CreateSupporter(ctx context.Context, sup petition.Supporter) (id int64, err error) {
	err = s.write(func(st *state) error { id, err = st.CreateSupporter(ctx, sup); return err })
	return id, err
}

// state holds the tables. Its methods assume the caller holds the store lock.
type state struct {
	clock    func() time.Time
	lastTime time.Time

	nextUserID      int64
	nextPetitionID  int64
	nextTierID      int64
	nextSupporterID int64

	users      map[int64]user.User
	categories map[int64]petition.Category
	petitions  map[int64]petition.Petition
	tiers      map[int64]petition.SupportTier
	supporters map[int64]petition.Supporter
}

var _ storage.Tx = (*state)(nil)

func newState() *state {
	return &state{
		clock:           time.Now,
		nextUserID:      1,
		nextPetitionID:  1,
		nextTierID:      1,
		nextSupporterID: 1,
		users:           make(map[int64]user.User),
		categories:      make(map[int64]petition.Category),
		petitions:       make(map[int64]petition.Petition),
		tiers:           make(map[int64]petition.SupportTier),
		supporters:      make(map[int64]petition.Supporter),
	}
}

func (st *state) clone() *state {
	out := *st
	out.users = cloneMap(st.users)
	out.categories = cloneMap(st.categories)
	out.petitions = cloneMap(st.petitions)
	out.tiers = cloneMap(st.tiers)
	out.supporters = cloneMap(st.supporters)
	return &out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// timestamp returns a strictly increasing UTC time.
func (st *state) timestamp() time.Time {
	now := st.clock().UTC()
	if !now.After(st.lastTime) {
		now = st.lastTime.Add(time.Microsecond)
	}
	st.lastTime = now
	return now
}

func (st *state) CreateUser(_ context.Context, u user.User) (int64, error) {
	for _, existing := range st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, fmt.Errorf("email %s: %w", u.Email, storage.ErrDuplicate)
		}
	}
	u.ID = st.nextUserID
	st.nextUserID++
	st.users[u.ID] = u
	return u.ID, nil
}

func (st *state) GetUser(_ context.Context, id int64) (user.User, error) {
	u, ok := st.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (st *state) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user with email %s: %w", email, storage.ErrNotFound)
}

func (st *state) GetUserByToken(_ context.Context, token string) (user.User, error) {
	if token != "" {
		for _, u := range st.users {
			if u.AuthToken == token {
				return u, nil
			}
		}
	}
	return user.User{}, fmt.Errorf("user with token: %w", storage.ErrNotFound)
}

func (st *state) EmailInUse(_ context.Context, email string, excludeID int64) (bool, error) {
	for id, u := range st.users {
		if id != excludeID && strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) UpdateUser(ctx context.Context, id int64, changes user.Changes) error {
	u, err := st.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if changes.Email != nil {
		if inUse, _ := st.EmailInUse(ctx, *changes.Email, id); inUse {
			return fmt.Errorf("email %s: %w", *changes.Email, storage.ErrDuplicate)
		}
		u.Email = *changes.Email
	}
	if changes.FirstName != nil {
		u.FirstName = *changes.FirstName
	}
	if changes.LastName != nil {
		u.LastName = *changes.LastName
	}
	if changes.Password != nil {
		u.Password = *changes.Password
	}
	st.users[id] = u
	return nil
}

func (st *state) SetUserToken(ctx context.Context, id int64, token string) error {
	u, err := st.GetUser(ctx, id)
	if err != nil {
		return err
	}
	u.AuthToken = token
	st.users[id] = u
	return nil
}

func (st *state) SetUserImage(ctx context.Context, id int64, filename string) error {
	u, err := st.GetUser(ctx, id)
	if err != nil {
		return err
	}
	u.ImageFilename = filename
	st.users[id] = u
	return nil
}

func (st *state) ListCategories(_ context.Context) ([]petition.Category, error) {
	out := make([]petition.Category, 0, len(st.categories))
	for _, c := range st.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) CategoryExists(_ context.Context, id int64) (bool, error) {
	_, ok := st.categories[id]
	return ok, nil
}

func (st *state) SearchPetitions(ctx context.Context, query petition.SearchQuery) (petition.Page, error) {
	query = query.Normalized()
	text := strings.ToLower(query.Q)
	categories := make(map[int64]bool, len(query.CategoryIDs))
	for _, id := range query.CategoryIDs {
		categories[id] = true
	}

	var matches []petition.Summary
	for _, p := range st.petitions {
		if text != "" && !strings.Contains(strings.ToLower(p.Title), text) && !strings.Contains(strings.ToLower(p.Description), text) {
			continue
		}
		if len(categories) > 0 && !categories[p.CategoryID] {
			continue
		}
		if query.OwnerID != nil && p.OwnerID != *query.OwnerID {
			continue
		}
		if query.SupportingCost != nil && !st.hasTierAtMost(p.ID, *query.SupportingCost) {
			continue
		}
		if query.SupporterID != nil && !st.hasPledgeFrom(p.ID, *query.SupporterID) {
			continue
		}
		matches = append(matches, st.summary(ctx, p))
	}

	sortSummaries(matches, query.SortBy)

	start, end := query.Window(len(matches))
	page := petition.Page{
		Petitions: append([]petition.Summary{}, matches[start:end]...),
		Count:     int64(len(matches)),
	}
	return page, nil
}

func (st *state) hasTierAtMost(petitionID, cost int64) bool {
	for _, t := range st.tiers {
		if t.PetitionID == petitionID && t.Cost <= cost {
			return true
		}
	}
	return false
}

func (st *state) hasPledgeFrom(petitionID, userID int64) bool {
	for _, s := range st.supporters {
		if s.PetitionID == petitionID && s.UserID == userID {
			return true
		}
	}
	return false
}

func (st *state) summary(_ context.Context, p petition.Petition) petition.Summary {
	owner := st.users[p.OwnerID]
	sum := petition.Summary{
		ID:             p.ID,
		Title:          p.Title,
		CategoryID:     p.CategoryID,
		OwnerID:        p.OwnerID,
		OwnerFirstName: owner.FirstName,
		OwnerLastName:  owner.LastName,
		CreationDate:   p.CreationDate,
	}
	first := true
	for _, t := range st.tiers {
		if t.PetitionID != p.ID {
			continue
		}
		if first || t.Cost < sum.SupportingCost {
			sum.SupportingCost = t.Cost
			first = false
		}
	}
	for _, s := range st.supporters {
		if s.PetitionID == p.ID {
			sum.NumberOfSupporters++
		}
	}
	return sum
}

func sortSummaries(rows []petition.Summary, by petition.SortBy) {
	desc := by.Descending()
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch by {
		case petition.SortAlphabeticalAsc, petition.SortAlphabeticalDesc:
			if a.Title != b.Title {
				return (a.Title < b.Title) != desc
			}
			return a.ID < b.ID
		case petition.SortCostAsc, petition.SortCostDesc:
			if a.SupportingCost != b.SupportingCost {
				return (a.SupportingCost < b.SupportingCost) != desc
			}
			return a.ID < b.ID
		case petition.SortCreatedDesc:
			if !a.CreationDate.Equal(b.CreationDate) {
				return a.CreationDate.After(b.CreationDate)
			}
			return a.ID > b.ID
		default:
			if !a.CreationDate.Equal(b.CreationDate) {
				return a.CreationDate.Before(b.CreationDate)
			}
			return a.ID < b.ID
		}
	})
}

func (st *state) GetPetition(_ context.Context, id int64) (petition.Petition, error) {
	p, ok := st.petitions[id]
	if !ok {
		return petition.Petition{}, fmt.Errorf("petition %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (st *state) GetPetitionDetail(ctx context.Context, id int64) (petition.Detail, error) {
	p, err := st.GetPetition(ctx, id)
	if err != nil {
		return petition.Detail{}, err
	}
	owner := st.users[p.OwnerID]
	tiers, _ := st.ListTiers(ctx, id)
	costs := make(map[int64]int64, len(tiers))
	for _, t := range tiers {
		costs[t.ID] = t.Cost
	}

	detail := petition.Detail{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		CategoryID:     p.CategoryID,
		OwnerID:        p.OwnerID,
		OwnerFirstName: owner.FirstName,
		OwnerLastName:  owner.LastName,
		CreationDate:   p.CreationDate,
		SupportTiers:   tiers,
	}
	for _, s := range st.supporters {
		if s.PetitionID != id {
			continue
		}
		detail.NumberOfSupporters++
		detail.MoneyRaised += costs[s.SupportTierID]
	}
	return detail, nil
}

func (st *state) PetitionTitleExists(_ context.Context, title string, excludeID int64) (bool, error) {
	for id, p := range st.petitions {
		if id != excludeID && p.Title == title {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) CreatePetition(ctx context.Context, p petition.Petition) (int64, error) {
	if exists, _ := st.PetitionTitleExists(ctx, p.Title, 0); exists {
		return 0, fmt.Errorf("petition title %q: %w", p.Title, storage.ErrDuplicate)
	}
	if _, ok := st.categories[p.CategoryID]; !ok {
		return 0, fmt.Errorf("category %d: %w", p.CategoryID, storage.ErrNotFound)
	}
	if _, ok := st.users[p.OwnerID]; !ok {
		return 0, fmt.Errorf("user %d: %w", p.OwnerID, storage.ErrNotFound)
	}
	p.ID = st.nextPetitionID
	st.nextPetitionID++
	if p.CreationDate.IsZero() {
		p.CreationDate = st.timestamp()
	}
	st.petitions[p.ID] = p
	return p.ID, nil
}

func (st *state) UpdatePetition(ctx context.Context, id int64, changes petition.Changes) error {
	p, err := st.GetPetition(ctx, id)
	if err != nil {
		return err
	}
	if changes.Title != nil {
		if exists, _ := st.PetitionTitleExists(ctx, *changes.Title, id); exists {
			return fmt.Errorf("petition title %q: %w", *changes.Title, storage.ErrDuplicate)
		}
	}
	if changes.CategoryID != nil {
		if _, ok := st.categories[*changes.CategoryID]; !ok {
			return fmt.Errorf("category %d: %w", *changes.CategoryID, storage.ErrNotFound)
		}
	}
	st.petitions[id] = changes.Apply(p)
	return nil
}

func (st *state) DeletePetition(ctx context.Context, id int64) error {
	if _, err := st.GetPetition(ctx, id); err != nil {
		return err
	}
	for tid, t := range st.tiers {
		if t.PetitionID == id {
			delete(st.tiers, tid)
		}
	}
	delete(st.petitions, id)
	return nil
}

func (st *state) SetPetitionImage(ctx context.Context, id int64, filename string) error {
	p, err := st.GetPetition(ctx, id)
	if err != nil {
		return err
	}
	p.ImageFilename = filename
	st.petitions[id] = p
	return nil
}

func (st *state) ListTiers(_ context.Context, petitionID int64) ([]petition.SupportTier, error) {
	out := make([]petition.SupportTier, 0, petition.MaxTiers)
	for _, t := range st.tiers {
		if t.PetitionID == petitionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) GetTier(_ context.Context, id int64) (petition.SupportTier, error) {
	t, ok := st.tiers[id]
	if !ok {
		return petition.SupportTier{}, fmt.Errorf("support tier %d: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (st *state) tierTitleTaken(petitionID int64, title string, excludeID int64) bool {
	for id, t := range st.tiers {
		if id != excludeID && t.PetitionID == petitionID && t.Title == title {
			return true
		}
	}
	return false
}

func (st *state) CreateTier(_ context.Context, tier petition.SupportTier) (int64, error) {
	if _, ok := st.petitions[tier.PetitionID]; !ok {
		return 0, fmt.Errorf("petition %d: %w", tier.PetitionID, storage.ErrNotFound)
	}
	if st.tierTitleTaken(tier.PetitionID, tier.Title, 0) {
		return 0, fmt.Errorf("support tier title %q: %w", tier.Title, storage.ErrDuplicate)
	}
	tier.ID = st.nextTierID
	st.nextTierID++
	st.tiers[tier.ID] = tier
	return tier.ID, nil
}

func (st *state) UpdateTier(ctx context.Context, id int64, changes petition.TierChanges) error {
	t, err := st.GetTier(ctx, id)
	if err != nil {
		return err
	}
	if changes.Title != nil && st.tierTitleTaken(t.PetitionID, *changes.Title, id) {
		return fmt.Errorf("support tier title %q: %w", *changes.Title, storage.ErrDuplicate)
	}
	st.tiers[id] = changes.Apply(t)
	return nil
}

func (st *state) DeleteTier(ctx context.Context, id int64) error {
	if _, err := st.GetTier(ctx, id); err != nil {
		return err
	}
	delete(st.tiers, id)
	return nil
}

func (st *state) ListSupporters(_ context.Context, petitionID int64) ([]petition.Supporter, error) {
	out := make([]petition.Supporter, 0)
	for _, s := range st.supporters {
		if s.PetitionID != petitionID {
			continue
		}
		u := st.users[s.UserID]
		s.FirstName = u.FirstName
		s.LastName = u.LastName
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (st *state) SupporterExists(_ context.Context, userID, petitionID, tierID int64) (bool, error) {
	for _, s := range st.supporters {
		if s.UserID == userID && s.PetitionID == petitionID && s.SupportTierID == tierID {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) PetitionHasSupporters(_ context.Context, petitionID int64) (bool, error) {
	for _, s := range st.supporters {
		if s.PetitionID == petitionID {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) TierHasSupporters(_ context.Context, tierID int64) (bool, error) {
	for _, s := range st.supporters {
		if s.SupportTierID == tierID {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) CreateSupporter(ctx context.Context, s petition.Supporter) (int64, error) {
	if exists, _ := st.SupporterExists(ctx, s.UserID, s.PetitionID, s.SupportTierID); exists {
		return 0, fmt.Errorf("pledge by user %d on tier %d: %w", s.UserID, s.SupportTierID, storage.ErrDuplicate)
	}
	if _, ok := st.tiers[s.SupportTierID]; !ok {
		return 0, fmt.Errorf("support tier %d: %w", s.SupportTierID, storage.ErrNotFound)
	}
	s.ID = st.nextSupporterID
	st.nextSupporterID++
	if s.Timestamp.IsZero() {
		s.Timestamp = st.timestamp()
	}
	if s.Message != nil {
		msg := *s.Message
		s.Message = &msg
	}
	s.FirstName, s.LastName = "", ""
	st.supporters[s.ID] = s
	return s.ID, nil
}
