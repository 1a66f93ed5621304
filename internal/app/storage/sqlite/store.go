package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	"github.com/R3E-Network/petition_service/internal/app/storage/sqlbuild"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Store implements storage.Store on an embedded SQLite database through gorm.
// A single connection serialises every statement, so transactions need no
// retry loop.
type Store struct {
	conn
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at dsn, migrates the schema and seeds
// the category list.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	for _, model := range migrateModels {
		if err := db.AutoMigrate(model); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	if err := seedCategories(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{conn: conn{db: db}}, nil
}

func seedCategories(db *gorm.DB) error {
	var count int64
	if err := db.Model(&categoryModel{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	rows := make([]categoryModel, 0, len(petition.DefaultCategories()))
	for _, c := range petition.DefaultCategories() {
		rows = append(rows, categoryModel{ID: c.ID, Name: c.Name})
	}
	return db.Create(&rows).Error
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn inside a gorm transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(conn{db: tx})
	})
}

type conn struct {
	db *gorm.DB
}

var _ storage.Tx = conn{}

func (c conn) with(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

// --- UserStore --------------------------------------------------------------

func (c conn) CreateUser(ctx context.Context, u user.User) (int64, error) {
	row := userModel{Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Password: u.Password}
	if err := c.with(ctx).Create(&row).Error; err != nil {
		return 0, mapError(err, "create user")
	}
	return row.ID, nil
}

func (c conn) firstUser(ctx context.Context, query string, arg any) (user.User, error) {
	var row userModel
	if err := c.with(ctx).Where(query, arg).First(&row).Error; err != nil {
		return user.User{}, mapError(err, "get user")
	}
	return row.toDomain(), nil
}

func (c conn) GetUser(ctx context.Context, id int64) (user.User, error) {
	return c.firstUser(ctx, "id = ?", id)
}

func (c conn) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return c.firstUser(ctx, "LOWER(email) = LOWER(?)", email)
}

func (c conn) GetUserByToken(ctx context.Context, token string) (user.User, error) {
	if token == "" {
		return user.User{}, fmt.Errorf("user with token: %w", storage.ErrNotFound)
	}
	return c.firstUser(ctx, "auth_token = ?", token)
}

func (c conn) EmailInUse(ctx context.Context, email string, excludeID int64) (bool, error) {
	return c.exists(ctx, &userModel{}, "LOWER(email) = LOWER(?) AND id <> ?", email, excludeID)
}

func (c conn) UpdateUser(ctx context.Context, id int64, changes user.Changes) error {
	return c.update(ctx, &userModel{}, id, sqlbuild.UserAssignments(changes))
}

func (c conn) SetUserToken(ctx context.Context, id int64, token string) error {
	return c.setColumn(ctx, &userModel{}, id, "auth_token", nullable(token))
}

func (c conn) SetUserImage(ctx context.Context, id int64, filename string) error {
	return c.setColumn(ctx, &userModel{}, id, "image_filename", nullable(filename))
}

// --- CategoryStore ----------------------------------------------------------

func (c conn) ListCategories(ctx context.Context) ([]petition.Category, error) {
	var rows []categoryModel
	if err := c.with(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]petition.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, petition.Category{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (c conn) CategoryExists(ctx context.Context, id int64) (bool, error) {
	return c.exists(ctx, &categoryModel{}, "id = ?", id)
}

// --- PetitionStore ----------------------------------------------------------

type summaryRow struct {
	PetitionID         int64
	Title              string
	CategoryID         int64
	OwnerID            int64
	OwnerFirstName     string
	OwnerLastName      string
	NumberOfSupporters int64
	SupportingCost     int64
	CreationDate       time.Time
}

func (c conn) SearchPetitions(ctx context.Context, query petition.SearchQuery) (petition.Page, error) {
	query = query.Normalized()

	base := c.with(ctx).Table("petition p").Joins("JOIN users u ON u.id = p.owner_id")
	for _, pred := range sqlbuild.SearchFilter(query).Predicates() {
		base = base.Where("("+pred.SQL+")", pred.Args...)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Distinct("p.id").Count(&total).Error; err != nil {
		return petition.Page{}, err
	}

	list := base.Session(&gorm.Session{}).
		Select(sqlbuild.SummaryColumns).
		Order(sqlbuild.OrderBy(query.SortBy))
	if query.Count != nil {
		list = list.Limit(*query.Count)
	}
	if query.StartIndex > 0 {
		if query.Count == nil {
			list = list.Limit(-1)
		}
		list = list.Offset(query.StartIndex)
	}

	var rows []summaryRow
	if err := list.Scan(&rows).Error; err != nil {
		return petition.Page{}, err
	}

	page := petition.Page{Petitions: make([]petition.Summary, 0, len(rows)), Count: total}
	for _, r := range rows {
		page.Petitions = append(page.Petitions, petition.Summary{
			ID:                 r.PetitionID,
			Title:              r.Title,
			CategoryID:         r.CategoryID,
			OwnerID:            r.OwnerID,
			OwnerFirstName:     r.OwnerFirstName,
			OwnerLastName:      r.OwnerLastName,
			NumberOfSupporters: r.NumberOfSupporters,
			SupportingCost:     r.SupportingCost,
			CreationDate:       r.CreationDate.UTC(),
		})
	}
	return page, nil
}

func (c conn) GetPetition(ctx context.Context, id int64) (petition.Petition, error) {
	var row petitionModel
	if err := c.with(ctx).First(&row, id).Error; err != nil {
		return petition.Petition{}, mapError(err, fmt.Sprintf("petition %d", id))
	}
	return row.toDomain(), nil
}

func (c conn) GetPetitionDetail(ctx context.Context, id int64) (petition.Detail, error) {
	p, err := c.GetPetition(ctx, id)
	if err != nil {
		return petition.Detail{}, err
	}
	owner, err := c.GetUser(ctx, p.OwnerID)
	if err != nil {
		return petition.Detail{}, err
	}
	tiers, err := c.ListTiers(ctx, id)
	if err != nil {
		return petition.Detail{}, err
	}

	var agg struct {
		NumberOfSupporters int64
		MoneyRaised        int64
	}
	err = c.with(ctx).Raw(`
		SELECT COUNT(s.id) AS number_of_supporters, COALESCE(SUM(t.cost), 0) AS money_raised
		FROM supporter s
		JOIN support_tier t ON t.id = s.support_tier_id
		WHERE s.petition_id = ?
	`, id).Scan(&agg).Error
	if err != nil {
		return petition.Detail{}, err
	}

	return petition.Detail{
		ID:                 p.ID,
		Title:              p.Title,
		Description:        p.Description,
		CategoryID:         p.CategoryID,
		OwnerID:            p.OwnerID,
		OwnerFirstName:     owner.FirstName,
		OwnerLastName:      owner.LastName,
		NumberOfSupporters: agg.NumberOfSupporters,
		MoneyRaised:        agg.MoneyRaised,
		CreationDate:       p.CreationDate,
		SupportTiers:       tiers,
	}, nil
}

func (c conn) PetitionTitleExists(ctx context.Context, title string, excludeID int64) (bool, error) {
	return c.exists(ctx, &petitionModel{}, "title = ? AND id <> ?", title, excludeID)
}

func (c conn) CreatePetition(ctx context.Context, p petition.Petition) (int64, error) {
	// no foreign keys on this backend, check the references by hand
	if ok, err := c.CategoryExists(ctx, p.CategoryID); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("category %d: %w", p.CategoryID, storage.ErrNotFound)
	}
	if ok, err := c.exists(ctx, &userModel{}, "id = ?", p.OwnerID); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("user %d: %w", p.OwnerID, storage.ErrNotFound)
	}

	if p.CreationDate.IsZero() {
		p.CreationDate = time.Now().UTC()
	}
	row := petitionModel{
		Title:        p.Title,
		Description:  p.Description,
		CategoryID:   p.CategoryID,
		OwnerID:      p.OwnerID,
		CreationDate: p.CreationDate.UTC(),
	}
	if err := c.with(ctx).Create(&row).Error; err != nil {
		return 0, mapError(err, "create petition")
	}
	return row.ID, nil
}

func (c conn) UpdatePetition(ctx context.Context, id int64, changes petition.Changes) error {
	return c.update(ctx, &petitionModel{}, id, sqlbuild.PetitionAssignments(changes))
}

func (c conn) DeletePetition(ctx context.Context, id int64) error {
	if err := c.with(ctx).Where("petition_id = ?", id).Delete(&tierModel{}).Error; err != nil {
		return err
	}
	result := c.with(ctx).Delete(&petitionModel{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("petition %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (c conn) SetPetitionImage(ctx context.Context, id int64, filename string) error {
	return c.setColumn(ctx, &petitionModel{}, id, "image_filename", nullable(filename))
}

// --- SupportTierStore -------------------------------------------------------

func (c conn) ListTiers(ctx context.Context, petitionID int64) ([]petition.SupportTier, error) {
	var rows []tierModel
	if err := c.with(ctx).Where("petition_id = ?", petitionID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]petition.SupportTier, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (c conn) GetTier(ctx context.Context, id int64) (petition.SupportTier, error) {
	var row tierModel
	if err := c.with(ctx).First(&row, id).Error; err != nil {
		return petition.SupportTier{}, mapError(err, fmt.Sprintf("support tier %d", id))
	}
	return row.toDomain(), nil
}

func (c conn) CreateTier(ctx context.Context, tier petition.SupportTier) (int64, error) {
	if ok, err := c.exists(ctx, &petitionModel{}, "id = ?", tier.PetitionID); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("petition %d: %w", tier.PetitionID, storage.ErrNotFound)
	}
	row := tierModel{PetitionID: tier.PetitionID, Title: tier.Title, Description: tier.Description, Cost: tier.Cost}
	if err := c.with(ctx).Create(&row).Error; err != nil {
		return 0, mapError(err, "create support tier")
	}
	return row.ID, nil
}

func (c conn) UpdateTier(ctx context.Context, id int64, changes petition.TierChanges) error {
	return c.update(ctx, &tierModel{}, id, sqlbuild.TierAssignments(changes))
}

func (c conn) DeleteTier(ctx context.Context, id int64) error {
	result := c.with(ctx).Delete(&tierModel{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("support tier %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- SupporterStore ---------------------------------------------------------

type supporterRow struct {
	ID            int64
	PetitionID    int64
	SupportTierID int64
	UserID        int64
	Message       *string
	Timestamp     time.Time
	FirstName     string
	LastName      string
}

func (c conn) ListSupporters(ctx context.Context, petitionID int64) ([]petition.Supporter, error) {
	var rows []supporterRow
	err := c.with(ctx).Table("supporter s").
		Select(`s.id, s.petition_id, s.support_tier_id, s.user_id, s.message, s."timestamp", u.first_name, u.last_name`).
		Joins("JOIN users u ON u.id = s.user_id").
		Where("s.petition_id = ?", petitionID).
		Order(`s."timestamp" DESC, s.id DESC`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]petition.Supporter, 0, len(rows))
	for _, r := range rows {
		out = append(out, petition.Supporter{
			ID:            r.ID,
			PetitionID:    r.PetitionID,
			SupportTierID: r.SupportTierID,
			UserID:        r.UserID,
			Message:       r.Message,
			FirstName:     r.FirstName,
			LastName:      r.LastName,
			Timestamp:     r.Timestamp.UTC(),
		})
	}
	return out, nil
}

func (c conn) SupporterExists(ctx context.Context, userID, petitionID, tierID int64) (bool, error) {
	return c.exists(ctx, &supporterModel{}, "user_id = ? AND petition_id = ? AND support_tier_id = ?", userID, petitionID, tierID)
}

func (c conn) PetitionHasSupporters(ctx context.Context, petitionID int64) (bool, error) {
	return c.exists(ctx, &supporterModel{}, "petition_id = ?", petitionID)
}

func (c conn) TierHasSupporters(ctx context.Context, tierID int64) (bool, error) {
	return c.exists(ctx, &supporterModel{}, "support_tier_id = ?", tierID)
}

func (c conn) CreateSupporter(ctx context.Context, s petition.Supporter) (int64, error) {
	if ok, err := c.exists(ctx, &tierModel{}, "id = ? AND petition_id = ?", s.SupportTierID, s.PetitionID); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("support tier %d: %w", s.SupportTierID, storage.ErrNotFound)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	row := supporterModel{
		PetitionID:    s.PetitionID,
		SupportTierID: s.SupportTierID,
		UserID:        s.UserID,
		Timestamp:     s.Timestamp.UTC(),
	}
	if s.Message != nil {
		msg := *s.Message
		row.Message = &msg
	}
	if err := c.with(ctx).Create(&row).Error; err != nil {
		return 0, mapError(err, "create supporter")
	}
	return row.ID, nil
}

// --- helpers ----------------------------------------------------------------

func (c conn) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := c.with(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (c conn) update(ctx context.Context, model any, id int64, a *sqlbuild.Assignments) error {
	if a.Empty() {
		ok, err := c.exists(ctx, model, "id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("row %d: %w", id, storage.ErrNotFound)
		}
		return nil
	}
	result := c.with(ctx).Model(model).Where("id = ?", id).Updates(a.Map())
	if result.Error != nil {
		return mapError(result.Error, "update")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("row %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (c conn) setColumn(ctx context.Context, model any, id int64, column string, value *string) error {
	result := c.with(ctx).Model(model).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("row %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func mapError(err error, what string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", what, storage.ErrDuplicate)
	default:
		return err
	}
}
