package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	"github.com/R3E-Network/petition_service/internal/app/storage/sqlbuild"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
)

// Store implements storage.Store backed by PostgreSQL. Transactions run at
// SERIALIZABLE isolation and are retried on serialization failures.
type Store struct {
	conn
	db         *sqlx.DB
	maxRetries int
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	x := sqlx.NewDb(db, "postgres")
	return &Store{conn: conn{ext: x}, db: x, maxRetries: 3}
}

// InTx runs fn in a serializable transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err != nil && isSerializationFailure(err) && attempt < s.maxRetries {
			continue
		}
		return err
	}
}

func (s *Store) runTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(conn{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// conn implements storage.Tx over either the pool or a transaction.
type conn struct {
	ext sqlx.ExtContext
}

var _ storage.Tx = conn{}

// bind expands IN (?) slices and rebinds placeholders to $n.
func (c conn) bind(query string, args []interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return c.ext.Rebind(query), args, nil
}

// --- UserStore --------------------------------------------------------------

type userRow struct {
	ID            int64          `db:"id"`
	Email         string         `db:"email"`
	FirstName     string         `db:"first_name"`
	LastName      string         `db:"last_name"`
	Password      string         `db:"password"`
	AuthToken     sql.NullString `db:"auth_token"`
	ImageFilename sql.NullString `db:"image_filename"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:            r.ID,
		Email:         r.Email,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Password:      r.Password,
		AuthToken:     r.AuthToken.String,
		ImageFilename: r.ImageFilename.String,
	}
}

const userColumns = `id, email, first_name, last_name, password, auth_token, image_filename`

func (c conn) CreateUser(ctx context.Context, u user.User) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, c.ext, &id, `
		INSERT INTO users (email, first_name, last_name, password)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, u.Email, u.FirstName, u.LastName, u.Password)
	if err != nil {
		return 0, mapError(err, "create user")
	}
	return id, nil
}

func (c conn) getUser(ctx context.Context, where string, arg interface{}) (user.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, c.ext, &row, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if err != nil {
		return user.User{}, mapError(err, "get user")
	}
	return row.toDomain(), nil
}

func (c conn) GetUser(ctx context.Context, id int64) (user.User, error) {
	return c.getUser(ctx, "id = $1", id)
}

func (c conn) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return c.getUser(ctx, "LOWER(email) = LOWER($1)", email)
}

func (c conn) GetUserByToken(ctx context.Context, token string) (user.User, error) {
	if token == "" {
		return user.User{}, fmt.Errorf("user with token: %w", storage.ErrNotFound)
	}
	return c.getUser(ctx, "auth_token = $1", token)
}

func (c conn) EmailInUse(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.ext, &exists, `
		SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1) AND id <> $2)
	`, email, excludeID)
	return exists, err
}

func (c conn) UpdateUser(ctx context.Context, id int64, changes user.Changes) error {
	return c.update(ctx, "users", id, sqlbuild.UserAssignments(changes))
}

func (c conn) SetUserToken(ctx context.Context, id int64, token string) error {
	return c.exec(ctx, `UPDATE users SET auth_token = $2 WHERE id = $1`, id, toNullString(token))
}

func (c conn) SetUserImage(ctx context.Context, id int64, filename string) error {
	return c.exec(ctx, `UPDATE users SET image_filename = $2 WHERE id = $1`, id, toNullString(filename))
}

// --- CategoryStore ----------------------------------------------------------

func (c conn) ListCategories(ctx context.Context) ([]petition.Category, error) {
	var rows []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := sqlx.SelectContext(ctx, c.ext, &rows, `SELECT id, name FROM category ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]petition.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, petition.Category{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (c conn) CategoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.ext, &exists, `SELECT EXISTS (SELECT 1 FROM category WHERE id = $1)`, id)
	return exists, err
}

// --- PetitionStore ----------------------------------------------------------

type petitionRow struct {
	ID            int64          `db:"id"`
	Title         string         `db:"title"`
	Description   string         `db:"description"`
	CategoryID    int64          `db:"category_id"`
	OwnerID       int64          `db:"owner_id"`
	CreationDate  time.Time      `db:"creation_date"`
	ImageFilename sql.NullString `db:"image_filename"`
}

func (r petitionRow) toDomain() petition.Petition {
	return petition.Petition{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		CategoryID:    r.CategoryID,
		OwnerID:       r.OwnerID,
		CreationDate:  r.CreationDate.UTC(),
		ImageFilename: r.ImageFilename.String,
	}
}

type summaryRow struct {
	PetitionID         int64     `db:"petition_id"`
	Title              string    `db:"title"`
	CategoryID         int64     `db:"category_id"`
	OwnerID            int64     `db:"owner_id"`
	OwnerFirstName     string    `db:"owner_first_name"`
	OwnerLastName      string    `db:"owner_last_name"`
	NumberOfSupporters int64     `db:"number_of_supporters"`
	SupportingCost     int64     `db:"supporting_cost"`
	CreationDate       time.Time `db:"creation_date"`
}

func (c conn) SearchPetitions(ctx context.Context, query petition.SearchQuery) (petition.Page, error) {
	query = query.Normalized()
	where, args := sqlbuild.SearchFilter(query).Render()

	countSQL, countArgs, err := c.bind(`SELECT COUNT(DISTINCT p.id) FROM `+sqlbuild.SummaryFrom+` `+where, args)
	if err != nil {
		return petition.Page{}, err
	}
	var total int64
	if err := sqlx.GetContext(ctx, c.ext, &total, countSQL, countArgs...); err != nil {
		return petition.Page{}, err
	}

	listArgs := append([]interface{}{}, args...)
	listSQL := `SELECT ` + sqlbuild.SummaryColumns + ` FROM ` + sqlbuild.SummaryFrom + ` ` + where +
		` ORDER BY ` + sqlbuild.OrderBy(query.SortBy)
	if query.Count != nil {
		listSQL += ` LIMIT ?`
		listArgs = append(listArgs, *query.Count)
	}
	if query.StartIndex > 0 {
		listSQL += ` OFFSET ?`
		listArgs = append(listArgs, query.StartIndex)
	}
	listSQL, listArgs, err = c.bind(listSQL, listArgs)
	if err != nil {
		return petition.Page{}, err
	}

	var rows []summaryRow
	if err := sqlx.SelectContext(ctx, c.ext, &rows, listSQL, listArgs...); err != nil {
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
	var row petitionRow
	err := sqlx.GetContext(ctx, c.ext, &row, `
		SELECT id, title, description, category_id, owner_id, creation_date, image_filename
		FROM petition
		WHERE id = $1
	`, id)
	if err != nil {
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
		Supporters  int64 `db:"number_of_supporters"`
		MoneyRaised int64 `db:"money_raised"`
	}
	err = sqlx.GetContext(ctx, c.ext, &agg, `
		SELECT COUNT(s.id) AS number_of_supporters, COALESCE(SUM(t.cost), 0) AS money_raised
		FROM supporter s
		JOIN support_tier t ON t.id = s.support_tier_id
		WHERE s.petition_id = $1
	`, id)
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
		NumberOfSupporters: agg.Supporters,
		MoneyRaised:        agg.MoneyRaised,
		CreationDate:       p.CreationDate,
		SupportTiers:       tiers,
	}, nil
}

func (c conn) PetitionTitleExists(ctx context.Context, title string, excludeID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.ext, &exists, `
		SELECT EXISTS (SELECT 1 FROM petition WHERE title = $1 AND id <> $2)
	`, title, excludeID)
	return exists, err
}

func (c conn) CreatePetition(ctx context.Context, p petition.Petition) (int64, error) {
	if p.CreationDate.IsZero() {
		p.CreationDate = time.Now().UTC()
	}
	var id int64
	err := sqlx.GetContext(ctx, c.ext, &id, `
		INSERT INTO petition (title, description, category_id, owner_id, creation_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, p.Title, p.Description, p.CategoryID, p.OwnerID, p.CreationDate)
	if err != nil {
		return 0, mapError(err, "create petition")
	}
	return id, nil
}

func (c conn) UpdatePetition(ctx context.Context, id int64, changes petition.Changes) error {
	return c.update(ctx, "petition", id, sqlbuild.PetitionAssignments(changes))
}

func (c conn) DeletePetition(ctx context.Context, id int64) error {
	// support_tier rows go with the petition through ON DELETE CASCADE
	return c.exec(ctx, `DELETE FROM petition WHERE id = $1`, id)
}

func (c conn) SetPetitionImage(ctx context.Context, id int64, filename string) error {
	return c.exec(ctx, `UPDATE petition SET image_filename = $2 WHERE id = $1`, id, toNullString(filename))
}

// --- SupportTierStore -------------------------------------------------------

type tierRow struct {
	ID          int64  `db:"id"`
	PetitionID  int64  `db:"petition_id"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Cost        int64  `db:"cost"`
}

func (r tierRow) toDomain() petition.SupportTier {
	return petition.SupportTier{ID: r.ID, PetitionID: r.PetitionID, Title: r.Title, Description: r.Description, Cost: r.Cost}
}

func (c conn) ListTiers(ctx context.Context, petitionID int64) ([]petition.SupportTier, error) {
	var rows []tierRow
	err := sqlx.SelectContext(ctx, c.ext, &rows, `
		SELECT id, petition_id, title, description, cost
		FROM support_tier
		WHERE petition_id = $1
		ORDER BY id
	`, petitionID)
	if err != nil {
		return nil, err
	}
	out := make([]petition.SupportTier, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (c conn) GetTier(ctx context.Context, id int64) (petition.SupportTier, error) {
	var row tierRow
	err := sqlx.GetContext(ctx, c.ext, &row, `
		SELECT id, petition_id, title, description, cost FROM support_tier WHERE id = $1
	`, id)
	if err != nil {
		return petition.SupportTier{}, mapError(err, fmt.Sprintf("support tier %d", id))
	}
	return row.toDomain(), nil
}

func (c conn) CreateTier(ctx context.Context, tier petition.SupportTier) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, c.ext, &id, `
		INSERT INTO support_tier (petition_id, title, description, cost)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, tier.PetitionID, tier.Title, tier.Description, tier.Cost)
	if err != nil {
		return 0, mapError(err, "create support tier")
	}
	return id, nil
}

func (c conn) UpdateTier(ctx context.Context, id int64, changes petition.TierChanges) error {
	return c.update(ctx, "support_tier", id, sqlbuild.TierAssignments(changes))
}

func (c conn) DeleteTier(ctx context.Context, id int64) error {
	return c.exec(ctx, `DELETE FROM support_tier WHERE id = $1`, id)
}

// --- SupporterStore ---------------------------------------------------------

type supporterRow struct {
	ID            int64          `db:"id"`
	PetitionID    int64          `db:"petition_id"`
	SupportTierID int64          `db:"support_tier_id"`
	UserID        int64          `db:"user_id"`
	Message       sql.NullString `db:"message"`
	Timestamp     time.Time      `db:"timestamp"`
	FirstName     string         `db:"first_name"`
	LastName      string         `db:"last_name"`
}

func (c conn) ListSupporters(ctx context.Context, petitionID int64) ([]petition.Supporter, error) {
	var rows []supporterRow
	err := sqlx.SelectContext(ctx, c.ext, &rows, `
		SELECT s.id, s.petition_id, s.support_tier_id, s.user_id, s.message, s."timestamp",
		       u.first_name, u.last_name
		FROM supporter s
		JOIN users u ON u.id = s.user_id
		WHERE s.petition_id = $1
		ORDER BY s."timestamp" DESC, s.id DESC
	`, petitionID)
	if err != nil {
		return nil, err
	}
	out := make([]petition.Supporter, 0, len(rows))
	for _, r := range rows {
		s := petition.Supporter{
			ID:            r.ID,
			PetitionID:    r.PetitionID,
			SupportTierID: r.SupportTierID,
			UserID:        r.UserID,
			FirstName:     r.FirstName,
			LastName:      r.LastName,
			Timestamp:     r.Timestamp.UTC(),
		}
		if r.Message.Valid {
			msg := r.Message.String
			s.Message = &msg
		}
		out = append(out, s)
	}
	return out, nil
}

func (c conn) SupporterExists(ctx context.Context, userID, petitionID, tierID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.ext, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM supporter WHERE user_id = $1 AND petition_id = $2 AND support_tier_id = $3
		)
	`, userID, petitionID, tierID)
	return exists, err
}

func (c conn) PetitionHasSupporters(ctx context.Context, petitionID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.ext, &exists, `SELECT EXISTS (SELECT 1 FROM supporter WHERE petition_id = $1)`, petitionID)
	return exists, err
}

func (c conn) TierHasSupporters(ctx context.Context, tierID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, c.ext, &exists, `SELECT EXISTS (SELECT 1 FROM supporter WHERE support_tier_id = $1)`, tierID)
	return exists, err
}

func (c conn) CreateSupporter(ctx context.Context, s petition.Supporter) (int64, error) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	var message sql.NullString
	if s.Message != nil {
		message = sql.NullString{String: *s.Message, Valid: true}
	}
	var id int64
	err := sqlx.GetContext(ctx, c.ext, &id, `
		INSERT INTO supporter (petition_id, support_tier_id, user_id, message, "timestamp")
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.PetitionID, s.SupportTierID, s.UserID, message, s.Timestamp)
	if err != nil {
		return 0, mapError(err, "create supporter")
	}
	return id, nil
}

// --- helpers ----------------------------------------------------------------

func (c conn) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := c.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "exec")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("row %v: %w", args[0], storage.ErrNotFound)
	}
	return nil
}

func (c conn) update(ctx context.Context, table string, id int64, a *sqlbuild.Assignments) error {
	if a.Empty() {
		var exists bool
		err := sqlx.GetContext(ctx, c.ext, &exists, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s %d: %w", table, id, storage.ErrNotFound)
		}
		return nil
	}
	set, args := a.Render()
	query := c.ext.Rebind(`UPDATE ` + table + ` SET ` + set + ` WHERE id = ?`)
	result, err := c.ext.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return mapError(err, "update "+table)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s %d: %w", table, id, storage.ErrNotFound)
	}
	return nil
}

func mapError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %s: %w", what, pqErr.Constraint, storage.ErrDuplicate)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %s: %w", what, pqErr.Constraint, storage.ErrNotFound)
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeSerializationFailure
}

func toNullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
