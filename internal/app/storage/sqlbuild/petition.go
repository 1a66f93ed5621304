package sqlbuild

import (
	"strings"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
)

// Summary projection shared by the SQL backends. The petition table is
// aliased p and the owner table u.
const (
	SummaryColumns = `p.id AS petition_id, p.title, p.category_id, p.owner_id,
		u.first_name AS owner_first_name, u.last_name AS owner_last_name,
		(SELECT COUNT(*) FROM supporter s WHERE s.petition_id = p.id) AS number_of_supporters,
		COALESCE((SELECT MIN(t.cost) FROM support_tier t WHERE t.petition_id = p.id), 0) AS supporting_cost,
		p.creation_date`
	SummaryFrom = `petition p JOIN users u ON u.id = p.owner_id`
)

// SearchFilter compiles the search criteria into predicates.
func SearchFilter(q petition.SearchQuery) *Builder {
	b := NewBuilder()
	if q.Q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Q)) + "%"
		b.Where(`LOWER(p.title) LIKE ? ESCAPE '\' OR LOWER(p.description) LIKE ? ESCAPE '\'`, pattern, pattern)
	}
	if len(q.CategoryIDs) > 0 {
		ids := make([]int64, len(q.CategoryIDs))
		copy(ids, q.CategoryIDs)
		b.Where("p.category_id IN (?)", ids)
	}
	if q.SupportingCost != nil {
		b.Where("EXISTS (SELECT 1 FROM support_tier t WHERE t.petition_id = p.id AND t.cost <= ?)", *q.SupportingCost)
	}
	if q.OwnerID != nil {
		b.Where("p.owner_id = ?", *q.OwnerID)
	}
	if q.SupporterID != nil {
		b.Where("EXISTS (SELECT 1 FROM supporter s WHERE s.petition_id = p.id AND s.user_id = ?)", *q.SupporterID)
	}
	return b
}

// OrderBy returns the ORDER BY list for sort. The petition id is always the
// final key so pages are stable.
func OrderBy(sort petition.SortBy) string {
	dir := "ASC"
	if sort.Descending() {
		dir = "DESC"
	}
	switch sort {
	case petition.SortAlphabeticalAsc, petition.SortAlphabeticalDesc:
		return "p.title " + dir + ", p.id ASC"
	case petition.SortCostAsc, petition.SortCostDesc:
		return "supporting_cost " + dir + ", p.id ASC"
	case petition.SortCreatedDesc:
		return "p.creation_date DESC, p.id DESC"
	default:
		return "p.creation_date ASC, p.id ASC"
	}
}

// PetitionAssignments lists the columns a petition update touches.
func PetitionAssignments(c petition.Changes) *Assignments {
	a := &Assignments{}
	if c.Title != nil {
		a.Set("title", *c.Title)
	}
	if c.Description != nil {
		a.Set("description", *c.Description)
	}
	if c.CategoryID != nil {
		a.Set("category_id", *c.CategoryID)
	}
	return a
}

// TierAssignments lists the columns a support tier update touches.
func TierAssignments(c petition.TierChanges) *Assignments {
	a := &Assignments{}
	if c.Title != nil {
		a.Set("title", *c.Title)
	}
	if c.Description != nil {
		a.Set("description", *c.Description)
	}
	if c.Cost != nil {
		a.Set("cost", *c.Cost)
	}
	return a
}

// UserAssignments lists the columns a profile update touches. Password must
// already be hashed.
func UserAssignments(c user.Changes) *Assignments {
	a := &Assignments{}
	if c.Email != nil {
		a.Set("email", *c.Email)
	}
	if c.FirstName != nil {
		a.Set("first_name", *c.FirstName)
	}
	if c.LastName != nil {
		a.Set("last_name", *c.LastName)
	}
	if c.Password != nil {
		a.Set("password", *c.Password)
	}
	return a
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
