package petition

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

// SortBy orders search results.
type SortBy string

const (
	SortAlphabeticalAsc  SortBy = "ALPHABETICAL_ASC"
	SortAlphabeticalDesc SortBy = "ALPHABETICAL_DESC"
	SortCostAsc          SortBy = "COST_ASC"
	SortCostDesc         SortBy = "COST_DESC"
	SortCreatedAsc       SortBy = "CREATED_ASC"
	SortCreatedDesc      SortBy = "CREATED_DESC"
)

// Valid reports whether s is a recognised ordering.
func (s SortBy) Valid() bool {
	switch s {
	case SortAlphabeticalAsc, SortAlphabeticalDesc, SortCostAsc, SortCostDesc, SortCreatedAsc, SortCreatedDesc:
		return true
	}
	return false
}

// Descending reports whether s sorts in descending order.
func (s SortBy) Descending() bool {
	return strings.HasSuffix(string(s), "_DESC")
}

// MaxQueryLength bounds the free text filter.
const MaxQueryLength = 64

// SearchQuery lists every recognised search option. Nil pointers and empty
// slices mean the filter is not applied; a nil Count means unbounded.
type SearchQuery struct {
	Q              string
	CategoryIDs    []int64
	SupportingCost *int64
	OwnerID        *int64
	SupporterID    *int64
	SortBy         SortBy
	StartIndex     int
	Count          *int
}

// DefaultSearchQuery returns the query used when no option is supplied.
func DefaultSearchQuery() SearchQuery {
	return SearchQuery{SortBy: SortCreatedAsc}
}

var searchParams = map[string]bool{
	"q":              true,
	"categoryIds":    true,
	"supportingCost": true,
	"ownerId":        true,
	"supporterId":    true,
	"sortBy":         true,
	"startIndex":     true,
	"count":          true,
}

// ParseSearchQuery builds a SearchQuery from URL parameters. Unknown
// parameters and malformed values are reported together.
func ParseSearchQuery(values url.Values) (SearchQuery, error) {
	query := DefaultSearchQuery()
	var violations []string

	unknown := make([]string, 0)
	for key := range values {
		if !searchParams[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		violations = append(violations, fmt.Sprintf("%s: unknown parameter", key))
	}

	if raw, ok := single(values, "q"); ok {
		query.Q = raw
	}
	for _, raw := range values["categoryIds"] {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				violations = append(violations, fmt.Sprintf("categoryIds: %q is not an integer", part))
				continue
			}
			query.CategoryIDs = append(query.CategoryIDs, id)
		}
	}
	if raw, ok := single(values, "supportingCost"); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			violations = append(violations, "supportingCost: must be an integer")
		} else {
			query.SupportingCost = &v
		}
	}
	if raw, ok := single(values, "ownerId"); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			violations = append(violations, "ownerId: must be an integer")
		} else {
			query.OwnerID = &v
		}
	}
	if raw, ok := single(values, "supporterId"); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			violations = append(violations, "supporterId: must be an integer")
		} else {
			query.SupporterID = &v
		}
	}
	if raw, ok := single(values, "sortBy"); ok {
		query.SortBy = SortBy(raw)
	}
	if raw, ok := single(values, "startIndex"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			violations = append(violations, "startIndex: must be an integer")
		} else {
			query.StartIndex = v
		}
	}
	if raw, ok := single(values, "count"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			violations = append(violations, "count: must be an integer")
		} else {
			query.Count = &v
		}
	}

	violations = append(violations, query.violations()...)
	if len(violations) > 0 {
		return SearchQuery{}, apperrors.ValidationFields(violations)
	}
	return query, nil
}

func single(values url.Values, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[len(v)-1], true
}

// Validate checks value ranges. ParseSearchQuery already calls it; callers
// building a SearchQuery by hand should too.
func (q SearchQuery) Validate() error {
	if v := q.violations(); len(v) > 0 {
		return apperrors.ValidationFields(v)
	}
	return nil
}

func (q SearchQuery) violations() []string {
	var out []string
	if utf8.RuneCountInString(q.Q) > MaxQueryLength {
		out = append(out, fmt.Sprintf("q: must be at most %d characters", MaxQueryLength))
	}
	if q.SupportingCost != nil && *q.SupportingCost < 0 {
		out = append(out, "supportingCost: must be >= 0")
	}
	if q.SortBy != "" && !q.SortBy.Valid() {
		out = append(out, fmt.Sprintf("sortBy: %q is not a recognised ordering", q.SortBy))
	}
	if q.StartIndex < 0 {
		out = append(out, "startIndex: must be >= 0")
	}
	if q.Count != nil && *q.Count < 0 {
		out = append(out, "count: must be >= 0")
	}
	return out
}

// Normalized fills defaults for unset options.
func (q SearchQuery) Normalized() SearchQuery {
	if q.SortBy == "" {
		q.SortBy = SortCreatedAsc
	}
	return q
}

// Window returns the [start, end) slice bounds for total matching rows.
func (q SearchQuery) Window(total int) (int, int) {
	start := q.StartIndex
	if start > total {
		start = total
	}
	end := total
	if q.Count != nil && *q.Count < end-start {
		end = start + *q.Count
	}
	return start, end
}
