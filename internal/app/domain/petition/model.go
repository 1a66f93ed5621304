package petition

import "time"

// Tier bounds every petition must respect at all times.
const (
	MinTiers = 1
	MaxTiers = 3
)

// Category is immutable reference data.
type Category struct {
	ID   int64  `json:"categoryId"`
	Name string `json:"name"`
}

// Petition is the stored petition row.
type Petition struct {
	ID            int64
	Title         string
	Description   string
	CategoryID    int64
	OwnerID       int64
	CreationDate  time.Time
	ImageFilename string
}

// SupportTier is a pledge level scoped to one petition.
type SupportTier struct {
	ID          int64  `json:"supportTierId"`
	PetitionID  int64  `json:"-"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
}

// Supporter is an immutable pledge joined with the supporter's name.
type Supporter struct {
	ID            int64     `json:"supportId"`
	PetitionID    int64     `json:"-"`
	SupportTierID int64     `json:"supportTierId"`
	UserID        int64     `json:"supporterId"`
	Message       *string   `json:"message"`
	FirstName     string    `json:"supporterFirstName"`
	LastName      string    `json:"supporterLastName"`
	Timestamp     time.Time `json:"timestamp"`
}

// Summary is one search result row. NumberOfSupporters and SupportingCost
// are computed from live tier and ledger state.
type Summary struct {
	ID                 int64     `json:"petitionId"`
	Title              string    `json:"title"`
	CategoryID         int64     `json:"categoryId"`
	OwnerID            int64     `json:"ownerId"`
	OwnerFirstName     string    `json:"ownerFirstName"`
	OwnerLastName      string    `json:"ownerLastName"`
	NumberOfSupporters int64     `json:"numberOfSupporters"`
	SupportingCost     int64     `json:"supportingCost"`
	CreationDate       time.Time `json:"creationDate"`
}

// Page is a window of search results plus the unpaginated match count.
type Page struct {
	Petitions []Summary `json:"petitions"`
	Count     int64     `json:"count"`
}

// Detail is the full view of one petition.
type Detail struct {
	ID                 int64         `json:"petitionId"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	CategoryID         int64         `json:"categoryId"`
	OwnerID            int64         `json:"ownerId"`
	OwnerFirstName     string        `json:"ownerFirstName"`
	OwnerLastName      string        `json:"ownerLastName"`
	NumberOfSupporters int64         `json:"numberOfSupporters"`
	MoneyRaised        int64         `json:"moneyRaised"`
	CreationDate       time.Time     `json:"creationDate"`
	SupportTiers       []SupportTier `json:"supportTiers"`
}

// Draft is the input for creating a petition together with its tiers.
type Draft struct {
	Title       string
	Description string
	CategoryID  int64
	Tiers       []TierDraft
}

// TierDraft describes a tier to create. Cost is nil when the caller did not
// supply one.
type TierDraft struct {
	Title       string
	Description string
	Cost        *int64
}

// Changes is a partial petition update. Nil fields are left unchanged.
type Changes struct {
	Title       *string
	Description *string
	CategoryID  *int64
}

// Empty reports whether no field was supplied.
func (c Changes) Empty() bool {
	return c.Title == nil && c.Description == nil && c.CategoryID == nil
}

// Apply merges the supplied fields onto p.
func (c Changes) Apply(p Petition) Petition {
	if c.Title != nil {
		p.Title = *c.Title
	}
	if c.Description != nil {
		p.Description = *c.Description
	}
	if c.CategoryID != nil {
		p.CategoryID = *c.CategoryID
	}
	return p
}

// TierChanges is a partial tier update. Nil fields keep the current row value.
type TierChanges struct {
	Title       *string
	Description *string
	Cost        *int64
}

func (c TierChanges) Empty() bool {
	return c.Title == nil && c.Description == nil && c.Cost == nil
}

// Apply merges the supplied fields onto t.
func (c TierChanges) Apply(t SupportTier) SupportTier {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Cost != nil {
		t.Cost = *c.Cost
	}
	return t
}

// PledgeDraft is the input for supporting a tier. Message is nil when absent.
type PledgeDraft struct {
	SupportTierID int64
	Message       *string
}
