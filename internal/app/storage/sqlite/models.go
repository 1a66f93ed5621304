package sqlite

import (
	"time"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/domain/user"
)

type userModel struct {
	ID            int64   `gorm:"primarykey"`
	Email         string  `gorm:"uniqueIndex;not null"`
	FirstName     string  `gorm:"not null"`
	LastName      string  `gorm:"not null"`
	Password      string  `gorm:"not null"`
	AuthToken     *string `gorm:"index"`
	ImageFilename *string
}

func (userModel) TableName() string {
	return "users"
}

func (m userModel) toDomain() user.User {
	return user.User{
		ID:            m.ID,
		Email:         m.Email,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		Password:      m.Password,
		AuthToken:     deref(m.AuthToken),
		ImageFilename: deref(m.ImageFilename),
	}
}

type categoryModel struct {
	ID   int64  `gorm:"primarykey"`
	Name string `gorm:"not null"`
}

func (categoryModel) TableName() string {
	return "category"
}

type petitionModel struct {
	ID            int64     `gorm:"primarykey"`
	Title         string    `gorm:"uniqueIndex;not null"`
	Description   string    `gorm:"not null"`
	CategoryID    int64     `gorm:"index;not null"`
	OwnerID       int64     `gorm:"index;not null"`
	CreationDate  time.Time `gorm:"not null"`
	ImageFilename *string
}

func (petitionModel) TableName() string {
	return "petition"
}

func (m petitionModel) toDomain() petition.Petition {
	return petition.Petition{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		CategoryID:    m.CategoryID,
		OwnerID:       m.OwnerID,
		CreationDate:  m.CreationDate.UTC(),
		ImageFilename: deref(m.ImageFilename),
	}
}

type tierModel struct {
	ID          int64  `gorm:"primarykey"`
	PetitionID  int64  `gorm:"uniqueIndex:idx_tier_petition_title;not null"`
	Title       string `gorm:"uniqueIndex:idx_tier_petition_title;not null"`
	Description string `gorm:"not null"`
	Cost        int64  `gorm:"not null"`
}

func (tierModel) TableName() string {
	return "support_tier"
}

func (m tierModel) toDomain() petition.SupportTier {
	return petition.SupportTier{
		ID:          m.ID,
		PetitionID:  m.PetitionID,
		Title:       m.Title,
		Description: m.Description,
		Cost:        m.Cost,
	}
}

type supporterModel struct {
	ID            int64 `gorm:"primarykey"`
	PetitionID    int64 `gorm:"uniqueIndex:idx_supporter_pledge;index;not null"`
	SupportTierID int64 `gorm:"uniqueIndex:idx_supporter_pledge;not null"`
	UserID        int64 `gorm:"uniqueIndex:idx_supporter_pledge;not null"`
	Message       *string
	Timestamp     time.Time `gorm:"column:timestamp;not null"`
}

func (supporterModel) TableName() string {
	return "supporter"
}

// migrateModels lists every table the store owns, in dependency order.
var migrateModels = []any{
	&userModel{},
	&categoryModel{},
	&petitionModel{},
	&tierModel{},
	&supporterModel{},
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
