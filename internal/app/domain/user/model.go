package user

import "regexp"

// User is a registered account. Password holds the bcrypt hash; AuthToken
// is empty when the user is logged out.
type User struct {
	ID            int64
	Email         string
	FirstName     string
	LastName      string
	Password      string
	AuthToken     string
	ImageFilename string
}

// Registration is the input for creating a user.
type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Changes is a partial profile update. Nil fields are left unchanged.
// CurrentPassword is required when Password is set.
type Changes struct {
	Email           *string
	FirstName       *string
	LastName        *string
	Password        *string
	CurrentPassword *string
}

// Empty reports whether no updatable field was supplied.
func (c Changes) Empty() bool {
	return c.Email == nil && c.FirstName == nil && c.LastName == nil && c.Password == nil
}

// Profile is the public view of a user. Email is only populated for the
// user themself.
type Profile struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Session is returned on login.
type Session struct {
	UserID int64  `json:"userId"`
	Token  string `json:"token"`
}

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email has a plausible address shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
