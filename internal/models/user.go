package models

import (
	"time"

	"github.com/google/uuid"
)

// Gender is stored as a small integer.
type Gender int16

const (
	GenderUnspecified Gender = iota
	GenderMale
	GenderFemale
)

// Valid reports whether g is one of the known values.
func (g Gender) Valid() bool {
	return g >= GenderUnspecified && g <= GenderFemale
}

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	default:
		return "unspecified"
	}
}

// User captures application-facing fields for an account. Email is the login identifier.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PhoneNumber  string     `json:"phone_number"`
	Gender       Gender     `json:"gender"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	Audit
}
