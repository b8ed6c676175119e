package models

import (
	"github.com/google/uuid"
)

// EmailType enumerates transactional mails that are sent at most once per user.
type EmailType int16

const (
	EmailWelcome EmailType = 1
)

func (e EmailType) String() string {
	switch e {
	case EmailWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// EmailReceipt records that a mail of a given type was delivered to a user.
type EmailReceipt struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EmailType EmailType
	Audit
}
