package models

import "time"

// Audit carries the bookkeeping timestamps shared by persisted records.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch stamps UpdatedAt, and CreatedAt on first write. Stores call it on every
// mutating write, partial updates included.
func (a *Audit) Touch(now time.Time) {
	now = now.UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}
