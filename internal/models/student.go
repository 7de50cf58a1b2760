package models

import "time"

// Student represents a learner in the canonical registry. Registry rows are
// maintained by an external system; this service reads them.
type Student struct {
	ID            string    `db:"id" json:"id"`
	NIS           string    `db:"nis" json:"nis"`
	FullName      string    `db:"full_name" json:"full_name"`
	ClassID       *string   `db:"class_id" json:"class_id,omitempty"`
	GuardianPhone *string   `db:"guardian_phone" json:"guardian_phone,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
