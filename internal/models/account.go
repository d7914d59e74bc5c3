package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a login identity. It starts unapproved and is approved or
// deleted by an admin.
type Account struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	IsApproved   bool       `json:"isApproved"`
	SchoolID     *uuid.UUID `json:"schoolId,omitempty"`
	UnitID       *uuid.UUID `json:"unitId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
