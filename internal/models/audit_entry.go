package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scouthub/backend/internal/apperr"
)

// AuditCategory classifies an audit entry by operation kind.
type AuditCategory string

const (
	CategoryCreate AuditCategory = "create"
	CategoryUpdate AuditCategory = "update"
	CategoryDelete AuditCategory = "delete"
	CategoryLogin  AuditCategory = "login"
	CategorySystem AuditCategory = "system"
)

// Valid reports whether c is one of the defined categories.
func (c AuditCategory) Valid() bool {
	switch c {
	case CategoryCreate, CategoryUpdate, CategoryDelete, CategoryLogin, CategorySystem:
		return true
	}
	return false
}

// ParseCategory normalizes s and returns the matching AuditCategory.
func ParseCategory(s string) (AuditCategory, error) {
	c := AuditCategory(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", apperr.Validation("models.ParseCategory", "invalid category: "+s)
	}
	return c, nil
}

// Audit actions.
const (
	ActionRegisteredUser    = "Registered User"
	ActionApprovedUser      = "Approved User"
	ActionDeletedUser       = "Deleted User"
	ActionCreatedAdmin      = "Created Admin"
	ActionUserLogin         = "User Login"
	ActionRegisteredScout   = "Registered Scout"
	ActionUpdatedScout      = "Updated Scout"
	ActionRenewedMembership = "Renewed Membership"
	ActionExpiredMembership = "Expired Membership"
	ActionDeletedScout      = "Deleted Scout"
	ActionAccessDenied      = "Access Denied"
	ActionScheduledArchive  = "Scheduled Audit Archive"
)

// AuditEntry is an immutable record of one action. A nil UserID means the
// system performed it.
type AuditEntry struct {
	ID        uuid.UUID     `json:"id"`
	UserID    *uuid.UUID    `json:"userId,omitempty"`
	Action    string        `json:"action"`
	Details   string        `json:"details"`
	Category  AuditCategory `json:"category"`
	IPAddress *string       `json:"ipAddress,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}
