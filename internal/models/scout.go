package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scouthub/backend/internal/apperr"
)

// MembershipStatus is the lifecycle state of a ScoutRecord.
type MembershipStatus string

const (
	StatusPending MembershipStatus = "pending"
	StatusActive  MembershipStatus = "active"
	StatusExpired MembershipStatus = "expired"
)

// Valid reports whether s is one of the defined statuses.
func (s MembershipStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired:
		return true
	}
	return false
}

// ParseStatus normalizes s and returns the matching MembershipStatus.
func ParseStatus(s string) (MembershipStatus, error) {
	st := MembershipStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", apperr.Validation("models.ParseStatus", "invalid status: "+s)
	}
	return st, nil
}

// ScoutRecord is a membership entity, tracked independently of accounts and
// identified by its organization-assigned UID.
type ScoutRecord struct {
	ID              uuid.UUID        `json:"id"`
	UID             string           `json:"uid"`
	Name            string           `json:"name"`
	Email           *string          `json:"email,omitempty"`
	Status          MembershipStatus `json:"status"`
	MembershipYears int              `json:"membershipYears"`
	SchoolID        *uuid.UUID       `json:"schoolId,omitempty"`
	UnitID          *uuid.UUID       `json:"unitId,omitempty"`
	Address         string           `json:"address,omitempty"`
	ContactNo       string           `json:"contactNo,omitempty"`
	GuardianName    string           `json:"guardianName,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// ScoutLookup is the public, non-sensitive view of a ScoutRecord.
type ScoutLookup struct {
	ID     uuid.UUID        `json:"id"`
	UID    string           `json:"uid"`
	Name   string           `json:"name"`
	Status MembershipStatus `json:"status"`
}

// ToLookup strips everything but the public fields.
func (s *ScoutRecord) ToLookup() ScoutLookup {
	return ScoutLookup{
		ID:     s.ID,
		UID:    s.UID,
		Name:   s.Name,
		Status: s.Status,
	}
}

// StatusCount aggregates records sharing a membership status.
type StatusCount struct {
	Status MembershipStatus
	Count  int
	Years  int
}
