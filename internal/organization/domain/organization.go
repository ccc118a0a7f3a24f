package domain

import (
	"errors"
	"time"
)

// Org is a tenant. Every CRM record, notification, webhook config and sequence belongs to exactly one.
type Org struct {
	ID        string
	Name      string
	Status    OrgStatus
	CreatedAt time.Time
}

type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	if o.ID == "" {
		return errors.New("id is required")
	}
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	return nil
}

// Active reports whether background work should run for the tenant.
func (o *Org) Active() bool {
	return o != nil && o.Status == OrgStatusActive
}
