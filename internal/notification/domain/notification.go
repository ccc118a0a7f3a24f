package domain

import "time"

// Notification is an in-app message for one user. IsRead only ever moves from false to true.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	OrgID     string    `json:"orgId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification types.
const (
	TypeAssignment = "assignment"
	TypeDeal       = "deal"
	TypeSequence   = "sequence"
	TypeSystem     = "system"
)
