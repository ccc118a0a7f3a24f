package domain

import (
	"encoding/json"
	"time"
)

// Config is a tenant's single webhook target.
type Config struct {
	OrgID  string
	URL    string
	Secret string
	// Events holds subscribed event names in dotted form (deal.won).
	Events    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscribed reports whether event is in the subscription set.
func (c *Config) Subscribed(event string) bool {
	if c == nil {
		return false
	}
	for _, e := range c.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Delivery outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DeliveryLog is one append-only record per delivery attempt.
type DeliveryLog struct {
	ID           string          `json:"id"`
	OrgID        string          `json:"orgId"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
	Signature    string          `json:"signature,omitempty"`
	Status       string          `json:"status"`
	StatusCode   *int            `json:"statusCode,omitempty"`
	ResponseBody string          `json:"responseBody,omitempty"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"createdAt"`
}
