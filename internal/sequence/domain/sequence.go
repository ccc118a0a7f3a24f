package domain

import "time"

// ActionType is what a step does when it runs.
type ActionType string

const (
	ActionEmail        ActionType = "email"
	ActionTask         ActionType = "task"
	ActionNotification ActionType = "notification"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionEmail, ActionTask, ActionNotification:
		return true
	}
	return false
}

// Status is the enrollment state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Sequence is a per-tenant drip template. Steps are ordered by StepOrder, 0-based and contiguous.
type Sequence struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"createdAt"`
}

type Step struct {
	ID         string     `json:"id"`
	SequenceID string     `json:"sequenceId"`
	StepOrder  int        `json:"stepOrder"`
	DelayDays  int        `json:"delayDays"`
	ActionType ActionType `json:"actionType"`
	Subject    string     `json:"subject,omitempty"`
	Content    string     `json:"content"`
}

// Enrollment is one lead's progress through one sequence.
// NextRunAt is nil exactly when Status is not active.
type Enrollment struct {
	ID          string     `json:"id"`
	SequenceID  string     `json:"sequenceId"`
	LeadID      string     `json:"leadId"`
	OrgID       string     `json:"orgId"`
	CurrentStep int        `json:"currentStep"`
	Status      Status     `json:"status"`
	NextRunAt   *time.Time `json:"nextRunAt"`
	EnrolledAt  time.Time  `json:"enrolledAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// DueAt returns when step i runs: enrolledAt plus the delays of steps 0..i.
func DueAt(enrolledAt time.Time, steps []Step, i int) time.Time {
	days := 0
	for j := 0; j <= i && j < len(steps); j++ {
		days += steps[j].DelayDays
	}
	return enrolledAt.AddDate(0, 0, days)
}

// Lead is the read-only view of a CRM lead the scheduler needs.
type Lead struct {
	ID      string
	OrgID   string
	Name    string
	Email   string
	Company string
	Phone   string
	Status  string
	OwnerID string
}

// Task is a CRM task created by a task step.
type Task struct {
	ID          string
	OrgID       string
	Title       string
	Description string
	LeadID      string
	AssigneeID  string
	DueAt       *time.Time
	CreatedAt   time.Time
}
