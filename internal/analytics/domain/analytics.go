package domain

import "time"

// DailyRollup holds one tenant's counters for one UTC day. Rows are recomputed from the
// source tables, never incremented.
type DailyRollup struct {
	OrgID          string    `json:"orgId"`
	Day            time.Time `json:"day"`
	LeadsCreated   int64     `json:"leadsCreated"`
	DealsWon       int64     `json:"dealsWon"`
	DealsLost      int64     `json:"dealsLost"`
	WonValue       float64   `json:"wonValue"`
	TasksCompleted int64     `json:"tasksCompleted"`
	EventsTotal    int64     `json:"eventsTotal"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DashboardStats is the dashboard overview. Scoped stats count only records owned by or
// assigned to one user.
type DashboardStats struct {
	TotalLeads     int64         `json:"totalLeads"`
	NewLeads30d    int64         `json:"newLeads30d"`
	OpenDeals      int64         `json:"openDeals"`
	PipelineValue  float64       `json:"pipelineValue"`
	WonDeals       int64         `json:"wonDeals"`
	WonValue       float64       `json:"wonValue"`
	LostDeals      int64         `json:"lostDeals"`
	OpenTasks      int64         `json:"openTasks"`
	OverdueTasks   int64         `json:"overdueTasks"`
	WinRate        float64       `json:"winRate"`
	Daily          []DailyRollup `json:"daily,omitempty"`
	GeneratedAt    time.Time     `json:"generatedAt"`
	ScopedToUserID string        `json:"scopedToUserId,omitempty"`
}
