package engine

import "context"

// Action names an operation on the management surface that needs a role decision.
type Action string

const (
	ActionEmitEvent        Action = "event.emit"
	ActionManageWebhook    Action = "webhook.manage"
	ActionReadWebhook      Action = "webhook.read"
	ActionReadAudit        Action = "audit.read"
	ActionManageJobs       Action = "job.manage"
	ActionManageSequence   Action = "sequence.manage"
	ActionEnrollLead       Action = "sequence.enroll"
	ActionReadDashboard    Action = "dashboard.read"
	ActionUseNotifications Action = "notification.use"
)

// Authorizer decides whether a tenant role may perform an action.
type Authorizer interface {
	Allow(ctx context.Context, role string, action Action) (bool, error)
}
