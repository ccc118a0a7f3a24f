package event

import "strings"

// Kind identifies what happened. The set is closed.
type Kind string

const (
	LeadCreated       Kind = "LEAD_CREATED"
	LeadUpdated       Kind = "LEAD_UPDATED"
	LeadStatusChanged Kind = "LEAD_STATUS_CHANGED"
	LeadAssigned      Kind = "LEAD_ASSIGNED"
	LeadConverted     Kind = "LEAD_CONVERTED"
	LeadDeleted       Kind = "LEAD_DELETED"
	DealCreated       Kind = "DEAL_CREATED"
	DealUpdated       Kind = "DEAL_UPDATED"
	DealStageChanged  Kind = "DEAL_STAGE_CHANGED"
	DealWon           Kind = "DEAL_WON"
	DealLost          Kind = "DEAL_LOST"
	DealDeleted       Kind = "DEAL_DELETED"
	TaskCreated       Kind = "TASK_CREATED"
	TaskAssigned      Kind = "TASK_ASSIGNED"
	TaskCompleted     Kind = "TASK_COMPLETED"
	TaskDeleted       Kind = "TASK_DELETED"
	ContactCreated    Kind = "CONTACT_CREATED"
	ContactDeleted    Kind = "CONTACT_DELETED"
)

var allKinds = []Kind{
	LeadCreated, LeadUpdated, LeadStatusChanged, LeadAssigned, LeadConverted, LeadDeleted,
	DealCreated, DealUpdated, DealStageChanged, DealWon, DealLost, DealDeleted,
	TaskCreated, TaskAssigned, TaskCompleted, TaskDeleted,
	ContactCreated, ContactDeleted,
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EntityType is the lower-case subject of the kind: "lead", "deal", "task" or "contact".
func (k Kind) EntityType() string {
	entity, _, _ := strings.Cut(string(k), "_")
	return strings.ToLower(entity)
}

// Action is the lower-case verb part, e.g. "status_changed" for LEAD_STATUS_CHANGED.
func (k Kind) Action() string {
	_, action, _ := strings.Cut(string(k), "_")
	return strings.ToLower(action)
}

// WebhookEvent is the public event name: DEAL_WON is "deal.won", LEAD_STATUS_CHANGED is "lead.status_changed".
func (k Kind) WebhookEvent() string {
	return k.EntityType() + "." + k.Action()
}

// WebhookEvents lists the public name of every kind, for subscription validation.
func WebhookEvents() []string {
	out := make([]string, len(allKinds))
	for i, k := range allKinds {
		out[i] = k.WebhookEvent()
	}
	return out
}

// ParseKind accepts either the constant form (DEAL_WON) or the public form (deal.won).
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.Replace(strings.TrimSpace(s), ".", "_", 1)))
	return k, k.Valid()
}
