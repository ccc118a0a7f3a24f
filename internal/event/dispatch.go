package event

import (
	"fmt"
	"html"
	"strings"

	"flowcrm/backend/internal/analytics"
	"flowcrm/backend/internal/eventlog"
	"flowcrm/backend/internal/mail"
	"flowcrm/backend/internal/notification"
	notifdomain "flowcrm/backend/internal/notification/domain"
	"flowcrm/backend/internal/queue"
)

// JobSpec is one job an event asks for.
type JobSpec struct {
	Queue   string
	Payload any
}

// Action maps an event to the jobs it needs. Actions are pure.
type Action func(Event) []JobSpec

var outcomeKinds = []Kind{DealWon, DealLost}

// dispatchTable is built once; every kind gets the event log, rollup and assignee actions.
var dispatchTable = buildDispatchTable()

func buildDispatchTable() map[Kind][]Action {
	t := make(map[Kind][]Action, len(allKinds))
	for _, k := range allKinds {
		t[k] = []Action{logEvent, rollup, notifyAssignee}
	}
	for _, k := range outcomeKinds {
		t[k] = append(t[k], broadcastOutcome)
	}
	return t
}

// Plan returns the jobs for e, in table order.
func Plan(e Event) []JobSpec {
	var out []JobSpec
	for _, act := range dispatchTable[e.Kind] {
		out = append(out, act(e)...)
	}
	return out
}

func logEvent(e Event) []JobSpec {
	return []JobSpec{{Queue: queue.DomainEventLog, Payload: eventlog.Record{
		ID:          e.ID,
		Kind:        string(e.Kind),
		TenantID:    e.TenantID,
		ActorUserID: e.ActorUserID,
		EntityID:    e.EntityID,
		EntityLabel: e.EntityLabel,
		Metadata:    e.Metadata,
		OccurredAt:  e.OccurredAt,
	}}}
}

func rollup(e Event) []JobSpec {
	return []JobSpec{{Queue: queue.AnalyticsRollup, Payload: analytics.NewRollupPayload(e.TenantID, e.OccurredAt)}}
}

// notifyAssignee tells the assignee about the record, unless they triggered the event themselves.
func notifyAssignee(e Event) []JobSpec {
	assignee := e.metaString(MetaAssigneeID)
	if !e.metaBool(MetaNotifyAssignee) || assignee == "" || assignee == e.ActorUserID {
		return nil
	}
	entity := e.Kind.EntityType()
	title, message := assigneeText(e.Kind, entity, e.EntityLabel)
	specs := []JobSpec{{Queue: queue.UserNotification, Payload: notification.JobPayload{
		Mode:     notification.ModeUser,
		UserID:   assignee,
		TenantID: e.TenantID,
		Type:     notifdomain.TypeAssignment,
		Title:    title,
		Message:  message,
		Link:     entityLink(e),
	}}}
	if email := e.metaString(MetaAssigneeEmail); email != "" {
		specs = append(specs, JobSpec{Queue: queue.OutboundEmail, Payload: mail.Message{
			TenantID: e.TenantID,
			To:       email,
			Subject:  title,
			HTML:     "<p>" + html.EscapeString(message) + "</p>",
		}})
	}
	return specs
}

func assigneeText(k Kind, entity, label string) (title, message string) {
	switch k.Action() {
	case "created", "assigned":
		return fmt.Sprintf("New %s assigned", entity),
			fmt.Sprintf("You have been assigned the %s %q.", entity, label)
	}
	change := strings.ReplaceAll(k.Action(), "_", " ")
	title = strings.ToUpper(entity[:1]) + entity[1:] + " " + change
	return title, fmt.Sprintf("The %s %q assigned to you: %s.", entity, label, change)
}

// broadcastOutcome tells the rest of the tenant that a deal closed.
func broadcastOutcome(e Event) []JobSpec {
	if !e.metaBool(MetaBroadcastToTenant) {
		return nil
	}
	title, verb := "Deal won", "won"
	if e.Kind == DealLost {
		title, verb = "Deal lost", "lost"
	}
	message := fmt.Sprintf("%q was %s.", e.EntityLabel, verb)
	if v := e.metaString(MetaDealValue); v != "" && e.Kind == DealWon {
		message = fmt.Sprintf("%q was won (value %s).", e.EntityLabel, v)
	}
	return []JobSpec{{Queue: queue.UserNotification, Payload: notification.JobPayload{
		Mode:          notification.ModeTenant,
		TenantID:      e.TenantID,
		ExcludeUserID: e.ActorUserID,
		Type:          notifdomain.TypeDeal,
		Title:         title,
		Message:       message,
		Link:          entityLink(e),
	}}}
}

func entityLink(e Event) string {
	if e.EntityID == "" {
		return ""
	}
	return fmt.Sprintf("/%ss/%s", e.Kind.EntityType(), e.EntityID)
}
