package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcrm/backend/internal/analytics"
	"flowcrm/backend/internal/eventlog"
	"flowcrm/backend/internal/mail"
	"flowcrm/backend/internal/notification"
	"flowcrm/backend/internal/queue"
)

func queuesOf(specs []JobSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Queue
	}
	return out
}

func TestPlan_EveryKindLogsAndRollsUp(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	for _, k := range Kinds() {
		specs := Plan(Event{ID: "e1", Kind: k, TenantID: "t1", OccurredAt: at})
		require.GreaterOrEqual(t, len(specs), 2, k)
		assert.Equal(t, queue.DomainEventLog, specs[0].Queue, k)
		assert.Equal(t, queue.AnalyticsRollup, specs[1].Queue, k)
		rec := specs[0].Payload.(eventlog.Record)
		assert.Equal(t, string(k), rec.Kind)
		assert.Equal(t, analytics.RollupPayload{TenantID: "t1", Day: "2026-05-04"}, specs[1].Payload)
	}
}

func TestPlan_NotifyAssignee(t *testing.T) {
	base := Event{Kind: TaskAssigned, ActorUserID: "u1", TenantID: "t1", EntityID: "task-1", EntityLabel: "Call <Ada>"}
	tests := []struct {
		name string
		meta map[string]any
		want []string
	}{
		{"flag off", map[string]any{MetaAssigneeID: "u2"}, nil},
		{"self assignment", map[string]any{MetaNotifyAssignee: true, MetaAssigneeID: "u1"}, nil},
		{"no assignee", map[string]any{MetaNotifyAssignee: true}, nil},
		{"notification only", map[string]any{MetaNotifyAssignee: true, MetaAssigneeID: "u2"}, []string{queue.UserNotification}},
		{"with email", map[string]any{MetaNotifyAssignee: true, MetaAssigneeID: "u2", MetaAssigneeEmail: "b@example.com"}, []string{queue.UserNotification, queue.OutboundEmail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			e.Metadata = tt.meta
			specs := Plan(e)
			assert.Equal(t, tt.want, queuesOf(specs[2:]))
		})
	}

	e := base
	e.Metadata = map[string]any{MetaNotifyAssignee: true, MetaAssigneeID: "u2", MetaAssigneeEmail: "b@example.com"}
	specs := Plan(e)
	n := specs[2].Payload.(notification.JobPayload)
	assert.Equal(t, notification.ModeUser, n.Mode)
	assert.Equal(t, "u2", n.UserID)
	assert.Equal(t, "/tasks/task-1", n.Link)
	m := specs[3].Payload.(mail.Message)
	assert.Equal(t, "b@example.com", m.To)
	assert.Contains(t, m.HTML, "Call &lt;Ada&gt;")
	assert.Equal(t, "New task assigned", m.Subject)
}

func TestPlan_NotifyAssigneeForEveryKind(t *testing.T) {
	meta := map[string]any{MetaNotifyAssignee: true, MetaAssigneeID: "u2"}
	for _, k := range Kinds() {
		specs := Plan(Event{Kind: k, ActorUserID: "u1", TenantID: "t1", EntityLabel: "Acme", Metadata: meta})
		var notes []notification.JobPayload
		for _, s := range specs {
			if s.Queue == queue.UserNotification {
				notes = append(notes, s.Payload.(notification.JobPayload))
			}
		}
		require.Len(t, notes, 1, k)
		assert.Equal(t, notification.ModeUser, notes[0].Mode, k)
		assert.Equal(t, "u2", notes[0].UserID, k)
		assert.Equal(t, "t1", notes[0].TenantID, k)
	}
}

func TestPlan_NotifyAssigneeWording(t *testing.T) {
	meta := map[string]any{MetaNotifyAssignee: true, MetaAssigneeID: "u2"}
	tests := []struct {
		kind    Kind
		title   string
		message string
	}{
		{LeadAssigned, "New lead assigned", `You have been assigned the lead "Acme".`},
		{DealStageChanged, "Deal stage changed", `The deal "Acme" assigned to you: stage changed.`},
		{TaskCompleted, "Task completed", `The task "Acme" assigned to you: completed.`},
	}
	for _, tt := range tests {
		specs := Plan(Event{Kind: tt.kind, ActorUserID: "u1", TenantID: "t1", EntityLabel: "Acme", Metadata: meta})
		p := specs[2].Payload.(notification.JobPayload)
		assert.Equal(t, tt.title, p.Title, tt.kind)
		assert.Equal(t, tt.message, p.Message, tt.kind)
	}
}

func TestPlan_BroadcastOutcome(t *testing.T) {
	won := Event{Kind: DealWon, ActorUserID: "u1", TenantID: "t1", EntityID: "d1", EntityLabel: "Acme",
		Metadata: map[string]any{MetaBroadcastToTenant: true, MetaDealValue: 5000}}
	specs := Plan(won)
	require.Len(t, specs, 3)
	p := specs[2].Payload.(notification.JobPayload)
	assert.Equal(t, notification.ModeTenant, p.Mode)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, "u1", p.ExcludeUserID)
	assert.Equal(t, "Deal won", p.Title)
	assert.Contains(t, p.Message, "5000")

	lost := won
	lost.Kind = DealLost
	assert.Equal(t, "Deal lost", Plan(lost)[2].Payload.(notification.JobPayload).Title)

	quiet := won
	quiet.Metadata = map[string]any{MetaBroadcastToTenant: "false"}
	assert.Len(t, Plan(quiet), 2)

	stage := won
	stage.Kind = DealStageChanged
	assert.Len(t, Plan(stage), 2, "only closed deals broadcast")
}

func TestKind(t *testing.T) {
	assert.Len(t, Kinds(), 18)
	assert.Equal(t, "deal.won", DealWon.WebhookEvent())
	assert.Equal(t, "lead.status_changed", LeadStatusChanged.WebhookEvent())
	assert.Equal(t, "contact", ContactDeleted.EntityType())
	assert.Equal(t, "stage_changed", DealStageChanged.Action())
	assert.False(t, Kind("deal_won").Valid())
	assert.Contains(t, WebhookEvents(), "task.completed")

	k, ok := ParseKind("lead.status_changed")
	assert.True(t, ok)
	assert.Equal(t, LeadStatusChanged, k)
	k, ok = ParseKind("DEAL_WON")
	assert.True(t, ok)
	assert.Equal(t, DealWon, k)
	_, ok = ParseKind("deal.exploded")
	assert.False(t, ok)
}
