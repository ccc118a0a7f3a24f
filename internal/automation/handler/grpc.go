// Package handler implements the AutomationService gRPC surface: event emission, webhook and
// sequence management, notifications, dashboard stats, the audit trail and failed-job recovery.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	analyticsdomain "flowcrm/backend/internal/analytics/domain"
	auditdomain "flowcrm/backend/internal/audit/domain"
	auditrepo "flowcrm/backend/internal/audit/repository"
	"flowcrm/backend/internal/event"
	membershipdomain "flowcrm/backend/internal/membership/domain"
	"flowcrm/backend/internal/notification"
	notifdomain "flowcrm/backend/internal/notification/domain"
	"flowcrm/backend/internal/platform/rbac"
	"flowcrm/backend/internal/policy/engine"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/sequence"
	seqdomain "flowcrm/backend/internal/sequence/domain"
	"flowcrm/backend/internal/webhook"
	webhookdomain "flowcrm/backend/internal/webhook/domain"
)

// Webhooks manages the tenant webhook. *webhook.Dispatcher implements it.
type Webhooks interface {
	Get(ctx context.Context, tenantID string) (*webhookdomain.Config, error)
	Configure(ctx context.Context, tenantID, target string, events []string) (*webhookdomain.Config, error)
	RotateSecret(ctx context.Context, tenantID string) (string, error)
	Remove(ctx context.Context, tenantID string) error
	Test(ctx context.Context, tenantID string) (*webhookdomain.DeliveryLog, error)
	Deliveries(ctx context.Context, tenantID string, limit, offset int32) ([]*webhookdomain.DeliveryLog, error)
}

// Sequences manages drip sequences. *sequence.Scheduler implements it.
type Sequences interface {
	CreateSequence(ctx context.Context, tenantID, name string, steps []sequence.StepInput) (*seqdomain.Sequence, error)
	ListSequences(ctx context.Context, tenantID string) ([]*seqdomain.Sequence, error)
	Enroll(ctx context.Context, tenantID, sequenceID, leadID string) (*seqdomain.Enrollment, error)
	Unenroll(ctx context.Context, tenantID, sequenceID, leadID string) error
	SetActive(ctx context.Context, tenantID, id string, active bool) error
}

// Notifications is the caller's inbox. *notification.Service implements it.
type Notifications interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit, offset int32) ([]*notifdomain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Dashboard serves role-scoped stats. *analytics.Service implements it.
type Dashboard interface {
	Dashboard(ctx context.Context, tenantID string, role membershipdomain.Role, userID string) (*analyticsdomain.DashboardStats, error)
}

// Jobs is the operator view of the job store. *queue.Redis implements it.
type Jobs interface {
	ListFailed(ctx context.Context, name string, limit int64) ([]*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	Retry(ctx context.Context, id string) error
}

// Deps holds the services behind the RPCs. A nil service makes its RPCs return Unimplemented
// (Jobs: FailedPrecondition, since it is nil exactly when background processing is off).
type Deps struct {
	Members       rbac.OrgMembershipGetter
	Authz         engine.Authorizer
	Events        event.Sink
	Webhooks      Webhooks
	Sequences     Sequences
	Notifications Notifications
	Dashboard     Dashboard
	Audit         auditrepo.Repository
	Jobs          Jobs
	Logger        *zap.Logger
}

// Server implements AutomationServiceServer.
type Server struct {
	d Deps
}

var _ AutomationServiceServer = (*Server)(nil)

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{d: d}
}

// EmitEvent {kind, entityId, entityLabel, metadata} -> {id}. The actor and tenant are the caller.
func (s *Server) EmitEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Events == nil {
		return nil, status.Error(codes.Unimplemented, "event emission not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionEmitEvent)
	if err != nil {
		return nil, err
	}
	var in struct {
		Kind        string         `json:"kind"`
		EntityID    string         `json:"entityId"`
		EntityLabel string         `json:"entityLabel"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	kind, ok := event.ParseKind(in.Kind)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown event kind %q", in.Kind)
	}
	e := event.Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		ActorUserID: c.UserID,
		TenantID:    c.OrgID,
		EntityID:    in.EntityID,
		EntityLabel: in.EntityLabel,
		Metadata:    in.Metadata,
	}
	if err := s.d.Events.Emit(ctx, e); err != nil {
		return nil, s.toStatus("emit event", err)
	}
	return encode(map[string]any{"id": e.ID, "kind": string(kind)})
}

// GetWebhookConfig {} -> {configured, url, events, secret (masked)}.
func (s *Server) GetWebhookConfig(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Webhooks == nil {
		return nil, status.Error(codes.Unimplemented, "webhooks not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionReadWebhook)
	if err != nil {
		return nil, err
	}
	cfg, err := s.d.Webhooks.Get(ctx, c.OrgID)
	if err != nil {
		return nil, s.toStatus("get webhook", err)
	}
	if cfg == nil {
		return encode(map[string]any{"configured": false})
	}
	return encode(webhookView(cfg, false))
}

// ConfigureWebhook {url, events} -> config with the plaintext secret.
func (s *Server) ConfigureWebhook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Webhooks == nil {
		return nil, status.Error(codes.Unimplemented, "webhooks not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageWebhook)
	if err != nil {
		return nil, err
	}
	var in struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	cfg, err := s.d.Webhooks.Configure(ctx, c.OrgID, strings.TrimSpace(in.URL), in.Events)
	if err != nil {
		return nil, s.toStatus("configure webhook", err)
	}
	return encode(webhookView(cfg, true))
}

// RotateWebhookSecret {} -> {secret}. The secret is only ever shown here and on configure.
func (s *Server) RotateWebhookSecret(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Webhooks == nil {
		return nil, status.Error(codes.Unimplemented, "webhooks not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageWebhook)
	if err != nil {
		return nil, err
	}
	secret, err := s.d.Webhooks.RotateSecret(ctx, c.OrgID)
	if err != nil {
		return nil, s.toStatus("rotate webhook secret", err)
	}
	return encode(map[string]any{"secret": secret})
}

func (s *Server) RemoveWebhook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Webhooks == nil {
		return nil, status.Error(codes.Unimplemented, "webhooks not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageWebhook)
	if err != nil {
		return nil, err
	}
	if err := s.d.Webhooks.Remove(ctx, c.OrgID); err != nil {
		return nil, s.toStatus("remove webhook", err)
	}
	return encode(map[string]any{"removed": true})
}

// TestWebhook {} -> the delivery log of a webhook.test POST.
func (s *Server) TestWebhook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Webhooks == nil {
		return nil, status.Error(codes.Unimplemented, "webhooks not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageWebhook)
	if err != nil {
		return nil, err
	}
	log, err := s.d.Webhooks.Test(ctx, c.OrgID)
	if err != nil {
		return nil, s.toStatus("test webhook", err)
	}
	return encode(log)
}

// ListWebhookDeliveries {limit, offset} -> {items}.
func (s *Server) ListWebhookDeliveries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Webhooks == nil {
		return nil, status.Error(codes.Unimplemented, "webhooks not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionReadWebhook)
	if err != nil {
		return nil, err
	}
	var in page
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	logs, err := s.d.Webhooks.Deliveries(ctx, c.OrgID, in.limit(), in.offset())
	if err != nil {
		return nil, s.toStatus("list webhook deliveries", err)
	}
	return encode(map[string]any{"items": logs})
}

// CreateSequence {name, steps: [{stepOrder, delayDays, actionType, subject, content}]}.
func (s *Server) CreateSequence(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Sequences == nil {
		return nil, status.Error(codes.Unimplemented, "sequences not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageSequence)
	if err != nil {
		return nil, err
	}
	var in struct {
		Name  string               `json:"name"`
		Steps []sequence.StepInput `json:"steps"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	seq, err := s.d.Sequences.CreateSequence(ctx, c.OrgID, in.Name, in.Steps)
	if err != nil {
		return nil, s.toStatus("create sequence", err)
	}
	return encode(seq)
}

func (s *Server) ListSequences(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Sequences == nil {
		return nil, status.Error(codes.Unimplemented, "sequences not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionEnrollLead)
	if err != nil {
		return nil, err
	}
	seqs, err := s.d.Sequences.ListSequences(ctx, c.OrgID)
	if err != nil {
		return nil, s.toStatus("list sequences", err)
	}
	return encode(map[string]any{"items": seqs})
}

type enrollmentRequest struct {
	SequenceID string `json:"sequenceId"`
	LeadID     string `json:"leadId"`
}

func (r enrollmentRequest) validate() error {
	if r.SequenceID == "" || r.LeadID == "" {
		return status.Error(codes.InvalidArgument, "sequenceId and leadId are required")
	}
	return nil
}

// EnrollLead {sequenceId, leadId} -> enrollment.
func (s *Server) EnrollLead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Sequences == nil {
		return nil, status.Error(codes.Unimplemented, "sequences not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionEnrollLead)
	if err != nil {
		return nil, err
	}
	var in enrollmentRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	e, err := s.d.Sequences.Enroll(ctx, c.OrgID, in.SequenceID, in.LeadID)
	if err != nil {
		return nil, s.toStatus("enroll lead", err)
	}
	return encode(e)
}

// UnenrollLead {sequenceId, leadId}.
func (s *Server) UnenrollLead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Sequences == nil {
		return nil, status.Error(codes.Unimplemented, "sequences not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionEnrollLead)
	if err != nil {
		return nil, err
	}
	var in enrollmentRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.d.Sequences.Unenroll(ctx, c.OrgID, in.SequenceID, in.LeadID); err != nil {
		return nil, s.toStatus("unenroll lead", err)
	}
	return encode(map[string]any{"cancelled": true})
}

// SetSequenceActive {sequenceId, active}. A paused sequence keeps its enrollments but none are swept.
func (s *Server) SetSequenceActive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Sequences == nil {
		return nil, status.Error(codes.Unimplemented, "sequences not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageSequence)
	if err != nil {
		return nil, err
	}
	var in struct {
		SequenceID string `json:"sequenceId"`
		Active     *bool  `json:"active"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if in.SequenceID == "" || in.Active == nil {
		return nil, status.Error(codes.InvalidArgument, "sequenceId and active are required")
	}
	if err := s.d.Sequences.SetActive(ctx, c.OrgID, in.SequenceID, *in.Active); err != nil {
		return nil, s.toStatus("set sequence active", err)
	}
	return encode(map[string]any{"sequenceId": in.SequenceID, "active": *in.Active})
}

// ListNotifications {unreadOnly, limit, offset} -> {items, unread}.
func (s *Server) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Notifications == nil {
		return nil, status.Error(codes.Unimplemented, "notifications not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionUseNotifications)
	if err != nil {
		return nil, err
	}
	var in struct {
		page
		UnreadOnly bool `json:"unreadOnly"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	items, err := s.d.Notifications.List(ctx, c.UserID, in.UnreadOnly, in.limit(), in.offset())
	if err != nil {
		return nil, s.toStatus("list notifications", err)
	}
	unread, err := s.d.Notifications.UnreadCount(ctx, c.UserID)
	if err != nil {
		return nil, s.toStatus("count unread notifications", err)
	}
	return encode(map[string]any{"items": items, "unread": unread})
}

// MarkNotificationRead {id}.
func (s *Server) MarkNotificationRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Notifications == nil {
		return nil, status.Error(codes.Unimplemented, "notifications not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionUseNotifications)
	if err != nil {
		return nil, err
	}
	var in struct {
		ID string `json:"id"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.d.Notifications.MarkRead(ctx, c.UserID, in.ID); err != nil {
		return nil, s.toStatus("mark notification read", err)
	}
	return encode(map[string]any{"read": true})
}

func (s *Server) MarkAllNotificationsRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Notifications == nil {
		return nil, status.Error(codes.Unimplemented, "notifications not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionUseNotifications)
	if err != nil {
		return nil, err
	}
	n, err := s.d.Notifications.MarkAllRead(ctx, c.UserID)
	if err != nil {
		return nil, s.toStatus("mark all notifications read", err)
	}
	return encode(map[string]any{"updated": n})
}

// GetDashboardStats {} -> stats, tenant-wide or scoped to the caller depending on role.
func (s *Server) GetDashboardStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Dashboard == nil {
		return nil, status.Error(codes.Unimplemented, "dashboard not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionReadDashboard)
	if err != nil {
		return nil, err
	}
	stats, err := s.d.Dashboard.Dashboard(ctx, c.OrgID, c.Role, c.UserID)
	if err != nil {
		return nil, s.toStatus("dashboard stats", err)
	}
	return encode(stats)
}

// ListAuditLogs {userId, action, entityType, entityId, limit, offset} -> {items}.
func (s *Server) ListAuditLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Audit == nil {
		return nil, status.Error(codes.Unimplemented, "audit log not configured")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionReadAudit)
	if err != nil {
		return nil, err
	}
	var in struct {
		page
		UserID     string `json:"userId"`
		Action     string `json:"action"`
		EntityType string `json:"entityType"`
		EntityID   string `json:"entityId"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	f := auditrepo.Filter{UserID: in.UserID, Action: in.Action, EntityType: in.EntityType, EntityID: in.EntityID}
	var entries []*auditdomain.AuditLog
	if f == (auditrepo.Filter{}) {
		entries, err = s.d.Audit.ListByOrg(ctx, c.OrgID, in.limit(), in.offset())
	} else {
		entries, err = s.d.Audit.ListByOrgFiltered(ctx, c.OrgID, f, in.limit(), in.offset())
	}
	if err != nil {
		return nil, s.toStatus("list audit logs", err)
	}
	return encode(map[string]any{"items": entries})
}

// ListFailedJobs {queue, limit} -> {items}. Only jobs that belong to the caller's tenant are listed.
func (s *Server) ListFailedJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "background processing is disabled")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageJobs)
	if err != nil {
		return nil, err
	}
	var in struct {
		page
		Queue string `json:"queue"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	names := queue.Names
	if in.Queue != "" {
		if !queue.Known(in.Queue) {
			return nil, status.Errorf(codes.InvalidArgument, "unknown queue %q", in.Queue)
		}
		names = []string{in.Queue}
	}
	items := []map[string]any{}
	for _, name := range names {
		jobs, err := s.d.Jobs.ListFailed(ctx, name, int64(in.limit()))
		if err != nil {
			return nil, s.toStatus("list failed jobs", err)
		}
		for _, j := range jobs {
			if jobTenant(j) == c.OrgID {
				items = append(items, jobView(j))
			}
		}
	}
	return encode(map[string]any{"items": items})
}

// RetryJob {id}. The job must be failed and belong to the caller's tenant.
func (s *Server) RetryJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "background processing is disabled")
	}
	c, err := rbac.Require(ctx, s.d.Members, s.d.Authz, engine.ActionManageJobs)
	if err != nil {
		return nil, err
	}
	var in struct {
		ID string `json:"id"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	job, err := s.d.Jobs.Get(ctx, in.ID)
	if err != nil {
		return nil, s.toStatus("get job", err)
	}
	if job == nil || jobTenant(job) != c.OrgID {
		return nil, status.Error(codes.NotFound, "job not found")
	}
	if err := s.d.Jobs.Retry(ctx, in.ID); err != nil {
		return nil, s.toStatus("retry job", err)
	}
	return encode(map[string]any{"id": in.ID, "state": string(queue.StateWaiting)})
}

// toStatus maps domain errors to gRPC codes. Anything unrecognised is logged and hidden behind Internal.
func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, event.ErrUnknownKind),
		errors.Is(err, event.ErrMissingTenant),
		errors.Is(err, sequence.ErrInvalidSteps),
		errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrUnknownEvent):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, sequence.ErrSequenceInactive),
		errors.Is(err, sequence.ErrSequenceEmpty):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, sequence.ErrSequenceNotFound),
		errors.Is(err, sequence.ErrLeadNotFound),
		errors.Is(err, sequence.ErrNotEnrolled),
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, webhook.ErrNotConfigured),
		errors.Is(err, queue.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op+": deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op+": canceled")
	}
	s.d.Logger.Error("rpc failed", zap.String("op", op), zap.Error(err))
	return status.Error(codes.Internal, op+" failed")
}

type page struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

func (p page) limit() int32 {
	if p.Limit <= 0 || p.Limit > 200 {
		return 50
	}
	return p.Limit
}

func (p page) offset() int32 { return max(p.Offset, 0) }

// decode maps a Struct onto v through its JSON form.
func decode(req *structpb.Struct, v any) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	b, err := protojson.Marshal(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed request")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// encode converts v to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func webhookView(cfg *webhookdomain.Config, reveal bool) map[string]any {
	secret := webhook.MaskSecret(cfg.Secret)
	if reveal {
		secret = cfg.Secret
	}
	return map[string]any{
		"configured": true,
		"url":        cfg.URL,
		"events":     cfg.Events,
		"secret":     secret,
		"createdAt":  cfg.CreatedAt,
		"updatedAt":  cfg.UpdatedAt,
	}
}

func jobView(j *queue.Job) map[string]any {
	return map[string]any{
		"id":          j.ID,
		"queue":       j.Queue,
		"state":       string(j.State),
		"attempts":    j.Attempts,
		"maxAttempts": j.MaxAttempts,
		"lastError":   j.LastError,
		"payload":     j.Payload,
		"createdAt":   j.CreatedAt,
		"updatedAt":   j.UpdatedAt,
	}
}

// jobTenant reads the tenant a job runs for from its payload ("tenantId", or "orgId" for
// deferred audit entries). Jobs without one are not visible through the API.
func jobTenant(j *queue.Job) string {
	var p struct {
		TenantID string `json:"tenantId"`
		OrgID    string `json:"orgId"`
	}
	if err := j.Decode(&p); err != nil {
		return ""
	}
	if p.TenantID != "" {
		return p.TenantID
	}
	return p.OrgID
}
