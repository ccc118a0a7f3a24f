package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const defaultPolicyQuery = "data.flowcrm.authz.allow"

// DefaultPolicy is the built-in role policy. Owners and admins manage tenant-wide
// automation; managers also curate sequences; every member may enroll leads, read their
// dashboard and use their notifications.
const DefaultPolicy = `package flowcrm.authz

default allow := false

elevated := {"owner", "admin"}

staff := {"owner", "admin", "manager"}

members := {"owner", "admin", "manager", "member"}

elevated_actions := {"event.emit", "webhook.manage", "webhook.read", "audit.read", "job.manage"}

staff_actions := {"sequence.manage"}

member_actions := {"sequence.enroll", "dashboard.read", "notification.use"}

allow if {
	input.action in elevated_actions
	input.role in elevated
}

allow if {
	input.action in staff_actions
	input.role in staff
}

allow if {
	input.action in member_actions
	input.role in members
}
`

// OPAAuthorizer evaluates a Rego policy prepared once at construction.
type OPAAuthorizer struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewOPAAuthorizer compiles policy (DefaultPolicy when empty). The policy must define
// data.flowcrm.authz.allow.
func NewOPAAuthorizer(ctx context.Context, policy string, logger *zap.Logger) (*OPAAuthorizer, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q, err := rego.New(
		rego.Query(defaultPolicyQuery),
		rego.Module("authz.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile: %w", err)
	}
	return &OPAAuthorizer{query: q, logger: logger}, nil
}

// Allow evaluates the policy for role and action. An undefined result denies.
func (a *OPAAuthorizer) Allow(ctx context.Context, role string, action Action) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":   role,
		"action": string(action),
	}))
	if err != nil {
		a.logger.Error("policy evaluation failed", zap.String("role", role), zap.String("action", string(action)), zap.Error(err))
		return false, fmt.Errorf("policy: eval: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck runs one evaluation that the default policy allows.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	rs, err := a.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":   "owner",
		"action": string(ActionReadDashboard),
	}))
	if err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}
