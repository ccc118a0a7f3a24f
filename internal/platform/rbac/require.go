package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"flowcrm/backend/internal/membership/domain"
	"flowcrm/backend/internal/policy/engine"
	"flowcrm/backend/internal/server/interceptors"
)

// OrgMembershipGetter returns a user's membership in an org. Used to resolve the caller's role.
type OrgMembershipGetter interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// Caller is the authenticated user acting in the context org.
type Caller struct {
	OrgID  string
	UserID string
	Role   domain.Role
}

// RequireOrgMember ensures the caller is authenticated and is a member of the context org (any role).
// Returns a gRPC error (Unauthenticated, PermissionDenied or Internal) on failure.
func RequireOrgMember(ctx context.Context, getter OrgMembershipGetter) (Caller, error) {
	orgID, okOrg := interceptors.GetOrgID(ctx)
	userID, okUser := interceptors.GetUserID(ctx)
	if !okOrg || orgID == "" || !okUser || userID == "" {
		return Caller{}, status.Error(codes.Unauthenticated, "org and user context required")
	}
	m, err := getter.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return Caller{}, status.Error(codes.Internal, "failed to resolve membership")
	}
	if m == nil {
		return Caller{}, status.Error(codes.PermissionDenied, "not a member of this organization")
	}
	return Caller{OrgID: orgID, UserID: userID, Role: m.Role}, nil
}

// Require resolves the caller like RequireOrgMember and then asks authz whether the
// caller's role may perform action.
func Require(ctx context.Context, getter OrgMembershipGetter, authz engine.Authorizer, action engine.Action) (Caller, error) {
	c, err := RequireOrgMember(ctx, getter)
	if err != nil {
		return Caller{}, err
	}
	ok, err := authz.Allow(ctx, string(c.Role), action)
	if err != nil {
		return Caller{}, status.Error(codes.Internal, "failed to evaluate policy")
	}
	if !ok {
		return Caller{}, status.Errorf(codes.PermissionDenied, "role %s may not %s", c.Role, action)
	}
	return c, nil
}
