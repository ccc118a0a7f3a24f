package rbac

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"flowcrm/backend/internal/membership/domain"
	"flowcrm/backend/internal/policy/engine"
	"flowcrm/backend/internal/server/interceptors"
)

// mockMembershipGetter implements OrgMembershipGetter for tests.
type mockMembershipGetter struct {
	memberships map[string]*domain.Membership
	err         error
}

func (m *mockMembershipGetter) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.memberships[userID+":"+orgID], nil
}

type stubAuthorizer struct {
	allow bool
	err   error
}

func (s stubAuthorizer) Allow(ctx context.Context, role string, action engine.Action) (bool, error) {
	return s.allow, s.err
}

func getter(role domain.Role) *mockMembershipGetter {
	return &mockMembershipGetter{memberships: map[string]*domain.Membership{
		"user-1:org-1": {ID: "m1", UserID: "user-1", OrgID: "org-1", Role: role},
	}}
}

func TestRequireOrgMember_Success(t *testing.T) {
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "org-1", "session-1")
	c, err := RequireOrgMember(ctx, getter(domain.RoleMember))
	if err != nil {
		t.Fatalf("RequireOrgMember: %v", err)
	}
	if c.OrgID != "org-1" || c.UserID != "user-1" || c.Role != domain.RoleMember {
		t.Errorf("caller = %+v", c)
	}
}

func TestRequireOrgMember_Errors(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		getter *mockMembershipGetter
		code   codes.Code
	}{
		{"no identity", context.Background(), getter(domain.RoleOwner), codes.Unauthenticated},
		{"empty org", interceptors.WithIdentity(context.Background(), "user-1", "", ""), getter(domain.RoleOwner), codes.Unauthenticated},
		{"not a member", interceptors.WithIdentity(context.Background(), "user-2", "org-1", ""), getter(domain.RoleOwner), codes.PermissionDenied},
		{"lookup fails", interceptors.WithIdentity(context.Background(), "user-1", "org-1", ""), &mockMembershipGetter{err: errors.New("db down")}, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RequireOrgMember(tt.ctx, tt.getter)
			if status.Code(err) != tt.code {
				t.Errorf("code = %v, want %v (err %v)", status.Code(err), tt.code, err)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "org-1", "session-1")

	c, err := Require(ctx, getter(domain.RoleAdmin), stubAuthorizer{allow: true}, engine.ActionManageWebhook)
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	if c.Role != domain.RoleAdmin {
		t.Errorf("Role = %q, want admin", c.Role)
	}

	_, err = Require(ctx, getter(domain.RoleMember), stubAuthorizer{}, engine.ActionManageWebhook)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("denied: code = %v, want PermissionDenied", status.Code(err))
	}

	_, err = Require(ctx, getter(domain.RoleMember), stubAuthorizer{err: errors.New("boom")}, engine.ActionManageWebhook)
	if status.Code(err) != codes.Internal {
		t.Errorf("policy error: code = %v, want Internal", status.Code(err))
	}
}

func TestRequire_WithDefaultPolicy(t *testing.T) {
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "org-1", "session-1")
	authz, err := engine.NewOPAAuthorizer(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	if _, err := Require(ctx, getter(domain.RoleManager), authz, engine.ActionReadAudit); status.Code(err) != codes.PermissionDenied {
		t.Errorf("manager reading audit: code = %v, want PermissionDenied", status.Code(err))
	}
	if _, err := Require(ctx, getter(domain.RoleOwner), authz, engine.ActionReadAudit); err != nil {
		t.Errorf("owner reading audit: %v", err)
	}
}
