package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcrm/backend/internal/membership/domain"
)

func TestPostgresRepository_GetMembershipByUserAndOrg(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewPostgresRepository(conn)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM memberships WHERE user_id = $1 AND org_id = $2`)).
		WithArgs("u1", "o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "org_id", "role", "created_at"}).
			AddRow("m1", "u1", "o1", "admin", now))
	m, err := repo.GetMembershipByUserAndOrg(context.Background(), "u1", "o1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, domain.RoleAdmin, m.Role)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM memberships WHERE user_id = $1 AND org_id = $2`)).
		WithArgs("u2", "o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "org_id", "role", "created_at"}))
	m, err = repo.GetMembershipByUserAndOrg(context.Background(), "u2", "o1")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListMembershipsByOrg(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewPostgresRepository(conn)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM memberships WHERE org_id = $1`)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "org_id", "role", "created_at"}).
			AddRow("m1", "u1", "o1", "owner", now).
			AddRow("m2", "u2", "o1", "member", now))
	list, err := repo.ListMembershipsByOrg(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u2", list[1].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateMembership_RejectsUnknownRole(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewPostgresRepository(conn)

	err = repo.CreateMembership(context.Background(), &domain.Membership{ID: "m1", UserID: "u1", OrgID: "o1", Role: "emperor"})
	assert.Error(t, err)
}

func TestRole_Predicates(t *testing.T) {
	tests := []struct {
		role       domain.Role
		elevated   bool
		tenantWide bool
	}{
		{domain.RoleOwner, true, true},
		{domain.RoleAdmin, true, true},
		{domain.RoleManager, false, true},
		{domain.RoleMember, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.elevated, tt.role.Elevated(), "Elevated(%s)", tt.role)
		assert.Equal(t, tt.tenantWide, tt.role.TenantWide(), "TenantWide(%s)", tt.role)
		assert.True(t, tt.role.Valid())
	}
}
