package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcrm/backend/internal/user/domain"
)

var userCols = []string{"id", "email", "name", "status", "created_at", "updated_at"}

func TestPostgresRepository_GetByEmail(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewPostgresRepository(conn)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@example.com", nil, "active", now, now))
	u, err := repo.GetByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, domain.UserStatusActive, u.Status)
	assert.Equal(t, "a@example.com", u.DisplayName(), "display name falls back to email")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)
	u, err = repo.GetByEmail(context.Background(), "missing@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByID_DBError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs("u1").
		WillReturnError(errors.New("connection reset"))
	u, err := NewPostgresRepository(conn).GetByID(context.Background(), "u1")
	require.Error(t, err)
	assert.Nil(t, u)
}

func TestPostgresRepository_Create(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewPostgresRepository(conn)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("u1", "a@example.com", sql.NullString{String: "Ada", Valid: true}, "active", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), &domain.User{ID: "u1", Email: "a@example.com", Name: "Ada", CreatedAt: now, UpdatedAt: now}))

	err = repo.Create(context.Background(), &domain.User{ID: "u2"})
	require.Error(t, err, "email is required")
	assert.NoError(t, mock.ExpectationsWereMet())
}
