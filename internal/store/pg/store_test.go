package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetra.io/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestFindByHandle(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`from identities\s+where email = \$1`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "is_active", "created_at", "updated_at"}).
			AddRow(int64(7), "a@example.com", "A", "hash", true, now, now))
	mock.ExpectQuery(`from identities\s+where email = \$1`).
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	id, err := h.Identities().FindByHandle(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id.ID)
	assert.True(t, id.Active)

	_, err = h.Identities().FindByHandle(ctx, "missing@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	h.Release()
	h.Release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIdentityConflict(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into identities`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "identities_email_key"})
	mock.ExpectRollback()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	err = h.Identities().Create(ctx, &auth.Identity{Handle: "a@example.com", Name: "A", PasswordHash: "x", Active: true})
	assert.ErrorIs(t, err, auth.ErrConflict)
	h.Release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSkipsRollback(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into memberships`).
		WithArgs(int64(1), int64(2), "admin").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	m := auth.Membership{IdentityID: 1, CompanyID: 2, Role: auth.RoleAdmin}
	require.NoError(t, h.Memberships().Create(ctx, &m))
	assert.Equal(t, now, m.CreatedAt)
	require.NoError(t, h.Commit())
	h.Release()
	assert.ErrorIs(t, h.Commit(), sql.ErrTxDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipWithUnknownRoleIsAnError(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`from memberships`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "company_id", "role", "created_at"}).
			AddRow(int64(1), int64(2), "owner", time.Now()))
	mock.ExpectRollback()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()
	_, err = h.Memberships().Find(ctx, 1, 2)
	require.Error(t, err)
	assert.False(t, errors.Is(err, auth.ErrNotFound))
}

func TestAppendReadingsBuildsMultiRowInsert(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into sensor_readings \(equipment_id, recorded_at, value\) values \(\$1, \$2, \$3\), \(\$1, \$4, \$5\)`).
		WithArgs(int64(9), ts, 1.5, ts.Add(time.Second), 2.5).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`insert into sensor_readings`).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()
	n, err := h.Readings().Append(ctx, 9, []auth.SensorReading{
		{Timestamp: ts, Value: 1.5},
		{Timestamp: ts.Add(time.Second), Value: 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.Readings().Append(ctx, 404, []auth.SensorReading{{Timestamp: ts, Value: 1}})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSetAdminMissingCompany(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`update companies`).WithArgs(int64(5), int64(6)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()
	assert.ErrorIs(t, h.Companies().SetAdmin(ctx, 5, 6), auth.ErrNotFound)
}
