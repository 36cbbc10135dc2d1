package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetra.io/internal/auth"
)

func TestLedgerConsumeReportsWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)
	l, err := NewLedger(db, func() time.Time { return now })
	require.NoError(t, err)
	digest := auth.TokenDigest("refresh-token")

	mock.ExpectExec(`insert into revoked_refresh_tokens`).
		WithArgs(digest, exp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into revoked_refresh_tokens`).
		WithArgs(digest, exp).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select exists`).
		WithArgs(digest, now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	won, err := l.Consume(context.Background(), "refresh-token", exp)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = l.Consume(context.Background(), "refresh-token", exp)
	require.NoError(t, err)
	assert.False(t, won)

	ok, err := l.Contains(context.Background(), "refresh-token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerFaultsPropagate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l, err := NewLedger(db, nil)
	require.NoError(t, err)
	boom := errors.New("connection refused")
	mock.ExpectExec(`insert into revoked_refresh_tokens`).WillReturnError(boom)

	_, err = l.Consume(context.Background(), "t", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, boom)
}

func TestLedgerPurgeExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l, err := NewLedger(db, func() time.Time { return now })
	require.NoError(t, err)
	mock.ExpectExec(`delete from revoked_refresh_tokens`).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := l.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
