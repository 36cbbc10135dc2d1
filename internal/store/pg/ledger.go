package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telemetra.io/internal/auth"
)

var _ auth.RevocationLedger = (*Ledger)(nil)

// Ledger is a RevocationLedger backed by the revoked_refresh_tokens table.
// Consume relies on the primary key so that concurrent callers across
// processes race on a single insert.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger builds a ledger on db. now may be nil.
func NewLedger(db *sql.DB, now func() time.Time) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("pg: ledger requires a database")
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{db: db, now: now}, nil
}

func (l *Ledger) Contains(ctx context.Context, token string) (bool, error) {
	var found bool
	err := l.db.QueryRowContext(ctx, `
		select exists (
			select 1 from revoked_refresh_tokens
			where digest = $1 and expires_at > $2
		)
	`, auth.TokenDigest(token), l.now().UTC()).Scan(&found)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (l *Ledger) Add(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := l.Consume(ctx, token, expiresAt)
	return err
}

func (l *Ledger) Consume(ctx context.Context, token string, expiresAt time.Time) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		insert into revoked_refresh_tokens (digest, expires_at)
		values ($1, $2)
		on conflict (digest) do nothing
	`, auth.TokenDigest(token), expiresAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PurgeExpired deletes entries whose token can no longer parse and returns
// how many were removed.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		delete from revoked_refresh_tokens where expires_at <= $1
	`, l.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
