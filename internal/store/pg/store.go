package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"telemetra.io/internal/auth"
)

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store on PostgreSQL. Each Acquire opens a
// transaction; Release rolls it back unless it was committed.
type Store struct {
	db *sql.DB
}

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool is used by Open when no pool settings are supplied.
var DefaultPool = PoolConfig{
	MaxOpenConns:    50,
	MaxIdleConns:    25,
	ConnMaxLifetime: 15 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
}

// Open connects through the pgx stdlib driver. The connection is not
// verified; call Ping for that.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pg: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool == (PoolConfig{}) {
		pool = DefaultPool
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return &Store{db: db}, nil
}

// New wraps an existing handle, mostly for tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Acquire(ctx context.Context) (auth.Handle, error) {
	if s.db == nil {
		return nil, errors.New("pg: database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &handle{tx: tx}, nil
}

type handle struct {
	tx   *sql.Tx
	done bool
}

func (h *handle) Identities() auth.IdentityStore    { return identityStore{h.tx} }
func (h *handle) Memberships() auth.MembershipStore { return membershipStore{h.tx} }
func (h *handle) Companies() auth.CompanyStore      { return companyStore{h.tx} }
func (h *handle) Equipment() auth.EquipmentStore    { return equipmentStore{h.tx} }
func (h *handle) Readings() auth.ReadingStore       { return readingStore{h.tx} }

func (h *handle) Commit() error {
	if h.done {
		return sql.ErrTxDone
	}
	h.done = true
	return mapError(h.tx.Commit())
}

func (h *handle) Release() {
	if h.done {
		return
	}
	h.done = true
	_ = h.tx.Rollback()
}
