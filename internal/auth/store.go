package auth

import (
	"context"
	"time"
)

// Store hands out one unit of work per operation. Every Handle returned by
// Acquire must be released; Release rolls back anything not committed.
type Store interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Handle scopes the sub-stores to a single unit of work.
type Handle interface {
	Identities() IdentityStore
	Memberships() MembershipStore
	Companies() CompanyStore
	Equipment() EquipmentStore
	Readings() ReadingStore
	Commit() error
	Release()
}

// IdentityStore manages identities.
type IdentityStore interface {
	FindByHandle(ctx context.Context, handle string) (Identity, error)
	Find(ctx context.Context, id int64) (Identity, error)
	Create(ctx context.Context, identity *Identity) error
}

// MembershipStore manages the identity-company relation.
type MembershipStore interface {
	Find(ctx context.Context, identityID, companyID int64) (Membership, error)
	ListByIdentity(ctx context.Context, identityID int64) ([]Membership, error)
	Create(ctx context.Context, m *Membership) error
}

// CompanyStore manages companies.
type CompanyStore interface {
	Find(ctx context.Context, id int64) (Company, error)
	List(ctx context.Context, ids []int64, page Page) ([]Company, error)
	Create(ctx context.Context, c *Company) error
	SetAdmin(ctx context.Context, companyID, identityID int64) error
}

// EquipmentStore manages equipment.
type EquipmentStore interface {
	Find(ctx context.Context, id int64) (Equipment, error)
	List(ctx context.Context, companyIDs []int64, page Page) ([]Equipment, error)
	Create(ctx context.Context, e *Equipment) error
}

// ReadingStore manages sensor readings.
type ReadingStore interface {
	List(ctx context.Context, equipmentID int64, page Page) ([]SensorReading, int, error)
	Append(ctx context.Context, equipmentID int64, readings []SensorReading) (int, error)
}

// RevocationLedger records refresh tokens that must never rotate again.
// Implementations key entries by TokenDigest and may forget an entry once
// expiresAt has passed.
type RevocationLedger interface {
	Contains(ctx context.Context, token string) (bool, error)
	Add(ctx context.Context, token string, expiresAt time.Time) error
	// Consume inserts token if absent and reports whether this caller
	// inserted it. Exactly one concurrent caller observes true.
	Consume(ctx context.Context, token string, expiresAt time.Time) (bool, error)
}
