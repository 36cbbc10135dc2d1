package pg

import (
	"context"
	"database/sql"

	"telemetra.io/internal/auth"
)

type identityStore struct{ tx *sql.Tx }

const identityColumns = `id, email, name, password_hash, is_active, created_at, updated_at`

func scanIdentity(row interface{ Scan(...any) error }) (auth.Identity, error) {
	var id auth.Identity
	err := row.Scan(&id.ID, &id.Handle, &id.Name, &id.PasswordHash, &id.Active, &id.CreatedAt, &id.UpdatedAt)
	return id, err
}

func (s identityStore) FindByHandle(ctx context.Context, handle string) (auth.Identity, error) {
	id, err := scanIdentity(s.tx.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where email = $1
	`, handle))
	if err != nil {
		return auth.Identity{}, mapError(err)
	}
	return id, nil
}

func (s identityStore) Find(ctx context.Context, identityID int64) (auth.Identity, error) {
	id, err := scanIdentity(s.tx.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where id = $1
	`, identityID))
	if err != nil {
		return auth.Identity{}, mapError(err)
	}
	return id, nil
}

func (s identityStore) Create(ctx context.Context, identity *auth.Identity) error {
	created, err := scanIdentity(s.tx.QueryRowContext(ctx, `
		insert into identities (email, name, password_hash, is_active)
		values ($1, $2, $3, $4)
		returning `+identityColumns+`
	`, identity.Handle, identity.Name, identity.PasswordHash, identity.Active))
	if err != nil {
		return mapError(err)
	}
	*identity = created
	return nil
}
