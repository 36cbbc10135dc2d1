package pg

import (
	"context"
	"database/sql"
	"fmt"

	"telemetra.io/internal/auth"
)

type membershipStore struct{ tx *sql.Tx }

func scanMembership(row interface{ Scan(...any) error }) (auth.Membership, error) {
	var (
		m    auth.Membership
		role string
	)
	if err := row.Scan(&m.IdentityID, &m.CompanyID, &role, &m.CreatedAt); err != nil {
		return auth.Membership{}, err
	}
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return auth.Membership{}, fmt.Errorf("pg: membership %d/%d: %w", m.IdentityID, m.CompanyID, err)
	}
	m.Role = parsed
	return m, nil
}

func (s membershipStore) Find(ctx context.Context, identityID, companyID int64) (auth.Membership, error) {
	m, err := scanMembership(s.tx.QueryRowContext(ctx, `
		select identity_id, company_id, role, created_at
		from memberships
		where identity_id = $1 and company_id = $2
	`, identityID, companyID))
	if err != nil {
		return auth.Membership{}, mapError(err)
	}
	return m, nil
}

func (s membershipStore) ListByIdentity(ctx context.Context, identityID int64) ([]auth.Membership, error) {
	rows, err := s.tx.QueryContext(ctx, `
		select identity_id, company_id, role, created_at
		from memberships
		where identity_id = $1
		order by company_id
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s membershipStore) Create(ctx context.Context, m *auth.Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role", auth.ErrInvalidInput)
	}
	err := s.tx.QueryRowContext(ctx, `
		insert into memberships (identity_id, company_id, role)
		values ($1, $2, $3)
		returning created_at
	`, m.IdentityID, m.CompanyID, m.Role.String()).Scan(&m.CreatedAt)
	return mapError(err)
}

type companyStore struct{ tx *sql.Tx }

const companyColumns = `id, name, address, coalesce(admin_identity_id, 0), created_at, updated_at`

func scanCompany(row interface{ Scan(...any) error }) (auth.Company, error) {
	var c auth.Company
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.AdminIdentityID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s companyStore) Find(ctx context.Context, id int64) (auth.Company, error) {
	c, err := scanCompany(s.tx.QueryRowContext(ctx, `
		select `+companyColumns+`
		from companies
		where id = $1
	`, id))
	if err != nil {
		return auth.Company{}, mapError(err)
	}
	return c, nil
}

func (s companyStore) List(ctx context.Context, ids []int64, page auth.Page) ([]auth.Company, error) {
	rows, err := s.tx.QueryContext(ctx, `
		select `+companyColumns+`
		from companies
		where id = any($1)
		order by id
		limit $2 offset $3
	`, ids, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s companyStore) Create(ctx context.Context, c *auth.Company) error {
	created, err := scanCompany(s.tx.QueryRowContext(ctx, `
		insert into companies (name, address)
		values ($1, $2)
		returning `+companyColumns+`
	`, c.Name, c.Address))
	if err != nil {
		return mapError(err)
	}
	*c = created
	return nil
}

func (s companyStore) SetAdmin(ctx context.Context, companyID, identityID int64) error {
	res, err := s.tx.ExecContext(ctx, `
		update companies
		set admin_identity_id = $2, updated_at = now()
		where id = $1
	`, companyID, identityID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
