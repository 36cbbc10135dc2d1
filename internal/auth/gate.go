package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Gate answers tenant-scoped authorization questions for one unit of work.
// Every decision goes through the identity's memberships; there are no
// direct identity to equipment grants.
type Gate struct {
	memberships MembershipStore
	companies   CompanyStore
	equipment   EquipmentStore
}

// NewGate builds a Gate over the sub-stores of h.
func NewGate(h Handle) Gate {
	return Gate{
		memberships: h.Memberships(),
		companies:   h.Companies(),
		equipment:   h.Equipment(),
	}
}

func (g Gate) membership(ctx context.Context, identity Identity, companyID int64) (Membership, bool, error) {
	if identity.ID <= 0 || companyID <= 0 {
		return Membership{}, false, nil
	}
	m, err := g.memberships.Find(ctx, identity.ID, companyID)
	if errors.Is(err, ErrNotFound) {
		return Membership{}, false, nil
	}
	if err != nil {
		return Membership{}, false, err
	}
	return m, true, nil
}

// HasAnyMembership reports whether identity holds any role in companyID.
func (g Gate) HasAnyMembership(ctx context.Context, identity Identity, companyID int64) (bool, error) {
	m, ok, err := g.membership(ctx, identity, companyID)
	if err != nil || !ok {
		return false, err
	}
	return m.Role.Valid(), nil
}

// HasRole reports whether identity holds exactly role in companyID.
func (g Gate) HasRole(ctx context.Context, identity Identity, companyID int64, role Role) (bool, error) {
	switch role {
	case RoleAdmin, RoleUser:
	default:
		return false, fmt.Errorf("%w: role %v", ErrInvalidInput, role)
	}
	m, ok, err := g.membership(ctx, identity, companyID)
	if err != nil || !ok {
		return false, err
	}
	switch m.Role {
	case RoleAdmin, RoleUser:
		return m.Role == role, nil
	default:
		return false, nil
	}
}

// ScopeTenants returns the ids of every company visible to identity, in
// ascending order. Listing queries must filter by this set.
func (g Gate) ScopeTenants(ctx context.Context, identity Identity) ([]int64, error) {
	if identity.ID <= 0 {
		return []int64{}, nil
	}
	list, err := g.memberships.ListByIdentity(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(list))
	out := make([]int64, 0, len(list))
	for _, m := range list {
		if !m.Role.Valid() {
			continue
		}
		if _, dup := seen[m.CompanyID]; dup {
			continue
		}
		seen[m.CompanyID] = struct{}{}
		out = append(out, m.CompanyID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// AuthorizeEquipmentAccess is true iff identity is a member of the company
// owning equipment.
func (g Gate) AuthorizeEquipmentAccess(ctx context.Context, identity Identity, equipment Equipment) (bool, error) {
	return g.HasAnyMembership(ctx, identity, equipment.CompanyID)
}

// AuthorizeAdminRegistration is true iff actor is an admin of companyID.
func (g Gate) AuthorizeAdminRegistration(ctx context.Context, actor Identity, companyID int64) (bool, error) {
	return g.HasRole(ctx, actor, companyID, RoleAdmin)
}

// RequireCompany loads a company the identity may see. A company that does
// not exist and one that is not visible both yield ErrForbidden; only a
// non-positive id, which can never name a company, yields ErrNotFound.
func (g Gate) RequireCompany(ctx context.Context, identity Identity, companyID int64) (Company, error) {
	if companyID <= 0 {
		return Company{}, ErrNotFound
	}
	ok, err := g.HasAnyMembership(ctx, identity, companyID)
	if err != nil {
		return Company{}, err
	}
	if !ok {
		return Company{}, ErrForbidden
	}
	company, err := g.companies.Find(ctx, companyID)
	if errors.Is(err, ErrNotFound) {
		return Company{}, ErrForbidden
	}
	if err != nil {
		return Company{}, err
	}
	return company, nil
}

// RequireEquipment loads equipment through its owning company, with the
// same existence rules as RequireCompany.
func (g Gate) RequireEquipment(ctx context.Context, identity Identity, equipmentID int64) (Equipment, error) {
	if equipmentID <= 0 {
		return Equipment{}, ErrNotFound
	}
	equipment, err := g.equipment.Find(ctx, equipmentID)
	if errors.Is(err, ErrNotFound) {
		return Equipment{}, ErrForbidden
	}
	if err != nil {
		return Equipment{}, err
	}
	ok, err := g.AuthorizeEquipmentAccess(ctx, identity, equipment)
	if err != nil {
		return Equipment{}, err
	}
	if !ok {
		return Equipment{}, ErrForbidden
	}
	return equipment, nil
}

// RequireRole fails with ErrForbidden unless identity holds role in companyID.
func (g Gate) RequireRole(ctx context.Context, identity Identity, companyID int64, role Role) error {
	ok, err := g.HasRole(ctx, identity, companyID, role)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
