package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubHandle struct {
	memberships []Membership
	companies   map[int64]Company
	equipment   map[int64]Equipment
	fail        error
}

func (h *stubHandle) Identities() IdentityStore    { return &stubIdentityStore{} }
func (h *stubHandle) Memberships() MembershipStore { return stubMemberships{h} }
func (h *stubHandle) Companies() CompanyStore      { return stubCompanies{h} }
func (h *stubHandle) Equipment() EquipmentStore    { return stubEquipment{h} }
func (h *stubHandle) Readings() ReadingStore       { return nil }
func (h *stubHandle) Commit() error                { return nil }
func (h *stubHandle) Release()                     {}

type stubMemberships struct{ h *stubHandle }

func (s stubMemberships) Find(_ context.Context, identityID, companyID int64) (Membership, error) {
	if s.h.fail != nil {
		return Membership{}, s.h.fail
	}
	for _, m := range s.h.memberships {
		if m.IdentityID == identityID && m.CompanyID == companyID {
			return m, nil
		}
	}
	return Membership{}, ErrNotFound
}

func (s stubMemberships) ListByIdentity(_ context.Context, identityID int64) ([]Membership, error) {
	if s.h.fail != nil {
		return nil, s.h.fail
	}
	var out []Membership
	for _, m := range s.h.memberships {
		if m.IdentityID == identityID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s stubMemberships) Create(context.Context, *Membership) error { return nil }

type stubCompanies struct{ h *stubHandle }

func (s stubCompanies) Find(_ context.Context, id int64) (Company, error) {
	if c, ok := s.h.companies[id]; ok {
		return c, nil
	}
	return Company{}, ErrNotFound
}
func (s stubCompanies) List(context.Context, []int64, Page) ([]Company, error) { return nil, nil }
func (s stubCompanies) Create(context.Context, *Company) error                 { return nil }
func (s stubCompanies) SetAdmin(context.Context, int64, int64) error           { return nil }

type stubEquipment struct{ h *stubHandle }

func (s stubEquipment) Find(_ context.Context, id int64) (Equipment, error) {
	if e, ok := s.h.equipment[id]; ok {
		return e, nil
	}
	return Equipment{}, ErrNotFound
}
func (s stubEquipment) List(context.Context, []int64, Page) ([]Equipment, error) { return nil, nil }
func (s stubEquipment) Create(context.Context, *Equipment) error                 { return nil }

const (
	companyA int64 = 10
	companyB int64 = 20
	companyC int64 = 30
)

func newGateFixture() (*stubHandle, Identity, Identity) {
	user := Identity{ID: 1, Handle: "user@example.com", Active: true}
	admin := Identity{ID: 2, Handle: "admin@example.com", Active: true}
	h := &stubHandle{
		memberships: []Membership{
			{IdentityID: user.ID, CompanyID: companyB, Role: RoleUser},
			{IdentityID: user.ID, CompanyID: companyA, Role: RoleUser},
			{IdentityID: admin.ID, CompanyID: companyA, Role: RoleAdmin},
			{IdentityID: admin.ID, CompanyID: companyC, Role: RoleUser},
		},
		companies: map[int64]Company{
			companyA: {ID: companyA, Name: "A"},
			companyB: {ID: companyB, Name: "B"},
			companyC: {ID: companyC, Name: "C"},
		},
		equipment: map[int64]Equipment{
			100: {ID: 100, CompanyID: companyA, Code: "pump-1"},
			300: {ID: 300, CompanyID: companyC, Code: "press-9"},
		},
	}
	return h, user, admin
}

func TestGateScopeTenants(t *testing.T) {
	h, user, _ := newGateFixture()
	gate := NewGate(h)
	ctx := context.Background()

	scope, err := gate.ScopeTenants(ctx, user)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if !reflect.DeepEqual(scope, []int64{companyA, companyB}) {
		t.Fatalf("unexpected scope %v", scope)
	}

	ok, err := gate.AuthorizeEquipmentAccess(ctx, user, h.equipment[300])
	if err != nil || ok {
		t.Fatalf("equipment in C must not be accessible: %v %v", ok, err)
	}
	ok, err = gate.AuthorizeEquipmentAccess(ctx, user, h.equipment[100])
	if err != nil || !ok {
		t.Fatalf("equipment in A must be accessible: %v %v", ok, err)
	}

	empty, err := gate.ScopeTenants(ctx, Identity{})
	if err != nil || len(empty) != 0 {
		t.Fatalf("anonymous identity must see nothing: %v %v", empty, err)
	}
}

func TestGateAdminRegistration(t *testing.T) {
	h, user, admin := newGateFixture()
	gate := NewGate(h)
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   Identity
		company int64
		want    bool
	}{
		{"user in A", user, companyA, false},
		{"admin in A", admin, companyA, true},
		{"admin of A acting on B", admin, companyB, false},
		{"user role in C", admin, companyC, false},
		{"unknown company", admin, 999, false},
	}
	for _, tc := range cases {
		got, err := gate.AuthorizeAdminRegistration(ctx, tc.actor, tc.company)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGateHasRoleRejectsUnknownRole(t *testing.T) {
	h, user, _ := newGateFixture()
	if _, err := NewGate(h).HasRole(context.Background(), user, companyA, Role(42)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGateRequireCompany(t *testing.T) {
	h, user, _ := newGateFixture()
	gate := NewGate(h)
	ctx := context.Background()

	c, err := gate.RequireCompany(ctx, user, companyA)
	if err != nil || c.Name != "A" {
		t.Fatalf("expected company A, got %+v %v", c, err)
	}
	if _, err := gate.RequireCompany(ctx, user, companyC); !errors.Is(err, ErrForbidden) {
		t.Fatalf("inaccessible company: expected forbidden, got %v", err)
	}
	if _, err := gate.RequireCompany(ctx, user, 12345); !errors.Is(err, ErrForbidden) {
		t.Fatalf("missing company: expected forbidden, got %v", err)
	}
	if _, err := gate.RequireCompany(ctx, user, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid id: expected not found, got %v", err)
	}
}

func TestGateRequireEquipment(t *testing.T) {
	h, user, _ := newGateFixture()
	gate := NewGate(h)
	ctx := context.Background()

	if _, err := gate.RequireEquipment(ctx, user, 100); err != nil {
		t.Fatalf("expected access to equipment 100: %v", err)
	}
	for _, id := range []int64{300, 777} {
		if _, err := gate.RequireEquipment(ctx, user, id); !errors.Is(err, ErrForbidden) {
			t.Fatalf("equipment %d: expected forbidden, got %v", id, err)
		}
	}
	if _, err := gate.RequireEquipment(ctx, user, -1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid id: expected not found, got %v", err)
	}
}

func TestGatePropagatesStoreFaults(t *testing.T) {
	h, user, _ := newGateFixture()
	h.fail = errors.New("db down")
	gate := NewGate(h)
	if _, err := gate.ScopeTenants(context.Background(), user); !errors.Is(err, h.fail) {
		t.Fatalf("expected store fault, got %v", err)
	}
	if _, err := gate.HasAnyMembership(context.Background(), user, companyA); !errors.Is(err, h.fail) {
		t.Fatalf("expected store fault, got %v", err)
	}
}
