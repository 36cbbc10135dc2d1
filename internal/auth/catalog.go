package auth

import (
	"context"
	"fmt"
	"math"
	"strings"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// NormalizePage fills in the default limit and clamps out-of-range values.
func NormalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListCompanies returns the companies visible to identity.
func (s *Service) ListCompanies(ctx context.Context, identity Identity, page Page) (out []Company, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		scope, err := NewGate(h).ScopeTenants(ctx, identity)
		if err != nil {
			return err
		}
		if len(scope) == 0 {
			out = []Company{}
			return nil
		}
		out, err = h.Companies().List(ctx, scope, NormalizePage(page))
		return err
	})
	return out, err
}

// GetCompany returns one company if identity is a member of it.
func (s *Service) GetCompany(ctx context.Context, identity Identity, companyID int64) (out Company, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		out, err = NewGate(h).RequireCompany(ctx, identity, companyID)
		return err
	})
	return out, err
}

// ListEquipment returns equipment in the companies visible to identity.
// A non-zero companyID narrows the listing to that company and requires
// membership in it.
func (s *Service) ListEquipment(ctx context.Context, identity Identity, companyID int64, page Page) (out []Equipment, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		gate := NewGate(h)
		var scope []int64
		if companyID != 0 {
			if _, err := gate.RequireCompany(ctx, identity, companyID); err != nil {
				return err
			}
			scope = []int64{companyID}
		} else {
			scope, err = gate.ScopeTenants(ctx, identity)
			if err != nil {
				return err
			}
		}
		if len(scope) == 0 {
			out = []Equipment{}
			return nil
		}
		out, err = h.Equipment().List(ctx, scope, NormalizePage(page))
		return err
	})
	return out, err
}

// GetEquipment returns one piece of equipment if identity is a member of
// its company.
func (s *Service) GetEquipment(ctx context.Context, identity Identity, equipmentID int64) (out Equipment, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		out, err = NewGate(h).RequireEquipment(ctx, identity, equipmentID)
		return err
	})
	return out, err
}

// CreateEquipment registers equipment in e.CompanyID; identity must be an
// admin there.
func (s *Service) CreateEquipment(ctx context.Context, identity Identity, e Equipment) (out Equipment, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		if err := NewGate(h).RequireRole(ctx, identity, e.CompanyID, RoleAdmin); err != nil {
			return err
		}
		e.Code = strings.TrimSpace(e.Code)
		e.Name = strings.TrimSpace(e.Name)
		if e.Code == "" {
			return fmt.Errorf("%w: equipment_id is required", ErrInvalidInput)
		}
		if err := h.Equipment().Create(ctx, &e); err != nil {
			return err
		}
		if err := h.Commit(); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// ListReadings returns readings for equipment, newest first, together with
// the total number of readings recorded for it.
func (s *Service) ListReadings(ctx context.Context, identity Identity, equipmentID int64, page Page) (out []SensorReading, total int, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		if _, err := NewGate(h).RequireEquipment(ctx, identity, equipmentID); err != nil {
			return err
		}
		out, total, err = h.Readings().List(ctx, equipmentID, NormalizePage(page))
		return err
	})
	return out, total, err
}

// IngestReadings appends readings to equipment. Ingestion is an admin-only
// action in the owning company.
func (s *Service) IngestReadings(ctx context.Context, identity Identity, equipmentID int64, readings []SensorReading) (n int, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		gate := NewGate(h)
		equipment, err := gate.RequireEquipment(ctx, identity, equipmentID)
		if err != nil {
			return err
		}
		if err := gate.RequireRole(ctx, identity, equipment.CompanyID, RoleAdmin); err != nil {
			return err
		}
		if len(readings) == 0 {
			return fmt.Errorf("%w: readings are required", ErrInvalidInput)
		}
		for i, r := range readings {
			if r.Timestamp.IsZero() {
				return fmt.Errorf("%w: reading %d has no timestamp", ErrInvalidInput, i)
			}
			if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
				return fmt.Errorf("%w: reading %d has a non-finite value", ErrInvalidInput, i)
			}
		}
		inserted, err := h.Readings().Append(ctx, equipmentID, readings)
		if err != nil {
			return err
		}
		if err := h.Commit(); err != nil {
			return err
		}
		n = inserted
		return nil
	})
	return n, err
}
