package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetra.io/internal/auth"
)

func TestUncommittedWritesAreDiscarded(t *testing.T) {
	s := New()
	ctx := context.Background()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	id := auth.Identity{Handle: "a@example.com", Name: "A", Active: true}
	require.NoError(t, h.Identities().Create(ctx, &id))
	h.Release()

	h, err = s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()
	_, err = h.Identities().FindByHandle(ctx, "a@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.Equal(t, 1, s.Outstanding())
}

func TestCommitAppliesStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	c := auth.Company{Name: "Acme"}
	require.NoError(t, h.Companies().Create(ctx, &c))
	id := auth.Identity{Handle: "a@example.com", Name: "A", Active: true}
	require.NoError(t, h.Identities().Create(ctx, &id))
	require.NoError(t, h.Memberships().Create(ctx, &auth.Membership{IdentityID: id.ID, CompanyID: c.ID, Role: auth.RoleAdmin}))
	require.NoError(t, h.Companies().SetAdmin(ctx, c.ID, id.ID))
	require.NoError(t, h.Commit())
	h.Release()
	h.Release()

	assert.Equal(t, 0, s.Outstanding())

	h, err = s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()
	got, err := h.Companies().Find(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.AdminIdentityID)
	m, err := h.Memberships().Find(ctx, id.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, m.Role)
}

func TestConflictsSurfaceAtCallSite(t *testing.T) {
	s := New()
	ctx := context.Background()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	c := auth.Company{Name: "Acme"}
	require.NoError(t, h.Companies().Create(ctx, &c))
	require.NoError(t, h.Identities().Create(ctx, &auth.Identity{Handle: "a@example.com"}))
	err = h.Identities().Create(ctx, &auth.Identity{Handle: "a@example.com"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	require.NoError(t, h.Equipment().Create(ctx, &auth.Equipment{CompanyID: c.ID, Code: "pump-1"}))
	err = h.Equipment().Create(ctx, &auth.Equipment{CompanyID: c.ID, Code: "pump-1"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	err = h.Equipment().Create(ctx, &auth.Equipment{CompanyID: 999, Code: "x"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	err = h.Memberships().Create(ctx, &auth.Membership{IdentityID: 999, CompanyID: c.ID, Role: auth.RoleUser})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestConcurrentCommitsDetectDuplicateHandle(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, _ := s.Acquire(ctx)
	b, _ := s.Acquire(ctx)
	defer a.Release()
	defer b.Release()

	require.NoError(t, a.Identities().Create(ctx, &auth.Identity{Handle: "dup@example.com"}))
	require.NoError(t, b.Identities().Create(ctx, &auth.Identity{Handle: "dup@example.com"}))
	require.NoError(t, a.Commit())
	assert.True(t, errors.Is(b.Commit(), auth.ErrConflict))
}

func TestReadingsNewestFirstWithTotal(t *testing.T) {
	s := New()
	ctx := context.Background()

	h, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()
	c := auth.Company{Name: "Acme"}
	require.NoError(t, h.Companies().Create(ctx, &c))
	e := auth.Equipment{CompanyID: c.ID, Code: "pump-1"}
	require.NoError(t, h.Equipment().Create(ctx, &e))
	require.NoError(t, h.Commit())

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	n, err := h.Readings().Append(ctx, e.ID, []auth.SensorReading{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(2 * time.Minute), Value: 3},
		{Timestamp: base.Add(time.Minute), Value: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, h.Commit())

	items, total, err := h.Readings().List(ctx, e.ID, auth.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, 3.0, items[0].Value)
	assert.Equal(t, 2.0, items[1].Value)

	items, total, err = h.Readings().List(ctx, e.ID, auth.Page{Limit: 2, Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, items)

	_, err = h.Readings().Append(ctx, 12345, []auth.SensorReading{{Timestamp: base}})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestAcquireHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
