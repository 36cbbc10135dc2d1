package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"telemetra.io/internal/auth"
)

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store in process memory. Writes made through a
// Handle are staged and applied atomically on Commit.
type Store struct {
	mu    sync.RWMutex
	state *state
	seq   atomic.Int64
	open  atomic.Int64
	now   func() time.Time
}

type equipmentKey struct {
	companyID int64
	code      string
}

type membershipKey struct {
	identityID int64
	companyID  int64
}

type state struct {
	identities  map[int64]auth.Identity
	byHandle    map[string]int64
	companies   map[int64]auth.Company
	memberships map[membershipKey]auth.Membership
	equipment   map[int64]auth.Equipment
	codes       map[equipmentKey]int64
	readings    map[int64][]auth.SensorReading
}

func newState() *state {
	return &state{
		identities:  make(map[int64]auth.Identity),
		byHandle:    make(map[string]int64),
		companies:   make(map[int64]auth.Company),
		memberships: make(map[membershipKey]auth.Membership),
		equipment:   make(map[int64]auth.Equipment),
		codes:       make(map[equipmentKey]int64),
		readings:    make(map[int64][]auth.SensorReading),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.identities {
		out.identities[k] = v
	}
	for k, v := range s.byHandle {
		out.byHandle[k] = v
	}
	for k, v := range s.companies {
		out.companies[k] = v
	}
	for k, v := range s.memberships {
		out.memberships[k] = v
	}
	for k, v := range s.equipment {
		out.equipment[k] = v
	}
	for k, v := range s.codes {
		out.codes[k] = v
	}
	for k, v := range s.readings {
		out.readings[k] = v[:len(v):len(v)]
	}
	return out
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// Outstanding reports how many handles are acquired but not yet released.
func (s *Store) Outstanding() int {
	return int(s.open.Load())
}

func (s *Store) Acquire(ctx context.Context) (auth.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.open.Add(1)
	return &handle{store: s}, nil
}

type op func(*state) error

type handle struct {
	store    *Store
	pending  []op
	released bool
}

func (h *handle) Identities() auth.IdentityStore    { return identityStore{h} }
func (h *handle) Memberships() auth.MembershipStore { return membershipStore{h} }
func (h *handle) Companies() auth.CompanyStore      { return companyStore{h} }
func (h *handle) Equipment() auth.EquipmentStore    { return equipmentStore{h} }
func (h *handle) Readings() auth.ReadingStore       { return readingStore{h} }

func (h *handle) Commit() error {
	if h.released {
		return fmt.Errorf("memory: commit on released handle")
	}
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	for _, fn := range h.pending {
		if err := fn(next); err != nil {
			return err
		}
	}
	s.state = next
	h.pending = nil
	return nil
}

func (h *handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.pending = nil
	h.store.open.Add(-1)
}

func (h *handle) read(fn func(*state)) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	fn(h.store.state)
}

func (h *handle) stage(fn op) error {
	// Dry-run against committed state plus earlier staged writes so
	// conflicts surface at the call site. Commit re-applies everything
	// against the state current at that time.
	var err error
	h.read(func(st *state) {
		scratch := st.clone()
		for _, prev := range h.pending {
			if err = prev(scratch); err != nil {
				return
			}
		}
		err = fn(scratch)
	})
	if err != nil {
		return err
	}
	h.pending = append(h.pending, fn)
	return nil
}

func (h *handle) nextID() int64 { return h.store.seq.Add(1) }

// Identities ---------------------------------------------------------------
type identityStore struct{ h *handle }

func (s identityStore) FindByHandle(_ context.Context, handle string) (auth.Identity, error) {
	var (
		out auth.Identity
		ok  bool
	)
	s.h.read(func(st *state) {
		var id int64
		if id, ok = st.byHandle[handle]; ok {
			out = st.identities[id]
		}
	})
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return out, nil
}

func (s identityStore) Find(_ context.Context, id int64) (auth.Identity, error) {
	var (
		out auth.Identity
		ok  bool
	)
	s.h.read(func(st *state) { out, ok = st.identities[id] })
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return out, nil
}

func (s identityStore) Create(_ context.Context, identity *auth.Identity) error {
	now := s.h.store.now().UTC()
	identity.ID = s.h.nextID()
	identity.CreatedAt, identity.UpdatedAt = now, now
	rec := *identity
	return s.h.stage(func(st *state) error {
		if _, dup := st.byHandle[rec.Handle]; dup {
			return fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
		st.identities[rec.ID] = rec
		st.byHandle[rec.Handle] = rec.ID
		return nil
	})
}

// Memberships --------------------------------------------------------------
type membershipStore struct{ h *handle }

func (s membershipStore) Find(_ context.Context, identityID, companyID int64) (auth.Membership, error) {
	var (
		out auth.Membership
		ok  bool
	)
	s.h.read(func(st *state) { out, ok = st.memberships[membershipKey{identityID, companyID}] })
	if !ok {
		return auth.Membership{}, auth.ErrNotFound
	}
	return out, nil
}

func (s membershipStore) ListByIdentity(_ context.Context, identityID int64) ([]auth.Membership, error) {
	out := []auth.Membership{}
	s.h.read(func(st *state) {
		for k, m := range st.memberships {
			if k.identityID == identityID {
				out = append(out, m)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out, nil
}

func (s membershipStore) Create(_ context.Context, m *auth.Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role", auth.ErrInvalidInput)
	}
	m.CreatedAt = s.h.store.now().UTC()
	rec := *m
	return s.h.stage(func(st *state) error {
		key := membershipKey{rec.IdentityID, rec.CompanyID}
		if _, dup := st.memberships[key]; dup {
			return fmt.Errorf("%w: membership exists", auth.ErrConflict)
		}
		if _, ok := st.companies[rec.CompanyID]; !ok {
			return fmt.Errorf("%w: company %d", auth.ErrInvalidInput, rec.CompanyID)
		}
		if _, ok := st.identities[rec.IdentityID]; !ok {
			return fmt.Errorf("%w: identity %d", auth.ErrInvalidInput, rec.IdentityID)
		}
		st.memberships[key] = rec
		return nil
	})
}

// Companies ----------------------------------------------------------------
type companyStore struct{ h *handle }

func (s companyStore) Find(_ context.Context, id int64) (auth.Company, error) {
	var (
		out auth.Company
		ok  bool
	)
	s.h.read(func(st *state) { out, ok = st.companies[id] })
	if !ok {
		return auth.Company{}, auth.ErrNotFound
	}
	return out, nil
}

func (s companyStore) List(_ context.Context, ids []int64, page auth.Page) ([]auth.Company, error) {
	var all []auth.Company
	s.h.read(func(st *state) {
		for _, id := range ids {
			if c, ok := st.companies[id]; ok {
				all = append(all, c)
			}
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), nil
}

func (s companyStore) Create(_ context.Context, c *auth.Company) error {
	now := s.h.store.now().UTC()
	c.ID = s.h.nextID()
	c.CreatedAt, c.UpdatedAt = now, now
	rec := *c
	return s.h.stage(func(st *state) error {
		st.companies[rec.ID] = rec
		return nil
	})
}

func (s companyStore) SetAdmin(_ context.Context, companyID, identityID int64) error {
	now := s.h.store.now().UTC()
	return s.h.stage(func(st *state) error {
		c, ok := st.companies[companyID]
		if !ok {
			return auth.ErrNotFound
		}
		c.AdminIdentityID = identityID
		c.UpdatedAt = now
		st.companies[companyID] = c
		return nil
	})
}

// Equipment ----------------------------------------------------------------
type equipmentStore struct{ h *handle }

func (s equipmentStore) Find(_ context.Context, id int64) (auth.Equipment, error) {
	var (
		out auth.Equipment
		ok  bool
	)
	s.h.read(func(st *state) { out, ok = st.equipment[id] })
	if !ok {
		return auth.Equipment{}, auth.ErrNotFound
	}
	return out, nil
}

func (s equipmentStore) List(_ context.Context, companyIDs []int64, page auth.Page) ([]auth.Equipment, error) {
	allowed := make(map[int64]struct{}, len(companyIDs))
	for _, id := range companyIDs {
		allowed[id] = struct{}{}
	}
	var all []auth.Equipment
	s.h.read(func(st *state) {
		for _, e := range st.equipment {
			if _, ok := allowed[e.CompanyID]; ok {
				all = append(all, e)
			}
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), nil
}

func (s equipmentStore) Create(_ context.Context, e *auth.Equipment) error {
	now := s.h.store.now().UTC()
	e.ID = s.h.nextID()
	e.CreatedAt, e.UpdatedAt = now, now
	rec := *e
	return s.h.stage(func(st *state) error {
		if _, ok := st.companies[rec.CompanyID]; !ok {
			return fmt.Errorf("%w: company %d", auth.ErrInvalidInput, rec.CompanyID)
		}
		key := equipmentKey{rec.CompanyID, rec.Code}
		if _, dup := st.codes[key]; dup {
			return fmt.Errorf("%w: equipment %q exists in company", auth.ErrConflict, rec.Code)
		}
		st.equipment[rec.ID] = rec
		st.codes[key] = rec.ID
		return nil
	})
}

// Readings -----------------------------------------------------------------
type readingStore struct{ h *handle }

func (s readingStore) List(_ context.Context, equipmentID int64, page auth.Page) ([]auth.SensorReading, int, error) {
	var all []auth.SensorReading
	s.h.read(func(st *state) {
		all = append(all, st.readings[equipmentID]...)
	})
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	return paginate(all, page), len(all), nil
}

func (s readingStore) Append(_ context.Context, equipmentID int64, readings []auth.SensorReading) (int, error) {
	recs := make([]auth.SensorReading, len(readings))
	for i, r := range readings {
		r.ID = s.h.nextID()
		r.EquipmentID = equipmentID
		r.Timestamp = r.Timestamp.UTC()
		recs[i] = r
	}
	err := s.h.stage(func(st *state) error {
		if _, ok := st.equipment[equipmentID]; !ok {
			return auth.ErrNotFound
		}
		st.readings[equipmentID] = append(st.readings[equipmentID], recs...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func paginate[T any](all []T, page auth.Page) []T {
	if page.Offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return all[page.Offset:end]
}
