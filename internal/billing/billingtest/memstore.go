// Package billingtest provides an in-memory billing store for tests.
package billingtest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wattshare/wattshare/internal/billing"
)

type state struct {
	buildingBills map[uuid.UUID]billing.BuildingBill
	units         map[uuid.UUID]billing.Unit
	tenants       map[uuid.UUID]billing.Tenant
	unitBills     map[uuid.UUID]billing.UnitBill
	settlements   map[uuid.UUID]billing.MoveSettlement
	history       []billing.BillHistory
}

func newState() *state {
	return &state{
		buildingBills: map[uuid.UUID]billing.BuildingBill{},
		units:         map[uuid.UUID]billing.Unit{},
		tenants:       map[uuid.UUID]billing.Tenant{},
		unitBills:     map[uuid.UUID]billing.UnitBill{},
		settlements:   map[uuid.UUID]billing.MoveSettlement{},
	}
}

func (s *state) clone() *state {
	return &state{
		buildingBills: maps.Clone(s.buildingBills),
		units:         maps.Clone(s.units),
		tenants:       maps.Clone(s.tenants),
		unitBills:     maps.Clone(s.unitBills),
		settlements:   maps.Clone(s.settlements),
		history:       slices.Clone(s.history),
	}
}

// Store implements billing.Store in memory. Transactions are serialised and
// work on a copy of the data that only replaces the committed state when the
// callback succeeds.
type Store struct {
	mu    sync.Mutex
	state *state

	// FailOn, when set, is consulted before each mutation is applied. A
	// non-nil return aborts the transaction with that error.
	FailOn func(billing.Mutation) error

	applied int
}

var _ billing.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a private copy of the data and commits it on success.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, billing.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, st: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.st
	s.applied += tx.applied
	return nil
}

// Applied returns the number of mutations committed so far.
func (s *Store) Applied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// FailAfter returns a FailOn hook that lets n mutations through and fails the next one.
func FailAfter(n int, err error) func(billing.Mutation) error {
	seen := 0
	return func(billing.Mutation) error {
		if seen >= n {
			return err
		}
		seen++
		return nil
	}
}

// PutBuildingBill seeds a building bill.
func (s *Store) PutBuildingBill(b billing.BuildingBill) billing.BuildingBill {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.state.buildingBills[b.ID] = b
	return b
}

// PutUnit seeds a unit.
func (s *Store) PutUnit(u billing.Unit) billing.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.state.units[u.ID] = u
	return u
}

// PutTenant seeds a tenant.
func (s *Store) PutTenant(t billing.Tenant) billing.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.state.tenants[t.ID] = t
	return t
}

// PutUnitBill seeds a unit bill.
func (s *Store) PutUnitBill(b billing.UnitBill) billing.UnitBill {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.state.unitBills[b.ID] = b
	return b
}

// PutSettlement seeds a settlement.
func (s *Store) PutSettlement(m billing.MoveSettlement) billing.MoveSettlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.SourceMonths = slices.Clone(m.SourceMonths)
	s.state.settlements[m.ID] = m
	return m
}

// Unit returns the committed unit.
func (s *Store) Unit(id uuid.UUID) (billing.Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.units[id]
	return u, ok
}

// Tenant returns the committed tenant.
func (s *Store) Tenant(id uuid.UUID) (billing.Tenant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.tenants[id]
	return t, ok
}

// Tenants returns every committed tenant of a unit.
func (s *Store) Tenants(unitID uuid.UUID) []billing.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []billing.Tenant
	for _, t := range s.state.tenants {
		if t.UnitID == unitID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UnitBill returns the committed unit bill.
func (s *Store) UnitBill(id uuid.UUID) (billing.UnitBill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.unitBills[id]
	return b, ok
}

// UnitBills returns every committed unit bill.
func (s *Store) UnitBills() []billing.UnitBill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.state.unitBills))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// BuildingBills returns every committed building bill.
func (s *Store) BuildingBills() []billing.BuildingBill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.state.buildingBills))
}

// Settlement returns the committed settlement.
func (s *Store) Settlement(id uuid.UUID) (billing.MoveSettlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.settlements[id]
	return m, ok
}

// History returns every committed history row in insertion order.
func (s *Store) History() []billing.BillHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.history)
}

type memTx struct {
	store   *Store
	st      *state
	applied int
}

func (t *memTx) GetBuildingBill(_ context.Context, id uuid.UUID) (billing.BuildingBill, error) {
	b, ok := t.st.buildingBills[id]
	if !ok {
		return billing.BuildingBill{}, billing.ErrBuildingBillNotFound
	}
	return b, nil
}

func (t *memTx) FindBuildingBillByPeriod(_ context.Context, p billing.Period) (*billing.BuildingBill, error) {
	for _, b := range t.st.buildingBills {
		if b.Period() == p {
			return &b, nil
		}
	}
	return nil, nil
}

func (t *memTx) ListBuildingBillsBefore(_ context.Context, p billing.Period, limit int) ([]billing.BuildingBill, error) {
	var out []billing.BuildingBill
	for _, b := range t.st.buildingBills {
		if b.Period().Before(p) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Period().Before(out[i].Period()) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) GetUnit(_ context.Context, id uuid.UUID) (billing.Unit, error) {
	u, ok := t.st.units[id]
	if !ok {
		return billing.Unit{}, billing.ErrUnitNotFound
	}
	return u, nil
}

func (t *memTx) GetUnitForUpdate(ctx context.Context, id uuid.UUID) (billing.Unit, error) {
	return t.GetUnit(ctx, id)
}

func (t *memTx) FindUnitByNumber(_ context.Context, number string) (*billing.Unit, error) {
	for _, u := range t.st.units {
		if u.Number == number {
			return &u, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetTenant(_ context.Context, id uuid.UUID) (billing.Tenant, error) {
	tn, ok := t.st.tenants[id]
	if !ok {
		return billing.Tenant{}, billing.ErrTenantNotFound
	}
	return tn, nil
}

func (t *memTx) ListActiveTenants(_ context.Context, unitID uuid.UUID) ([]billing.Tenant, error) {
	var out []billing.Tenant
	for _, tn := range t.st.tenants {
		if tn.UnitID == unitID && tn.Status == billing.TenantActive {
			out = append(out, tn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) GetUnitBill(_ context.Context, id uuid.UUID) (billing.UnitBill, error) {
	b, ok := t.st.unitBills[id]
	if !ok {
		return billing.UnitBill{}, billing.ErrUnitBillNotFound
	}
	return b, nil
}

func (t *memTx) GetUnitBillForUpdate(ctx context.Context, id uuid.UUID) (billing.UnitBill, error) {
	return t.GetUnitBill(ctx, id)
}

func (t *memTx) FindLatestReadingBill(_ context.Context, unitID uuid.UUID) (*billing.UnitBill, error) {
	var latest *billing.UnitBill
	for _, b := range t.st.unitBills {
		if b.UnitID != unitID || b.IsEstimated {
			continue
		}
		if b.Kind != billing.KindRegular && b.Kind != billing.KindMoveIn {
			continue
		}
		if latest == nil || latest.Period().Before(b.Period()) ||
			(latest.Period() == b.Period() && latest.CreatedAt.Before(b.CreatedAt)) {
			b := b
			latest = &b
		}
	}
	return latest, nil
}

func (t *memTx) ListUnitBillsBySettlement(_ context.Context, settlementID uuid.UUID) ([]billing.UnitBill, error) {
	var out []billing.UnitBill
	for _, b := range t.st.unitBills {
		if b.SettlementID != nil && *b.SettlementID == settlementID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) ListUnitBillsByBuildingBill(_ context.Context, buildingBillID uuid.UUID) ([]billing.UnitBill, error) {
	var out []billing.UnitBill
	for _, b := range t.st.unitBills {
		if b.BuildingBillID == buildingBillID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := t.st.units[out[i].UnitID].Number, t.st.units[out[j].UnitID].Number
		if ni != nj {
			return ni < nj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memTx) CountUnitBillsByTenant(_ context.Context, tenantID uuid.UUID) (int, error) {
	n := 0
	for _, b := range t.st.unitBills {
		if b.TenantID != nil && *b.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetSettlement(_ context.Context, id uuid.UUID) (billing.MoveSettlement, error) {
	m, ok := t.st.settlements[id]
	if !ok {
		return billing.MoveSettlement{}, billing.ErrSettlementNotFound
	}
	return m, nil
}

func (t *memTx) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (billing.MoveSettlement, error) {
	return t.GetSettlement(ctx, id)
}

func (t *memTx) ListSettlementsByUnit(_ context.Context, unitID uuid.UUID) ([]billing.MoveSettlement, error) {
	var out []billing.MoveSettlement
	for _, m := range t.st.settlements {
		if m.UnitID == unitID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SettlementDate.Equal(out[j].SettlementDate) {
			return out[i].SettlementDate.After(out[j].SettlementDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memTx) ListHistory(_ context.Context, unitBillID uuid.UUID) ([]billing.BillHistory, error) {
	var out []billing.BillHistory
	for i := len(t.st.history) - 1; i >= 0; i-- {
		if t.st.history[i].UnitBillID == unitBillID {
			out = append(out, t.st.history[i])
		}
	}
	return out, nil
}

func (t *memTx) Apply(_ context.Context, uow *billing.UnitOfWork) error {
	if err := uow.Validate(); err != nil {
		return err
	}
	for _, m := range uow.Mutations() {
		if t.store.FailOn != nil {
			if err := t.store.FailOn(m); err != nil {
				return fmt.Errorf("apply %s: %w", m, err)
			}
		}
		if err := t.apply(m); err != nil {
			return fmt.Errorf("apply %s: %w", m, err)
		}
		t.applied++
	}
	return nil
}

var errNoRow = errors.New("no row affected")

func (t *memTx) apply(m billing.Mutation) error {
	switch m.Entity {
	case billing.EntityBuildingBill:
		b := m.Record.(billing.BuildingBill)
		for _, existing := range t.st.buildingBills {
			if existing.Period() == b.Period() {
				return billing.ErrBuildingBillExists
			}
		}
		t.st.buildingBills[b.ID] = b
		return nil
	case billing.EntityUnitBill:
		return put(t.st.unitBills, m)
	case billing.EntityTenant:
		return put(t.st.tenants, m)
	case billing.EntityUnit:
		return put(t.st.units, m)
	case billing.EntitySettlement:
		s := m.Record.(billing.MoveSettlement)
		s.SourceMonths = slices.Clone(s.SourceMonths)
		m.Record = s
		return put(t.st.settlements, m)
	case billing.EntityBillHistory:
		t.st.history = append(t.st.history, m.Record.(billing.BillHistory))
		return nil
	}
	return fmt.Errorf("unsupported mutation %s", m)
}

func put[T any](rows map[uuid.UUID]T, m billing.Mutation) error {
	_, exists := rows[m.ID]
	switch m.Op {
	case billing.OpInsert:
		if exists {
			return fmt.Errorf("duplicate id %s", m.ID)
		}
		rows[m.ID] = m.Record.(T)
	case billing.OpUpdate:
		if !exists {
			return errNoRow
		}
		rows[m.ID] = m.Record.(T)
	case billing.OpDelete:
		if !exists {
			return errNoRow
		}
		delete(rows, m.ID)
	}
	return nil
}
