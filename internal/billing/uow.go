package billing

import (
	"fmt"

	"github.com/google/uuid"
)

// Op is the kind of row change in a unit of work.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Entity names the record type a mutation targets.
type Entity string

const (
	EntityBuildingBill Entity = "building_bill"
	EntityUnitBill     Entity = "unit_bill"
	EntityTenant       Entity = "tenant"
	EntityUnit         Entity = "unit"
	EntitySettlement   Entity = "move_settlement"
	EntityBillHistory  Entity = "bill_history"
)

// Mutation is a single row change. Inserts and updates carry the full row
// as Record; deletes only need the ID.
type Mutation struct {
	Op     Op
	Entity Entity
	ID     uuid.UUID
	Record any
}

func (m Mutation) String() string {
	return fmt.Sprintf("%s %s %s", m.Op, m.Entity, m.ID)
}

// UnitOfWork collects row changes that must commit together. The same type
// backs settlement creation and its rollback.
type UnitOfWork struct {
	mutations []Mutation
}

// NewUnitOfWork returns an empty unit of work.
func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{}
}

// Mutations returns the collected changes in application order.
func (u *UnitOfWork) Mutations() []Mutation {
	if u == nil {
		return nil
	}
	out := make([]Mutation, len(u.mutations))
	copy(out, u.mutations)
	return out
}

// Len returns the number of collected changes.
func (u *UnitOfWork) Len() int {
	if u == nil {
		return 0
	}
	return len(u.mutations)
}

func (u *UnitOfWork) add(op Op, entity Entity, id uuid.UUID, record any) {
	u.mutations = append(u.mutations, Mutation{Op: op, Entity: entity, ID: id, Record: record})
}

// InsertBuildingBill schedules a building bill insert.
func (u *UnitOfWork) InsertBuildingBill(b BuildingBill) {
	u.add(OpInsert, EntityBuildingBill, b.ID, b)
}

// InsertUnitBill schedules a unit bill insert.
func (u *UnitOfWork) InsertUnitBill(b UnitBill) {
	u.add(OpInsert, EntityUnitBill, b.ID, b)
}

// UpdateUnitBill schedules a full-row unit bill update.
func (u *UnitOfWork) UpdateUnitBill(b UnitBill) {
	u.add(OpUpdate, EntityUnitBill, b.ID, b)
}

// DeleteUnitBill schedules a unit bill delete.
func (u *UnitOfWork) DeleteUnitBill(id uuid.UUID) {
	u.add(OpDelete, EntityUnitBill, id, nil)
}

// InsertTenant schedules a tenant insert.
func (u *UnitOfWork) InsertTenant(t Tenant) {
	u.add(OpInsert, EntityTenant, t.ID, t)
}

// UpdateTenant schedules a full-row tenant update.
func (u *UnitOfWork) UpdateTenant(t Tenant) {
	u.add(OpUpdate, EntityTenant, t.ID, t)
}

// DeleteTenant schedules a tenant delete.
func (u *UnitOfWork) DeleteTenant(id uuid.UUID) {
	u.add(OpDelete, EntityTenant, id, nil)
}

// UpdateUnit schedules a full-row unit update.
func (u *UnitOfWork) UpdateUnit(unit Unit) {
	u.add(OpUpdate, EntityUnit, unit.ID, unit)
}

// InsertSettlement schedules a settlement insert.
func (u *UnitOfWork) InsertSettlement(s MoveSettlement) {
	u.add(OpInsert, EntitySettlement, s.ID, s)
}

// UpdateSettlement schedules a full-row settlement update.
func (u *UnitOfWork) UpdateSettlement(s MoveSettlement) {
	u.add(OpUpdate, EntitySettlement, s.ID, s)
}

// AppendHistory schedules an audit entry insert.
func (u *UnitOfWork) AppendHistory(h BillHistory) {
	u.add(OpInsert, EntityBillHistory, h.ID, h)
}

// Validate checks that every mutation carries a record of the right type.
func (u *UnitOfWork) Validate() error {
	for _, m := range u.Mutations() {
		if m.ID == uuid.Nil {
			return fmt.Errorf("billing: unit of work: %s: empty id", m)
		}
		if m.Op == OpDelete {
			switch m.Entity {
			case EntityUnitBill, EntityTenant:
				continue
			default:
				return fmt.Errorf("billing: unit of work: %s: delete not permitted", m)
			}
		}
		ok := false
		switch m.Entity {
		case EntityBuildingBill:
			_, ok = m.Record.(BuildingBill)
			ok = ok && m.Op == OpInsert
		case EntityUnitBill:
			_, ok = m.Record.(UnitBill)
		case EntityTenant:
			_, ok = m.Record.(Tenant)
		case EntityUnit:
			_, ok = m.Record.(Unit)
			ok = ok && m.Op == OpUpdate
		case EntitySettlement:
			_, ok = m.Record.(MoveSettlement)
		case EntityBillHistory:
			_, ok = m.Record.(BillHistory)
			ok = ok && m.Op == OpInsert
		}
		if !ok {
			return fmt.Errorf("billing: unit of work: %s: unexpected record %T", m, m.Record)
		}
	}
	return nil
}
