package billing

import (
	"context"

	"github.com/google/uuid"
)

// Reader exposes the lookups the engine performs inside a transaction.
// Single-row getters return the matching not-found error; Find* methods
// return nil when nothing matches.
type Reader interface {
	GetBuildingBill(ctx context.Context, id uuid.UUID) (BuildingBill, error)
	FindBuildingBillByPeriod(ctx context.Context, p Period) (*BuildingBill, error)
	// ListBuildingBillsBefore returns up to limit bills strictly before p, most recent first.
	ListBuildingBillsBefore(ctx context.Context, p Period, limit int) ([]BuildingBill, error)

	GetUnit(ctx context.Context, id uuid.UUID) (Unit, error)
	GetUnitForUpdate(ctx context.Context, id uuid.UUID) (Unit, error)
	FindUnitByNumber(ctx context.Context, number string) (*Unit, error)

	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
	ListActiveTenants(ctx context.Context, unitID uuid.UUID) ([]Tenant, error)

	GetUnitBill(ctx context.Context, id uuid.UUID) (UnitBill, error)
	GetUnitBillForUpdate(ctx context.Context, id uuid.UUID) (UnitBill, error)
	// FindLatestReadingBill returns the unit's most recent non-estimated regular
	// or move_in bill by period.
	FindLatestReadingBill(ctx context.Context, unitID uuid.UUID) (*UnitBill, error)
	ListUnitBillsBySettlement(ctx context.Context, settlementID uuid.UUID) ([]UnitBill, error)
	ListUnitBillsByBuildingBill(ctx context.Context, buildingBillID uuid.UUID) ([]UnitBill, error)
	CountUnitBillsByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)

	GetSettlement(ctx context.Context, id uuid.UUID) (MoveSettlement, error)
	GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (MoveSettlement, error)
	ListSettlementsByUnit(ctx context.Context, unitID uuid.UUID) ([]MoveSettlement, error)

	ListHistory(ctx context.Context, unitBillID uuid.UUID) ([]BillHistory, error)
}

// Tx is a transactional view of the store.
type Tx interface {
	Reader
	// Apply writes every mutation of the unit of work, in order.
	Apply(ctx context.Context, uow *UnitOfWork) error
}

// Store opens transactions. Any error returned by fn aborts the transaction
// and discards every change made through tx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
