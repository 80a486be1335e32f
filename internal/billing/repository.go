package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wattshare/wattshare/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for billing records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("billing: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// ============================================================================
// READS
// ============================================================================

const buildingBillColumns = `id, year, month, total_usage, basic_fee, power_fee, climate_fee, fuel_fee,
	power_factor_fee, vat, power_fund, round_down, total_amount, created_at`

func scanBuildingBill(row pgx.Row) (BuildingBill, error) {
	var b BuildingBill
	err := row.Scan(&b.ID, &b.Year, &b.Month, &b.TotalUsage,
		&b.BasicFee, &b.PowerFee, &b.ClimateFee, &b.FuelFee, &b.PowerFactorFee, &b.VAT, &b.PowerFund,
		&b.RoundDown, &b.TotalAmount, &b.CreatedAt)
	return b, err
}

func (r *txRepo) GetBuildingBill(ctx context.Context, id uuid.UUID) (BuildingBill, error) {
	b, err := scanBuildingBill(r.tx.QueryRow(ctx, `SELECT `+buildingBillColumns+` FROM building_bills WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return BuildingBill{}, ErrBuildingBillNotFound
	}
	return b, err
}

func (r *txRepo) FindBuildingBillByPeriod(ctx context.Context, p Period) (*BuildingBill, error) {
	b, err := scanBuildingBill(r.tx.QueryRow(ctx, `SELECT `+buildingBillColumns+` FROM building_bills WHERE year = $1 AND month = $2`, p.Year, int(p.Month)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *txRepo) ListBuildingBillsBefore(ctx context.Context, p Period, limit int) ([]BuildingBill, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+buildingBillColumns+`
		FROM building_bills
		WHERE (year, month) < ($1, $2)
		ORDER BY year DESC, month DESC
		LIMIT $3`, p.Year, int(p.Month), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BuildingBill
	for rows.Next() {
		b, err := scanBuildingBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const unitColumns = `id, number, status, tenant_name, tenant_contact, updated_at`

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	err := row.Scan(&u.ID, &u.Number, &u.Status, &u.TenantName, &u.TenantContact, &u.UpdatedAt)
	return u, err
}

func (r *txRepo) GetUnit(ctx context.Context, id uuid.UUID) (Unit, error) {
	u, err := scanUnit(r.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

func (r *txRepo) GetUnitForUpdate(ctx context.Context, id uuid.UUID) (Unit, error) {
	u, err := scanUnit(r.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

func (r *txRepo) FindUnitByNumber(ctx context.Context, number string) (*Unit, error) {
	u, err := scanUnit(r.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const tenantColumns = `id, unit_id, name, contact, status, move_in_date, move_in_reading,
	move_out_date, move_out_reading, notes, created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.UnitID, &t.Name, &t.Contact, &t.Status, &t.MoveInDate, &t.MoveInReading,
		&t.MoveOutDate, &t.MoveOutReading, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *txRepo) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	t, err := scanTenant(r.tx.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	return t, err
}

func (r *txRepo) ListActiveTenants(ctx context.Context, unitID uuid.UUID) ([]Tenant, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE unit_id = $1 AND status = 'active'
		ORDER BY created_at
		FOR UPDATE`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const unitBillColumns = `id, building_bill_id, billing_year, billing_month, unit_id, tenant_id, tenant_name,
	settlement_id, kind, is_estimated, period_start, period_end, previous_reading, current_reading,
	usage, usage_ratio, basic_fee, power_fee, climate_fee, fuel_fee, power_factor_fee, vat, power_fund,
	total_amount, payment_status, paid_at, is_manually_edited, edit_reason, created_at, updated_at`

func scanUnitBill(row pgx.Row) (UnitBill, error) {
	var b UnitBill
	err := row.Scan(&b.ID, &b.BuildingBillID, &b.BillingYear, &b.BillingMonth, &b.UnitID, &b.TenantID, &b.TenantName,
		&b.SettlementID, &b.Kind, &b.IsEstimated, &b.PeriodStart, &b.PeriodEnd, &b.PreviousReading, &b.CurrentReading,
		&b.Usage, &b.UsageRatio, &b.BasicFee, &b.PowerFee, &b.ClimateFee, &b.FuelFee, &b.PowerFactorFee, &b.VAT, &b.PowerFund,
		&b.TotalAmount, &b.PaymentStatus, &b.PaidAt, &b.IsManuallyEdited, &b.EditReason, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *txRepo) queryUnitBills(ctx context.Context, query string, args ...any) ([]UnitBill, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnitBill
	for rows.Next() {
		b, err := scanUnitBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepo) GetUnitBill(ctx context.Context, id uuid.UUID) (UnitBill, error) {
	b, err := scanUnitBill(r.tx.QueryRow(ctx, `SELECT `+unitBillColumns+` FROM unit_bills WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return UnitBill{}, ErrUnitBillNotFound
	}
	return b, err
}

func (r *txRepo) GetUnitBillForUpdate(ctx context.Context, id uuid.UUID) (UnitBill, error) {
	b, err := scanUnitBill(r.tx.QueryRow(ctx, `SELECT `+unitBillColumns+` FROM unit_bills WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return UnitBill{}, ErrUnitBillNotFound
	}
	return b, err
}

func (r *txRepo) FindLatestReadingBill(ctx context.Context, unitID uuid.UUID) (*UnitBill, error) {
	b, err := scanUnitBill(r.tx.QueryRow(ctx, `
		SELECT `+unitBillColumns+`
		FROM unit_bills
		WHERE unit_id = $1 AND kind IN ('regular', 'move_in') AND NOT is_estimated
		ORDER BY billing_year DESC, billing_month DESC, created_at DESC
		LIMIT 1`, unitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *txRepo) ListUnitBillsBySettlement(ctx context.Context, settlementID uuid.UUID) ([]UnitBill, error) {
	return r.queryUnitBills(ctx, `SELECT `+unitBillColumns+` FROM unit_bills WHERE settlement_id = $1 ORDER BY created_at FOR UPDATE`, settlementID)
}

func (r *txRepo) ListUnitBillsByBuildingBill(ctx context.Context, buildingBillID uuid.UUID) ([]UnitBill, error) {
	return r.queryUnitBills(ctx, `
		SELECT `+unitBillColumns+`
		FROM unit_bills u
		WHERE building_bill_id = $1
		ORDER BY (SELECT number FROM units WHERE id = u.unit_id), created_at`, buildingBillID)
}

func (r *txRepo) CountUnitBillsByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM unit_bills WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

const settlementColumns = `id, unit_id, settlement_date, billing_year, billing_month, outgoing_tenant_id,
	outgoing_tenant_name, outgoing_period_start, outgoing_period_end, previous_reading, meter_reading,
	outgoing_usage, incoming_tenant_id, incoming_tenant_name, incoming_period_start, incoming_reading,
	average_usage, average_amount, source_months, estimated_amount, status, notes, created_by,
	created_at, updated_at`

func scanSettlement(row pgx.Row) (MoveSettlement, error) {
	var s MoveSettlement
	err := row.Scan(&s.ID, &s.UnitID, &s.SettlementDate, &s.BillingYear, &s.BillingMonth, &s.OutgoingTenantID,
		&s.OutgoingTenantName, &s.OutgoingPeriodStart, &s.OutgoingPeriodEnd, &s.PreviousReading, &s.MeterReading,
		&s.OutgoingUsage, &s.IncomingTenantID, &s.IncomingTenantName, &s.IncomingPeriodStart, &s.IncomingReading,
		&s.AverageUsage, &s.AverageAmount, &s.SourceMonths, &s.EstimatedAmount, &s.Status, &s.Notes, &s.CreatedBy,
		&s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *txRepo) GetSettlement(ctx context.Context, id uuid.UUID) (MoveSettlement, error) {
	s, err := scanSettlement(r.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM move_settlements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MoveSettlement{}, ErrSettlementNotFound
	}
	return s, err
}

func (r *txRepo) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (MoveSettlement, error) {
	s, err := scanSettlement(r.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM move_settlements WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MoveSettlement{}, ErrSettlementNotFound
	}
	return s, err
}

func (r *txRepo) ListSettlementsByUnit(ctx context.Context, unitID uuid.UUID) ([]MoveSettlement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+settlementColumns+` FROM move_settlements WHERE unit_id = $1 ORDER BY settlement_date DESC, created_at DESC`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MoveSettlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepo) ListHistory(ctx context.Context, unitBillID uuid.UUID) ([]BillHistory, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, unit_bill_id, action, mode, before, after, changed_by, reason, changed_at
		FROM bill_history
		WHERE unit_bill_id = $1
		ORDER BY changed_at DESC`, unitBillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillHistory
	for rows.Next() {
		var h BillHistory
		var before, after []byte
		if err := rows.Scan(&h.ID, &h.UnitBillID, &h.Action, &h.Mode, &before, &after, &h.ChangedBy, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		if h.Before, err = decodeSnapshot(before); err != nil {
			return nil, err
		}
		if h.After, err = decodeSnapshot(after); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func decodeSnapshot(raw []byte) (*BillSnapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var snap BillSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("billing: decode snapshot: %w", err)
	}
	return &snap, nil
}

func encodeSnapshot(snap *BillSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, nil
	}
	return json.Marshal(snap)
}

// ============================================================================
// WRITES
// ============================================================================

// Apply writes the unit of work in order; the first failure aborts.
func (r *txRepo) Apply(ctx context.Context, uow *UnitOfWork) error {
	if err := uow.Validate(); err != nil {
		return err
	}
	for _, m := range uow.Mutations() {
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply %s: %w", m, err)
		}
	}
	return nil
}

func (r *txRepo) apply(ctx context.Context, m Mutation) error {
	switch m.Entity {
	case EntityBuildingBill:
		return r.insertBuildingBill(ctx, m.Record.(BuildingBill))
	case EntityUnitBill:
		switch m.Op {
		case OpInsert:
			return r.insertUnitBill(ctx, m.Record.(UnitBill))
		case OpUpdate:
			return r.updateUnitBill(ctx, m.Record.(UnitBill))
		case OpDelete:
			return r.exec(ctx, `DELETE FROM unit_bills WHERE id = $1`, m.ID)
		}
	case EntityTenant:
		switch m.Op {
		case OpInsert:
			return r.insertTenant(ctx, m.Record.(Tenant))
		case OpUpdate:
			return r.updateTenant(ctx, m.Record.(Tenant))
		case OpDelete:
			return r.exec(ctx, `DELETE FROM tenants WHERE id = $1`, m.ID)
		}
	case EntityUnit:
		u := m.Record.(Unit)
		return r.exec(ctx, `
			UPDATE units SET status = $2, tenant_name = $3, tenant_contact = $4, updated_at = $5
			WHERE id = $1`, u.ID, u.Status, u.TenantName, u.TenantContact, u.UpdatedAt)
	case EntitySettlement:
		s := m.Record.(MoveSettlement)
		if m.Op == OpInsert {
			return r.insertSettlement(ctx, s)
		}
		return r.updateSettlement(ctx, s)
	case EntityBillHistory:
		return r.insertHistory(ctx, m.Record.(BillHistory))
	}
	return fmt.Errorf("unsupported mutation %s", m)
}

// exec runs a statement that must touch exactly one row.
func (r *txRepo) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("expected 1 row affected, got %d", tag.RowsAffected())
	}
	return nil
}

func (r *txRepo) insertBuildingBill(ctx context.Context, b BuildingBill) error {
	err := r.exec(ctx, `
		INSERT INTO building_bills (`+buildingBillColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		b.ID, b.Year, b.Month, b.TotalUsage, b.BasicFee, b.PowerFee, b.ClimateFee, b.FuelFee,
		b.PowerFactorFee, b.VAT, b.PowerFund, b.RoundDown, b.TotalAmount, b.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrBuildingBillExists
	}
	return err
}

func (r *txRepo) insertUnitBill(ctx context.Context, b UnitBill) error {
	return r.exec(ctx, `
		INSERT INTO unit_bills (`+unitBillColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
		b.ID, b.BuildingBillID, b.BillingYear, b.BillingMonth, b.UnitID, b.TenantID, b.TenantName,
		b.SettlementID, b.Kind, b.IsEstimated, b.PeriodStart, b.PeriodEnd, b.PreviousReading, b.CurrentReading,
		b.Usage, b.UsageRatio, b.BasicFee, b.PowerFee, b.ClimateFee, b.FuelFee, b.PowerFactorFee, b.VAT, b.PowerFund,
		b.TotalAmount, b.PaymentStatus, b.PaidAt, b.IsManuallyEdited, b.EditReason, b.CreatedAt, b.UpdatedAt)
}

func (r *txRepo) updateUnitBill(ctx context.Context, b UnitBill) error {
	return r.exec(ctx, `
		UPDATE unit_bills SET
			tenant_id = $2, tenant_name = $3, is_estimated = $4, period_start = $5, period_end = $6,
			previous_reading = $7, current_reading = $8, usage = $9, usage_ratio = $10,
			basic_fee = $11, power_fee = $12, climate_fee = $13, fuel_fee = $14, power_factor_fee = $15,
			vat = $16, power_fund = $17, total_amount = $18, payment_status = $19, paid_at = $20,
			is_manually_edited = $21, edit_reason = $22, updated_at = $23
		WHERE id = $1`,
		b.ID, b.TenantID, b.TenantName, b.IsEstimated, b.PeriodStart, b.PeriodEnd,
		b.PreviousReading, b.CurrentReading, b.Usage, b.UsageRatio,
		b.BasicFee, b.PowerFee, b.ClimateFee, b.FuelFee, b.PowerFactorFee,
		b.VAT, b.PowerFund, b.TotalAmount, b.PaymentStatus, b.PaidAt,
		b.IsManuallyEdited, b.EditReason, b.UpdatedAt)
}

func (r *txRepo) insertTenant(ctx context.Context, t Tenant) error {
	return r.exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.UnitID, t.Name, t.Contact, t.Status, t.MoveInDate, t.MoveInReading,
		t.MoveOutDate, t.MoveOutReading, t.Notes, t.CreatedAt, t.UpdatedAt)
}

func (r *txRepo) updateTenant(ctx context.Context, t Tenant) error {
	return r.exec(ctx, `
		UPDATE tenants SET
			name = $2, contact = $3, status = $4, move_in_date = $5, move_in_reading = $6,
			move_out_date = $7, move_out_reading = $8, notes = $9, updated_at = $10
		WHERE id = $1`,
		t.ID, t.Name, t.Contact, t.Status, t.MoveInDate, t.MoveInReading,
		t.MoveOutDate, t.MoveOutReading, t.Notes, t.UpdatedAt)
}

func (r *txRepo) insertSettlement(ctx context.Context, s MoveSettlement) error {
	return r.exec(ctx, `
		INSERT INTO move_settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		s.ID, s.UnitID, s.SettlementDate, s.BillingYear, s.BillingMonth, s.OutgoingTenantID,
		s.OutgoingTenantName, s.OutgoingPeriodStart, s.OutgoingPeriodEnd, s.PreviousReading, s.MeterReading,
		s.OutgoingUsage, s.IncomingTenantID, s.IncomingTenantName, s.IncomingPeriodStart, s.IncomingReading,
		s.AverageUsage, s.AverageAmount, s.SourceMonths, s.EstimatedAmount, s.Status, s.Notes, s.CreatedBy,
		s.CreatedAt, s.UpdatedAt)
}

func (r *txRepo) updateSettlement(ctx context.Context, s MoveSettlement) error {
	return r.exec(ctx, `
		UPDATE move_settlements SET
			incoming_tenant_id = $2, incoming_tenant_name = $3, incoming_period_start = $4,
			incoming_reading = $5, status = $6, notes = $7, updated_at = $8
		WHERE id = $1`,
		s.ID, s.IncomingTenantID, s.IncomingTenantName, s.IncomingPeriodStart,
		s.IncomingReading, s.Status, s.Notes, s.UpdatedAt)
}

func (r *txRepo) insertHistory(ctx context.Context, h BillHistory) error {
	before, err := encodeSnapshot(h.Before)
	if err != nil {
		return err
	}
	after, err := encodeSnapshot(h.After)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		INSERT INTO bill_history (id, unit_bill_id, action, mode, before, after, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.UnitBillID, h.Action, h.Mode, before, after, h.ChangedBy, h.Reason, h.ChangedAt)
}
