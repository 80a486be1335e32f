package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnitBillKind tags how a unit bill came to exist.
type UnitBillKind string

const (
	KindRegular UnitBillKind = "regular"
	KindMoveOut UnitBillKind = "move_out"
	KindMoveIn  UnitBillKind = "move_in"
)

// PaymentStatus enumerates unit bill payment states.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// TenantStatus enumerates tenant occupancy states.
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantMovedOut TenantStatus = "moved_out"
)

// UnitStatus enumerates unit occupancy states.
type UnitStatus string

const (
	UnitOccupied UnitStatus = "occupied"
	UnitVacant   UnitStatus = "vacant"
)

// SettlementStatus captures the lifecycle of a move settlement.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
	SettlementCancelled SettlementStatus = "cancelled"
)

// EditMode selects how a unit bill edit derives its fees.
type EditMode string

const (
	EditProportional EditMode = "proportional"
	EditManual       EditMode = "manual"
)

// HistoryAction names the unit bill mutation recorded in the audit trail.
type HistoryAction string

const (
	HistoryCreated HistoryAction = "created"
	HistoryEdited  HistoryAction = "edited"
	HistoryDeleted HistoryAction = "deleted"
)

// Fees holds the named fee components of an electricity invoice.
type Fees struct {
	BasicFee       decimal.Decimal `json:"basic_fee"`
	PowerFee       decimal.Decimal `json:"power_fee"`
	ClimateFee     decimal.Decimal `json:"climate_fee"`
	FuelFee        decimal.Decimal `json:"fuel_fee"`
	PowerFactorFee decimal.Decimal `json:"power_factor_fee"`
	VAT            decimal.Decimal `json:"vat"`
	PowerFund      decimal.Decimal `json:"power_fund"`
}

// Sum adds every component.
func (f Fees) Sum() decimal.Decimal {
	return decimal.Sum(f.BasicFee, f.PowerFee, f.ClimateFee, f.FuelFee, f.PowerFactorFee, f.VAT, f.PowerFund)
}

// Map applies fn to every component.
func (f Fees) Map(fn func(decimal.Decimal) decimal.Decimal) Fees {
	return Fees{
		BasicFee:       fn(f.BasicFee),
		PowerFee:       fn(f.PowerFee),
		ClimateFee:     fn(f.ClimateFee),
		FuelFee:        fn(f.FuelFee),
		PowerFactorFee: fn(f.PowerFactorFee),
		VAT:            fn(f.VAT),
		PowerFund:      fn(f.PowerFund),
	}
}

// Add returns the component-wise sum of f and o.
func (f Fees) Add(o Fees) Fees {
	return Fees{
		BasicFee:       f.BasicFee.Add(o.BasicFee),
		PowerFee:       f.PowerFee.Add(o.PowerFee),
		ClimateFee:     f.ClimateFee.Add(o.ClimateFee),
		FuelFee:        f.FuelFee.Add(o.FuelFee),
		PowerFactorFee: f.PowerFactorFee.Add(o.PowerFactorFee),
		VAT:            f.VAT.Add(o.VAT),
		PowerFund:      f.PowerFund.Add(o.PowerFund),
	}
}

// BuildingBill is one billing cycle's whole-building utility invoice.
type BuildingBill struct {
	ID          uuid.UUID       `json:"id"`
	Year        int             `json:"year"`
	Month       int             `json:"month"`
	TotalUsage  decimal.Decimal `json:"total_usage"`
	Fees                        // components
	RoundDown   decimal.Decimal `json:"round_down"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Period returns the billing period of the bill.
func (b BuildingBill) Period() Period {
	return Period{Year: b.Year, Month: time.Month(b.Month)}
}

// UnitBill is one unit's share of a building bill.
type UnitBill struct {
	ID               uuid.UUID       `json:"id"`
	BuildingBillID   uuid.UUID       `json:"building_bill_id"`
	BillingYear      int             `json:"billing_year"`
	BillingMonth     int             `json:"billing_month"`
	UnitID           uuid.UUID       `json:"unit_id"`
	TenantID         *uuid.UUID      `json:"tenant_id,omitempty"`
	TenantName       string          `json:"tenant_name"`
	SettlementID     *uuid.UUID      `json:"settlement_id,omitempty"`
	Kind             UnitBillKind    `json:"kind"`
	IsEstimated      bool            `json:"is_estimated"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	PreviousReading  decimal.Decimal `json:"previous_reading"`
	CurrentReading   decimal.Decimal `json:"current_reading"`
	Usage            decimal.Decimal `json:"usage"`
	UsageRatio       decimal.Decimal `json:"usage_ratio"`
	Fees                             // allocated components
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	IsManuallyEdited bool            `json:"is_manually_edited"`
	EditReason       string          `json:"edit_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Period returns the billing period the unit bill belongs to.
func (b UnitBill) Period() Period {
	return Period{Year: b.BillingYear, Month: time.Month(b.BillingMonth)}
}

// Snapshot captures the fee-bearing fields for the audit trail.
func (b UnitBill) Snapshot() *BillSnapshot {
	return &BillSnapshot{
		Usage:       b.Usage,
		UsageRatio:  b.UsageRatio,
		Fees:        b.Fees,
		TotalAmount: b.TotalAmount,
	}
}

// Unit is a metered dwelling inside the building.
type Unit struct {
	ID            uuid.UUID  `json:"id"`
	Number        string     `json:"number"`
	Status        UnitStatus `json:"status"`
	TenantName    string     `json:"tenant_name"`
	TenantContact string     `json:"tenant_contact"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Tenant is one occupancy of a unit.
type Tenant struct {
	ID             uuid.UUID           `json:"id"`
	UnitID         uuid.UUID           `json:"unit_id"`
	Name           string              `json:"name"`
	Contact        string              `json:"contact"`
	Status         TenantStatus        `json:"status"`
	MoveInDate     *time.Time          `json:"move_in_date,omitempty"`
	MoveInReading  decimal.NullDecimal `json:"move_in_reading"`
	MoveOutDate    *time.Time          `json:"move_out_date,omitempty"`
	MoveOutReading decimal.NullDecimal `json:"move_out_reading"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// MoveSettlement records a mid-cycle move-out and its estimation inputs.
type MoveSettlement struct {
	ID                  uuid.UUID           `json:"id"`
	UnitID              uuid.UUID           `json:"unit_id"`
	SettlementDate      time.Time           `json:"settlement_date"`
	BillingYear         int                 `json:"billing_year"`
	BillingMonth        int                 `json:"billing_month"`
	OutgoingTenantID    uuid.UUID           `json:"outgoing_tenant_id"`
	OutgoingTenantName  string              `json:"outgoing_tenant_name"`
	OutgoingPeriodStart time.Time           `json:"outgoing_period_start"`
	OutgoingPeriodEnd   time.Time           `json:"outgoing_period_end"`
	PreviousReading     decimal.Decimal     `json:"previous_reading"`
	MeterReading        decimal.Decimal     `json:"meter_reading"`
	OutgoingUsage       decimal.Decimal     `json:"outgoing_usage"`
	IncomingTenantID    *uuid.UUID          `json:"incoming_tenant_id,omitempty"`
	IncomingTenantName  string              `json:"incoming_tenant_name,omitempty"`
	IncomingPeriodStart *time.Time          `json:"incoming_period_start,omitempty"`
	IncomingReading     decimal.NullDecimal `json:"incoming_reading"`
	AverageUsage        decimal.Decimal     `json:"average_usage"`
	AverageAmount       decimal.Decimal     `json:"average_amount"`
	SourceMonths        []string            `json:"source_months"`
	EstimatedAmount     decimal.Decimal     `json:"estimated_amount"`
	Status              SettlementStatus    `json:"status"`
	Notes               string              `json:"notes,omitempty"`
	CreatedBy           string              `json:"created_by,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Period returns the billing period the settlement was resolved to.
func (s MoveSettlement) Period() Period {
	return Period{Year: s.BillingYear, Month: time.Month(s.BillingMonth)}
}

// BillSnapshot is the before/after image stored in BillHistory.
type BillSnapshot struct {
	Usage       decimal.Decimal `json:"usage"`
	UsageRatio  decimal.Decimal `json:"usage_ratio"`
	Fees                        // every fee component
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// BillHistory is an append-only audit entry for a unit bill mutation.
type BillHistory struct {
	ID         uuid.UUID     `json:"id"`
	UnitBillID uuid.UUID     `json:"unit_bill_id"`
	Action     HistoryAction `json:"action"`
	Mode       EditMode      `json:"mode,omitempty"`
	Before     *BillSnapshot `json:"before,omitempty"`
	After      *BillSnapshot `json:"after,omitempty"`
	ChangedBy  string        `json:"changed_by"`
	Reason     string        `json:"reason,omitempty"`
	ChangedAt  time.Time     `json:"changed_at"`
}

// AppendNote appends a line to free-text notes.
func AppendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
