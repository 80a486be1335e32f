package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TenantInput describes an incoming tenant.
type TenantInput struct {
	Name    string `json:"name" validate:"required,max=100"`
	Contact string `json:"contact" validate:"max=100"`
	// MoveInDate defaults to the settlement date.
	MoveInDate *time.Time `json:"move_in_date,omitempty"`
	// MoveInReading defaults to the settlement meter reading.
	MoveInReading decimal.NullDecimal `json:"move_in_reading" validate:"omitempty,gte=0"`
	Notes         string              `json:"notes,omitempty" validate:"max=500"`
}

// CreateMoveOutInput captures a move-out at a meter reading.
type CreateMoveOutInput struct {
	UnitID         uuid.UUID       `json:"unit_id" validate:"required"`
	SettlementDate time.Time       `json:"settlement_date" validate:"required"`
	MeterReading   decimal.Decimal `json:"meter_reading" validate:"gte=0"`
	Incoming       *TenantInput    `json:"incoming_tenant,omitempty"`
	Notes          string          `json:"notes,omitempty" validate:"max=1000"`
	CreatedBy      string          `json:"created_by,omitempty" validate:"max=100"`
}

// PreviewInput asks for an estimate without recording anything.
type PreviewInput struct {
	UnitID         uuid.UUID       `json:"unit_id" validate:"required"`
	SettlementDate time.Time       `json:"settlement_date" validate:"required"`
	MeterReading   decimal.Decimal `json:"meter_reading" validate:"gte=0"`
}
