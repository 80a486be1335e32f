package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroBuildingUsage indicates allocation against a building bill without positive usage.
	ErrZeroBuildingUsage = errors.New("billing: building usage must be positive")
	// ErrNegativeUsage indicates a meter reading below the previous reading.
	ErrNegativeUsage = errors.New("billing: usage cannot be negative")
	// ErrUsageExceedsBuilding indicates a unit usage larger than the building total.
	ErrUsageExceedsBuilding = errors.New("billing: unit usage exceeds building usage")
	// ErrNoHistoricalData indicates there is no building bill to average.
	ErrNoHistoricalData = errors.New("billing: no historical building bills to estimate from")
	// ErrNoActiveTenant indicates the unit does not have exactly one active tenant.
	ErrNoActiveTenant = errors.New("billing: unit must have exactly one active tenant")
	// ErrAlreadyRegistered indicates the settlement already has an incoming tenant.
	ErrAlreadyRegistered = errors.New("billing: incoming tenant already registered")
	// ErrSettlementNotFound indicates the settlement could not be loaded.
	ErrSettlementNotFound = errors.New("billing: settlement not found")
	// ErrUnitBillNotFound indicates the unit bill could not be loaded.
	ErrUnitBillNotFound = errors.New("billing: unit bill not found")
	// ErrBuildingBillNotFound indicates the building bill could not be loaded.
	ErrBuildingBillNotFound = errors.New("billing: building bill not found")
	// ErrUnitNotFound indicates the unit could not be loaded.
	ErrUnitNotFound = errors.New("billing: unit not found")
	// ErrTenantNotFound indicates the tenant could not be loaded.
	ErrTenantNotFound = errors.New("billing: tenant not found")
	// ErrPaidBillsBlockRollback is the financial safety gate on rollback.
	ErrPaidBillsBlockRollback = errors.New("billing: settlement has paid bills, revert payment before rollback")
	// ErrAlreadyCancelled indicates a rollback on a cancelled settlement.
	ErrAlreadyCancelled = errors.New("billing: settlement already cancelled")
	// ErrInvalidTransition indicates an unsupported settlement status change.
	ErrInvalidTransition = errors.New("billing: invalid settlement status transition")
	// ErrBuildingBillExists indicates a building bill already exists for the period.
	ErrBuildingBillExists = errors.New("billing: building bill already exists for period")
	// ErrCycleAlreadyAllocated indicates regular bills already exist for the building bill.
	ErrCycleAlreadyAllocated = errors.New("billing: building bill already allocated")
	// ErrInvalidInput indicates boundary validation failed.
	ErrInvalidInput = errors.New("billing: invalid input")
	// ErrTransactionFailed marks an unexpected failure that aborted a transaction.
	ErrTransactionFailed = errors.New("billing: transaction failed")
)

var domainErrors = []error{
	ErrZeroBuildingUsage,
	ErrNegativeUsage,
	ErrUsageExceedsBuilding,
	ErrNoHistoricalData,
	ErrNoActiveTenant,
	ErrAlreadyRegistered,
	ErrSettlementNotFound,
	ErrUnitBillNotFound,
	ErrBuildingBillNotFound,
	ErrUnitNotFound,
	ErrTenantNotFound,
	ErrPaidBillsBlockRollback,
	ErrAlreadyCancelled,
	ErrInvalidTransition,
	ErrBuildingBillExists,
	ErrCycleAlreadyAllocated,
	ErrInvalidInput,
	ErrTransactionFailed,
}

// TxError wraps a foreign error that aborted a transaction.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("billing: %s: transaction failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TxError) Unwrap() error { return e.Err }

// Is reports ErrTransactionFailed so callers can match the kind.
func (e *TxError) Is(target error) bool { return target == ErrTransactionFailed }

// IsDomainError reports whether err carries one of the billing error kinds.
func IsDomainError(err error) bool {
	for _, kind := range domainErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsTxFailure reports whether err aborted a transaction for a reason outside
// the domain taxonomy.
func IsTxFailure(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}

// TxFailed passes domain errors through and wraps anything else in a TxError.
func TxFailed(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &TxError{Op: op, Err: err}
}
