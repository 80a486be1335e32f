// Package unitbill re-edits persisted unit bills and keeps their audit trail.
package unitbill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/observability"
)

// ManualTolerance is how far the fee sum may drift from the entered total in
// manual mode before a warning is raised.
var ManualTolerance = decimal.NewFromInt(10)

// EditRequest carries a unit bill edit.
type EditRequest struct {
	Mode        billing.EditMode `json:"edit_mode" validate:"required,oneof=proportional manual"`
	UsageAmount decimal.Decimal  `json:"usage_amount" validate:"gte=0"`
	// Fees and TotalAmount are only used in manual mode.
	Fees        billing.Fees    `json:"fees"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Reason      string          `json:"edit_reason" validate:"max=500"`
	EditedBy    string          `json:"edited_by" validate:"max=100"`
}

// EditResult is the updated bill plus advisory warnings.
type EditResult struct {
	Bill     billing.UnitBill `json:"bill"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Service edits unit bills.
type Service struct {
	store   billing.Store
	logger  *slog.Logger
	metrics *observability.BillingMetrics
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewService constructs a Service instance.
func NewService(store billing.Store, logger *slog.Logger, metrics *observability.BillingMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, metrics: metrics, now: time.Now, newID: uuid.New}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Edit rewrites a unit bill. Proportional mode re-allocates the parent
// building bill for the new usage and ignores any fees in the request; manual
// mode stores the given fees and total as entered.
func (s *Service) Edit(ctx context.Context, unitBillID, buildingBillID uuid.UUID, req EditRequest) (res EditResult, err error) {
	track := s.metrics.Track("unit_bill_edit")
	defer func() { err = track.End(err) }()

	if err := billing.Validate(req); err != nil {
		return EditResult{}, err
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		bill, err := tx.GetUnitBillForUpdate(ctx, unitBillID)
		if err != nil {
			return err
		}
		building, err := tx.GetBuildingBill(ctx, buildingBillID)
		if err != nil {
			return err
		}
		if bill.BuildingBillID != building.ID {
			return fmt.Errorf("%w: unit bill %s belongs to building bill %s", billing.ErrBuildingBillNotFound, bill.ID, bill.BuildingBillID)
		}

		before := bill.Snapshot()
		var warnings []string
		switch req.Mode {
		case billing.EditProportional:
			breakdown, err := billing.Allocate(building, req.UsageAmount)
			if err != nil {
				return err
			}
			breakdown.Apply(&bill)
		case billing.EditManual:
			if req.UsageAmount.GreaterThan(building.TotalUsage) {
				return billing.ErrUsageExceedsBuilding
			}
			bill.Usage = req.UsageAmount
			bill.UsageRatio = decimal.Zero
			if building.TotalUsage.IsPositive() {
				bill.UsageRatio = req.UsageAmount.Div(building.TotalUsage)
			}
			bill.Fees = req.Fees
			bill.TotalAmount = req.TotalAmount
			warnings = manualWarnings(req.Fees, req.TotalAmount)
		}

		now := s.now().UTC()
		bill.IsManuallyEdited = true
		bill.EditReason = req.Reason
		bill.UpdatedAt = now

		uow := billing.NewUnitOfWork()
		uow.UpdateUnitBill(bill)
		uow.AppendHistory(billing.BillHistory{
			ID:         s.newID(),
			UnitBillID: bill.ID,
			Action:     billing.HistoryEdited,
			Mode:       req.Mode,
			Before:     before,
			After:      bill.Snapshot(),
			ChangedBy:  req.EditedBy,
			Reason:     req.Reason,
			ChangedAt:  now,
		})
		if err := tx.Apply(ctx, uow); err != nil {
			return err
		}
		res = EditResult{Bill: bill, Warnings: warnings}
		return nil
	})
	if err != nil {
		return EditResult{}, billing.TxFailed("edit unit bill", err)
	}

	for _, w := range res.Warnings {
		s.logger.Warn("manual unit bill edit does not reconcile",
			slog.String("unit_bill_id", res.Bill.ID.String()),
			slog.String("warning", w))
	}
	s.logger.Info("unit bill edited",
		slog.String("unit_bill_id", res.Bill.ID.String()),
		slog.String("mode", string(req.Mode)),
		slog.String("total", billing.FormatAmount(res.Bill.TotalAmount)))
	return res, nil
}

func manualWarnings(fees billing.Fees, total decimal.Decimal) []string {
	sum := fees.Sum()
	if sum.Sub(total).Abs().LessThanOrEqual(ManualTolerance) {
		return nil
	}
	return []string{fmt.Sprintf("fee components sum to %s but total is %s",
		billing.FormatAmount(sum), billing.FormatAmount(total))}
}

// History lists a unit bill's audit entries, newest first. Entries outlive
// bills deleted by a settlement rollback.
func (s *Service) History(ctx context.Context, unitBillID uuid.UUID) ([]billing.BillHistory, error) {
	var out []billing.BillHistory
	err := s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		var err error
		out, err = tx.ListHistory(ctx, unitBillID)
		return err
	})
	if err != nil {
		return nil, billing.TxFailed("list unit bill history", err)
	}
	return out, nil
}
