// Package cycle registers building bills and allocates them to units for a
// regular billing cycle.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/estimation"
	"github.com/wattshare/wattshare/internal/export"
	"github.com/wattshare/wattshare/internal/observability"
	"github.com/wattshare/wattshare/internal/settings"
)

// BuildingBillInput is a parsed building invoice.
type BuildingBillInput struct {
	Year         int             `json:"year" validate:"gte=2000,lte=2100"`
	Month        int             `json:"month" validate:"gte=1,lte=12"`
	TotalUsage   decimal.Decimal `json:"total_usage" validate:"gte=0"`
	billing.Fees                 // components
	RoundDown    decimal.Decimal `json:"round_down"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// RegisterResult is the stored building bill plus advisory warnings.
type RegisterResult struct {
	Bill     billing.BuildingBill `json:"bill"`
	Warnings []string             `json:"warnings,omitempty"`
}

// UsageRow is one unit's metered usage for the cycle. When CurrentReading is
// set, usage is derived from it and the resolved previous reading instead.
type UsageRow struct {
	UnitNumber     string              `json:"unit_number" validate:"required,max=20"`
	Usage          decimal.Decimal     `json:"usage" validate:"gte=0"`
	CurrentReading decimal.NullDecimal `json:"current_reading"`
}

// Allocation summarises one cycle run.
type Allocation struct {
	BuildingBill billing.BuildingBill `json:"building_bill"`
	Bills        []billing.UnitBill   `json:"bills"`
	// AllocatedTotal includes move_out bills created earlier by settlements.
	AllocatedTotal decimal.Decimal `json:"allocated_total"`
	// Residual is the part of the invoice absorbed at building level.
	Residual decimal.Decimal `json:"residual"`
}

// Service runs cycle allocation.
type Service struct {
	store     billing.Store
	settings  settings.Provider
	cutoffDay int
	logger    *slog.Logger
	metrics   *observability.BillingMetrics
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option configures a Service.
type Option func(*Service)

// WithSettings resolves the meter cutoff day through p on every run.
func WithSettings(p settings.Provider) Option {
	return func(s *Service) { s.settings = p }
}

// WithCutoffDay sets the cutoff day used when settings have no value.
func WithCutoffDay(day int) Option {
	return func(s *Service) {
		if day >= 1 && day <= 31 {
			s.cutoffDay = day
		}
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *observability.BillingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service instance.
func NewService(store billing.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		cutoffDay: billing.DefaultMeterCutoffDay,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterBuildingBill stores a building invoice. Only one bill may exist per
// period.
func (s *Service) RegisterBuildingBill(ctx context.Context, in BuildingBillInput) (res RegisterResult, err error) {
	track := s.metrics.Track("building_bill_register")
	defer func() { err = track.End(err) }()

	if err := billing.Validate(in); err != nil {
		return RegisterResult{}, err
	}
	bill := billing.BuildingBill{
		ID:          s.newID(),
		Year:        in.Year,
		Month:       in.Month,
		TotalUsage:  in.TotalUsage,
		Fees:        in.Fees,
		RoundDown:   in.RoundDown,
		TotalAmount: in.TotalAmount,
		CreatedAt:   s.now().UTC(),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		existing, err := tx.FindBuildingBillByPeriod(ctx, bill.Period())
		if err != nil {
			return fmt.Errorf("load building bill: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", billing.ErrBuildingBillExists, bill.Period())
		}
		uow := billing.NewUnitOfWork()
		uow.InsertBuildingBill(bill)
		return tx.Apply(ctx, uow)
	})
	if err != nil {
		return RegisterResult{}, billing.TxFailed("register building bill", err)
	}

	res = RegisterResult{Bill: bill}
	if expected := bill.Fees.Sum().Add(bill.RoundDown); !expected.Equal(bill.TotalAmount) {
		w := fmt.Sprintf("fee components plus round-down are %s but total is %s",
			billing.FormatAmount(expected), billing.FormatAmount(bill.TotalAmount))
		res.Warnings = append(res.Warnings, w)
		s.logger.Warn("building bill does not reconcile",
			slog.String("period", bill.Period().String()), slog.String("warning", w))
	}
	s.logger.Info("building bill registered",
		slog.String("building_bill_id", bill.ID.String()),
		slog.String("period", bill.Period().String()),
		slog.String("total", billing.FormatAmount(bill.TotalAmount)))
	return res, nil
}

// AllocateCycle creates the cycle's unit bills from per-unit usage. A unit
// whose active tenant arrived through a settlement in this period is billed
// as move_in from the settlement reading. The run is all-or-nothing and can
// only happen once per building bill.
func (s *Service) AllocateCycle(ctx context.Context, buildingBillID uuid.UUID, rows []UsageRow) (out Allocation, err error) {
	track := s.metrics.Track("cycle_allocate")
	defer func() { err = track.End(err) }()

	if len(rows) == 0 {
		return Allocation{}, fmt.Errorf("%w: no usage rows", billing.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(rows))
	for i := range rows {
		if err := billing.Validate(rows[i]); err != nil {
			return Allocation{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		if _, dup := seen[rows[i].UnitNumber]; dup {
			return Allocation{}, fmt.Errorf("%w: unit %s listed twice", billing.ErrInvalidInput, rows[i].UnitNumber)
		}
		seen[rows[i].UnitNumber] = struct{}{}
	}
	cutoff, err := settings.CutoffDay(ctx, s.settings, s.cutoffDay)
	if err != nil {
		return Allocation{}, billing.TxFailed("allocate cycle", err)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		building, err := tx.GetBuildingBill(ctx, buildingBillID)
		if err != nil {
			return err
		}
		existing, err := tx.ListUnitBillsByBuildingBill(ctx, building.ID)
		if err != nil {
			return fmt.Errorf("load unit bills: %w", err)
		}
		out = Allocation{BuildingBill: building, AllocatedTotal: decimal.Zero}
		for _, b := range existing {
			if b.Kind != billing.KindMoveOut {
				return fmt.Errorf("%w: %s", billing.ErrCycleAlreadyAllocated, building.Period())
			}
			// Settlement bills already charge part of this period.
			out.AllocatedTotal = out.AllocatedTotal.Add(b.TotalAmount)
		}

		now := s.now().UTC()
		uow := billing.NewUnitOfWork()
		for _, row := range rows {
			bill, err := s.unitBill(ctx, tx, building, row, cutoff, now)
			if err != nil {
				return fmt.Errorf("unit %s: %w", row.UnitNumber, err)
			}
			uow.InsertUnitBill(bill)
			uow.AppendHistory(billing.BillHistory{
				ID:         s.newID(),
				UnitBillID: bill.ID,
				Action:     billing.HistoryCreated,
				After:      bill.Snapshot(),
				ChangedBy:  "system",
				Reason:     fmt.Sprintf("cycle allocation %s", building.Period()),
				ChangedAt:  now,
			})
			out.Bills = append(out.Bills, bill)
			out.AllocatedTotal = out.AllocatedTotal.Add(bill.TotalAmount)
		}
		out.Residual = building.TotalAmount.Sub(building.RoundDown).Sub(out.AllocatedTotal)
		return tx.Apply(ctx, uow)
	})
	if err != nil {
		s.logger.Error("cycle allocation failed", slog.String("building_bill_id", buildingBillID.String()), slog.Any("error", err))
		return Allocation{}, billing.TxFailed("allocate cycle", err)
	}

	s.logger.Info("cycle allocated",
		slog.String("building_bill_id", out.BuildingBill.ID.String()),
		slog.String("period", out.BuildingBill.Period().String()),
		slog.Int("units", len(out.Bills)),
		slog.String("allocated", billing.FormatAmount(out.AllocatedTotal)),
		slog.String("residual", billing.FormatAmount(out.Residual)))
	return out, nil
}

func (s *Service) unitBill(ctx context.Context, tx billing.Tx, building billing.BuildingBill, row UsageRow, cutoff int, now time.Time) (billing.UnitBill, error) {
	unit, err := tx.FindUnitByNumber(ctx, row.UnitNumber)
	if err != nil {
		return billing.UnitBill{}, fmt.Errorf("load unit: %w", err)
	}
	if unit == nil {
		return billing.UnitBill{}, billing.ErrUnitNotFound
	}
	active, err := tx.ListActiveTenants(ctx, unit.ID)
	if err != nil {
		return billing.UnitBill{}, fmt.Errorf("load tenants: %w", err)
	}
	if len(active) > 1 {
		return billing.UnitBill{}, billing.ErrNoActiveTenant
	}

	period := building.Period()
	bill := billing.UnitBill{
		ID:             s.newID(),
		BuildingBillID: building.ID,
		BillingYear:    period.Year,
		BillingMonth:   int(period.Month),
		UnitID:         unit.ID,
		Kind:           billing.KindRegular,
		PeriodEnd:      period.Next().ReadingDate(cutoff),
		PaymentStatus:  billing.PaymentUnpaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(active) == 1 {
		tenantID := active[0].ID
		bill.TenantID = &tenantID
		bill.TenantName = active[0].Name
	}

	settlement, err := settlementInPeriod(ctx, tx, unit.ID, period)
	if err != nil {
		return billing.UnitBill{}, err
	}
	switch {
	case settlement != nil:
		// The meter was read at the settlement; the rest of the period starts there.
		bill.PreviousReading = settlement.MeterReading
		bill.PeriodStart = settlement.SettlementDate
		if bill.TenantID != nil && settlement.IncomingTenantID != nil && *settlement.IncomingTenantID == *bill.TenantID {
			settlementID := settlement.ID
			bill.Kind = billing.KindMoveIn
			bill.SettlementID = &settlementID
		}
	default:
		prev, err := estimation.ResolvePreviousReading(ctx, tx, unit.ID)
		if err != nil {
			return billing.UnitBill{}, err
		}
		bill.PreviousReading = prev.Value
		bill.PeriodStart = period.ReadingDate(cutoff)
		switch {
		case prev.Latest != nil && !prev.Latest.PeriodEnd.IsZero():
			bill.PeriodStart = prev.Latest.PeriodEnd
		case prev.Source == estimation.SourceMoveIn && len(active) == 1 && active[0].MoveInDate != nil:
			bill.PeriodStart = *active[0].MoveInDate
		}
	}

	usage := row.Usage
	if row.CurrentReading.Valid {
		usage = row.CurrentReading.Decimal.Sub(bill.PreviousReading)
		if usage.IsNegative() {
			return billing.UnitBill{}, billing.ErrNegativeUsage
		}
	}
	bill.CurrentReading = bill.PreviousReading.Add(usage)

	breakdown, err := billing.Allocate(building, usage)
	if err != nil {
		return billing.UnitBill{}, err
	}
	breakdown.Apply(&bill)
	return bill, nil
}

// settlementInPeriod returns the unit's most recent non-cancelled settlement
// resolved to period p.
func settlementInPeriod(ctx context.Context, tx billing.Tx, unitID uuid.UUID, p billing.Period) (*billing.MoveSettlement, error) {
	settlements, err := tx.ListSettlementsByUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("load settlements: %w", err)
	}
	for _, m := range settlements {
		if m.Status != billing.SettlementCancelled && m.Period() == p {
			return &m, nil
		}
	}
	return nil, nil
}

// Statement loads a building bill with every unit bill allocated against it.
func (s *Service) Statement(ctx context.Context, buildingBillID uuid.UUID) (export.Statement, error) {
	var stmt export.Statement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		building, err := tx.GetBuildingBill(ctx, buildingBillID)
		if err != nil {
			return err
		}
		bills, err := tx.ListUnitBillsByBuildingBill(ctx, building.ID)
		if err != nil {
			return fmt.Errorf("load unit bills: %w", err)
		}
		stmt = export.Statement{BuildingBill: building, AllocatedTotal: decimal.Zero}
		numbers := map[uuid.UUID]string{}
		for _, b := range bills {
			number, ok := numbers[b.UnitID]
			if !ok {
				unit, err := tx.GetUnit(ctx, b.UnitID)
				if err != nil {
					return err
				}
				number = unit.Number
				numbers[b.UnitID] = number
			}
			stmt.Lines = append(stmt.Lines, export.Line{UnitNumber: number, Bill: b})
			stmt.AllocatedTotal = stmt.AllocatedTotal.Add(b.TotalAmount)
		}
		stmt.Residual = building.TotalAmount.Sub(building.RoundDown).Sub(stmt.AllocatedTotal)
		return nil
	})
	if err != nil {
		return export.Statement{}, billing.TxFailed("load statement", err)
	}
	return stmt, nil
}
