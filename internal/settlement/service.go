// Package settlement records mid-cycle move-outs, their estimated bills and
// the exact reversal of those effects.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/estimation"
	"github.com/wattshare/wattshare/internal/observability"
	"github.com/wattshare/wattshare/internal/settings"
)

// Service orchestrates settlement creation, status changes and rollback.
type Service struct {
	store     billing.Store
	estimator *estimation.Estimator
	settings  settings.Provider
	cutoffDay int
	logger    *slog.Logger
	metrics   *observability.BillingMetrics
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option configures a Service.
type Option func(*Service)

// WithSettings resolves the meter cutoff day through p on every call.
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

// WithNow overrides the clock for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service instance.
func NewService(store billing.Store, estimator *estimation.Estimator, logger *slog.Logger, opts ...Option) *Service {
	if estimator == nil {
		estimator = estimation.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		estimator: estimator,
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

func (s *Service) resolveCutoffDay(ctx context.Context) (int, error) {
	return settings.CutoffDay(ctx, s.settings, s.cutoffDay)
}

// Preview runs the estimation for a prospective move-out without writing.
func (s *Service) Preview(ctx context.Context, in PreviewInput) (res estimation.Result, err error) {
	track := s.metrics.Track("settlement_preview")
	defer func() { err = track.End(err) }()

	if err := billing.Validate(in); err != nil {
		return estimation.Result{}, err
	}
	cutoff, err := s.resolveCutoffDay(ctx)
	if err != nil {
		return estimation.Result{}, billing.TxFailed("preview settlement", err)
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		if _, err := tx.GetUnit(ctx, in.UnitID); err != nil {
			return err
		}
		var err error
		res, err = s.estimator.Estimate(ctx, tx, estimation.Request{
			UnitID:       in.UnitID,
			MeterReading: in.MeterReading,
			AsOf:         in.SettlementDate,
			CutoffDay:    cutoff,
		})
		return err
	})
	if err != nil {
		return estimation.Result{}, billing.TxFailed("preview settlement", err)
	}
	return res, nil
}

// CreateMoveOut records a move-out: the settlement, an estimated move_out bill
// when the period's building bill exists, the outgoing tenant transition and
// the unit occupancy change, optionally registering the incoming tenant.
func (s *Service) CreateMoveOut(ctx context.Context, in CreateMoveOutInput) (out billing.MoveSettlement, err error) {
	track := s.metrics.Track("settlement_create")
	defer func() { err = track.End(err) }()

	if err := billing.Validate(in); err != nil {
		return billing.MoveSettlement{}, err
	}
	cutoff, err := s.resolveCutoffDay(ctx)
	if err != nil {
		return billing.MoveSettlement{}, billing.TxFailed("create settlement", err)
	}

	var billID *uuid.UUID
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		unit, err := tx.GetUnitForUpdate(ctx, in.UnitID)
		if err != nil {
			return err
		}
		active, err := tx.ListActiveTenants(ctx, unit.ID)
		if err != nil {
			return fmt.Errorf("load active tenants: %w", err)
		}
		if len(active) != 1 {
			return billing.ErrNoActiveTenant
		}
		outgoing := active[0]

		est, err := s.estimator.Estimate(ctx, tx, estimation.Request{
			UnitID:       unit.ID,
			MeterReading: in.MeterReading,
			AsOf:         in.SettlementDate,
			CutoffDay:    cutoff,
		})
		if err != nil {
			return err
		}
		building, err := tx.FindBuildingBillByPeriod(ctx, est.Period)
		if err != nil {
			return fmt.Errorf("load building bill: %w", err)
		}

		now := s.now().UTC()
		settlement := billing.MoveSettlement{
			ID:                  s.newID(),
			UnitID:              unit.ID,
			SettlementDate:      in.SettlementDate,
			BillingYear:         est.Period.Year,
			BillingMonth:        int(est.Period.Month),
			OutgoingTenantID:    outgoing.ID,
			OutgoingTenantName:  outgoing.Name,
			OutgoingPeriodStart: outgoingPeriodStart(est, outgoing),
			OutgoingPeriodEnd:   in.SettlementDate,
			PreviousReading:     est.PreviousReading,
			MeterReading:        in.MeterReading,
			OutgoingUsage:       est.Usage,
			AverageUsage:        est.Averaged.TotalUsage,
			AverageAmount:       est.Averaged.TotalAmount,
			SourceMonths:        est.SourceMonths,
			EstimatedAmount:     est.Breakdown.Total,
			Status:              billing.SettlementPending,
			Notes:               in.Notes,
			CreatedBy:           in.CreatedBy,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		uow := billing.NewUnitOfWork()
		var incoming *billing.Tenant
		if in.Incoming != nil {
			t := s.newTenant(unit.ID, *in.Incoming, settlement, now)
			incoming = &t
			settlement.IncomingTenantID = &t.ID
			settlement.IncomingTenantName = t.Name
			settlement.IncomingPeriodStart = t.MoveInDate
			settlement.IncomingReading = t.MoveInReading
			uow.InsertTenant(t)
		}
		uow.InsertSettlement(settlement)

		if building != nil {
			bill := s.moveOutBill(settlement, building.ID, est, outgoing, now)
			billID = &bill.ID
			uow.InsertUnitBill(bill)
			uow.AppendHistory(billing.BillHistory{
				ID:         s.newID(),
				UnitBillID: bill.ID,
				Action:     billing.HistoryCreated,
				After:      bill.Snapshot(),
				ChangedBy:  in.CreatedBy,
				Reason:     fmt.Sprintf("move-out settlement %s", settlement.ID),
				ChangedAt:  now,
			})
		}

		moveOutDate := in.SettlementDate
		outgoing.Status = billing.TenantMovedOut
		outgoing.MoveOutDate = &moveOutDate
		outgoing.MoveOutReading = decimal.NewNullDecimal(in.MeterReading)
		outgoing.UpdatedAt = now
		uow.UpdateTenant(outgoing)

		if incoming != nil {
			unit.Status = billing.UnitOccupied
			unit.TenantName = incoming.Name
			unit.TenantContact = incoming.Contact
		} else {
			unit.Status = billing.UnitVacant
			unit.TenantName = ""
			unit.TenantContact = ""
		}
		unit.UpdatedAt = now
		uow.UpdateUnit(unit)

		if err := tx.Apply(ctx, uow); err != nil {
			return err
		}
		out = settlement
		return nil
	})
	if err != nil {
		s.logger.Error("settlement create failed", slog.String("unit_id", in.UnitID.String()), slog.Any("error", err))
		return billing.MoveSettlement{}, billing.TxFailed("create settlement", err)
	}

	attrs := []any{
		slog.String("settlement_id", out.ID.String()),
		slog.String("unit_id", out.UnitID.String()),
		slog.String("period", out.Period().String()),
		slog.String("estimated_amount", billing.FormatAmount(out.EstimatedAmount)),
		slog.Bool("incoming_registered", out.IncomingTenantID != nil),
	}
	if billID != nil {
		attrs = append(attrs, slog.String("unit_bill_id", billID.String()))
	}
	s.logger.Info("settlement created", attrs...)
	return out, nil
}

// RegisterIncoming records the incoming tenant of an existing settlement.
func (s *Service) RegisterIncoming(ctx context.Context, id uuid.UUID, in TenantInput) (out billing.MoveSettlement, err error) {
	track := s.metrics.Track("settlement_register_incoming")
	defer func() { err = track.End(err) }()

	if err := billing.Validate(in); err != nil {
		return billing.MoveSettlement{}, err
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		settlement, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if settlement.IncomingTenantID != nil {
			return billing.ErrAlreadyRegistered
		}
		if settlement.Status == billing.SettlementCancelled {
			return fmt.Errorf("%w: settlement is cancelled", billing.ErrInvalidTransition)
		}
		unit, err := tx.GetUnitForUpdate(ctx, settlement.UnitID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		tenant := s.newTenant(unit.ID, in, settlement, now)
		settlement.IncomingTenantID = &tenant.ID
		settlement.IncomingTenantName = tenant.Name
		settlement.IncomingPeriodStart = tenant.MoveInDate
		settlement.IncomingReading = tenant.MoveInReading
		settlement.UpdatedAt = now

		unit.Status = billing.UnitOccupied
		unit.TenantName = tenant.Name
		unit.TenantContact = tenant.Contact
		unit.UpdatedAt = now

		uow := billing.NewUnitOfWork()
		uow.InsertTenant(tenant)
		uow.UpdateUnit(unit)
		uow.UpdateSettlement(settlement)
		if err := tx.Apply(ctx, uow); err != nil {
			return err
		}
		out = settlement
		return nil
	})
	if err != nil {
		return billing.MoveSettlement{}, billing.TxFailed("register incoming tenant", err)
	}
	s.logger.Info("incoming tenant registered",
		slog.String("settlement_id", out.ID.String()),
		slog.String("tenant_id", out.IncomingTenantID.String()))
	return out, nil
}

// SetStatus moves a pending settlement to completed or cancelled. Cancelling
// here only flips the flag; Rollback reverses the recorded effects.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status billing.SettlementStatus) (out billing.MoveSettlement, err error) {
	track := s.metrics.Track("settlement_set_status")
	defer func() { err = track.End(err) }()

	if status != billing.SettlementCompleted && status != billing.SettlementCancelled {
		return billing.MoveSettlement{}, fmt.Errorf("%w: unsupported status %q", billing.ErrInvalidTransition, status)
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		settlement, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if settlement.Status != billing.SettlementPending {
			return fmt.Errorf("%w: %s -> %s", billing.ErrInvalidTransition, settlement.Status, status)
		}
		settlement.Status = status
		settlement.UpdatedAt = s.now().UTC()
		uow := billing.NewUnitOfWork()
		uow.UpdateSettlement(settlement)
		if err := tx.Apply(ctx, uow); err != nil {
			return err
		}
		out = settlement
		return nil
	})
	if err != nil {
		return billing.MoveSettlement{}, billing.TxFailed("set settlement status", err)
	}
	s.logger.Info("settlement status changed",
		slog.String("settlement_id", out.ID.String()),
		slog.String("status", string(out.Status)))
	return out, nil
}

// Rollback reverses a pending settlement: its unit bills are deleted, the
// outgoing tenant is reactivated, the incoming tenant is removed (or demoted
// when it already has other bills) and the unit is restored. Paid bills block
// the rollback.
func (s *Service) Rollback(ctx context.Context, id uuid.UUID, actor string) (out billing.MoveSettlement, err error) {
	track := s.metrics.Track("settlement_rollback")
	defer func() { err = track.End(err) }()

	var deleted int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		settlement, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch settlement.Status {
		case billing.SettlementCancelled:
			return billing.ErrAlreadyCancelled
		case billing.SettlementPending:
		default:
			return fmt.Errorf("%w: cannot roll back a %s settlement", billing.ErrInvalidTransition, settlement.Status)
		}
		unit, err := tx.GetUnitForUpdate(ctx, settlement.UnitID)
		if err != nil {
			return err
		}
		bills, err := tx.ListUnitBillsBySettlement(ctx, settlement.ID)
		if err != nil {
			return fmt.Errorf("load settlement bills: %w", err)
		}
		for _, b := range bills {
			if b.PaymentStatus == billing.PaymentPaid {
				return billing.ErrPaidBillsBlockRollback
			}
		}

		now := s.now().UTC()
		uow := billing.NewUnitOfWork()
		for _, b := range bills {
			uow.AppendHistory(billing.BillHistory{
				ID:         s.newID(),
				UnitBillID: b.ID,
				Action:     billing.HistoryDeleted,
				Before:     b.Snapshot(),
				ChangedBy:  actor,
				Reason:     fmt.Sprintf("rollback of settlement %s", settlement.ID),
				ChangedAt:  now,
			})
			uow.DeleteUnitBill(b.ID)
		}

		outgoing, err := tx.GetTenant(ctx, settlement.OutgoingTenantID)
		if err != nil {
			return err
		}
		outgoing.Status = billing.TenantActive
		outgoing.MoveOutDate = nil
		outgoing.MoveOutReading = decimal.NullDecimal{}
		outgoing.UpdatedAt = now
		uow.UpdateTenant(outgoing)

		if settlement.IncomingTenantID != nil {
			if err := s.retireIncoming(ctx, tx, uow, settlement, bills, now); err != nil {
				return err
			}
		}

		unit.Status = billing.UnitOccupied
		unit.TenantName = outgoing.Name
		unit.TenantContact = outgoing.Contact
		unit.UpdatedAt = now
		uow.UpdateUnit(unit)

		settlement.Status = billing.SettlementCancelled
		settlement.Notes = billing.AppendNote(settlement.Notes,
			fmt.Sprintf("[%s] rolled back by %s: %d unit bill(s) removed", now.Format(time.RFC3339), actorName(actor), len(bills)))
		settlement.UpdatedAt = now
		uow.UpdateSettlement(settlement)

		if err := tx.Apply(ctx, uow); err != nil {
			return err
		}
		deleted = len(bills)
		out = settlement
		return nil
	})
	if err != nil {
		if !errors.Is(err, billing.ErrAlreadyCancelled) {
			s.logger.Warn("settlement rollback refused", slog.String("settlement_id", id.String()), slog.Any("error", err))
		}
		return billing.MoveSettlement{}, billing.TxFailed("rollback settlement", err)
	}
	s.logger.Info("settlement rolled back",
		slog.String("settlement_id", out.ID.String()),
		slog.String("actor", actorName(actor)),
		slog.Int("unit_bills_deleted", deleted))
	return out, nil
}

// retireIncoming deletes the incoming tenant, or demotes it when it has bills
// beyond the ones this rollback removes.
func (s *Service) retireIncoming(ctx context.Context, tx billing.Tx, uow *billing.UnitOfWork, settlement billing.MoveSettlement, removed []billing.UnitBill, now time.Time) error {
	tenant, err := tx.GetTenant(ctx, *settlement.IncomingTenantID)
	if errors.Is(err, billing.ErrTenantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	total, err := tx.CountUnitBillsByTenant(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("count tenant bills: %w", err)
	}
	for _, b := range removed {
		if b.TenantID != nil && *b.TenantID == tenant.ID {
			total--
		}
	}
	if total <= 0 {
		uow.DeleteTenant(tenant.ID)
		return nil
	}
	moveOut := now
	tenant.Status = billing.TenantMovedOut
	tenant.MoveOutDate = &moveOut
	tenant.Notes = billing.AppendNote(tenant.Notes,
		fmt.Sprintf("[%s] settlement %s rolled back; kept for %d existing bill(s)", now.Format(time.RFC3339), settlement.ID, total))
	tenant.UpdatedAt = now
	uow.UpdateTenant(tenant)
	return nil
}

// Get returns a settlement by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (billing.MoveSettlement, error) {
	var out billing.MoveSettlement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		var err error
		out, err = tx.GetSettlement(ctx, id)
		return err
	})
	if err != nil {
		return billing.MoveSettlement{}, billing.TxFailed("get settlement", err)
	}
	return out, nil
}

// ListByUnit returns the unit's settlements, newest first.
func (s *Service) ListByUnit(ctx context.Context, unitID uuid.UUID) ([]billing.MoveSettlement, error) {
	var out []billing.MoveSettlement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		if _, err := tx.GetUnit(ctx, unitID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListSettlementsByUnit(ctx, unitID)
		return err
	})
	if err != nil {
		return nil, billing.TxFailed("list settlements", err)
	}
	return out, nil
}

func (s *Service) newTenant(unitID uuid.UUID, in TenantInput, settlement billing.MoveSettlement, now time.Time) billing.Tenant {
	moveIn := settlement.SettlementDate
	if in.MoveInDate != nil {
		moveIn = *in.MoveInDate
	}
	reading := in.MoveInReading
	if !reading.Valid {
		reading = decimal.NewNullDecimal(settlement.MeterReading)
	}
	return billing.Tenant{
		ID:            s.newID(),
		UnitID:        unitID,
		Name:          in.Name,
		Contact:       in.Contact,
		Status:        billing.TenantActive,
		MoveInDate:    &moveIn,
		MoveInReading: reading,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) moveOutBill(settlement billing.MoveSettlement, buildingBillID uuid.UUID, est estimation.Result, outgoing billing.Tenant, now time.Time) billing.UnitBill {
	tenantID := outgoing.ID
	settlementID := settlement.ID
	bill := billing.UnitBill{
		ID:              s.newID(),
		BuildingBillID:  buildingBillID,
		BillingYear:     settlement.BillingYear,
		BillingMonth:    settlement.BillingMonth,
		UnitID:          settlement.UnitID,
		TenantID:        &tenantID,
		TenantName:      outgoing.Name,
		SettlementID:    &settlementID,
		Kind:            billing.KindMoveOut,
		IsEstimated:     true,
		PeriodStart:     settlement.OutgoingPeriodStart,
		PeriodEnd:       settlement.OutgoingPeriodEnd,
		PreviousReading: est.PreviousReading,
		CurrentReading:  settlement.MeterReading,
		PaymentStatus:   billing.PaymentUnpaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	est.Breakdown.Apply(&bill)
	return bill
}

// outgoingPeriodStart is where the outgoing tenant's usage started: the end of
// the last regular bill, the move-in date, or the start of the period.
func outgoingPeriodStart(est estimation.Result, outgoing billing.Tenant) time.Time {
	switch {
	case est.ReadingSince != nil && !est.ReadingSince.IsZero():
		return *est.ReadingSince
	case outgoing.MoveInDate != nil:
		return *outgoing.MoveInDate
	default:
		return est.Period.Start()
	}
}

func actorName(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
