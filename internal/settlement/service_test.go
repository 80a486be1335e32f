package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/billing/billingtest"
	"github.com/wattshare/wattshare/internal/estimation"
	"github.com/wattshare/wattshare/internal/settings"
)

// ============================================================================
// FIXTURE
// ============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fixedNow = time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *billingtest.Store
	svc    *Service
	unit   billing.Unit
	tenant billing.Tenant
}

func buildingBill(year, month int, usage string) billing.BuildingBill {
	fees := billing.Fees{
		BasicFee:  dec("1300000"),
		PowerFee:  dec("3000000"),
		FuelFee:   dec("-120000"),
		VAT:       dec("418000"),
		PowerFund: dec("150000"),
	}
	return billing.BuildingBill{
		Year: year, Month: month, TotalUsage: dec(usage), Fees: fees, TotalAmount: fees.Sum(),
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := billingtest.NewStore()
	moveIn := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	unit := store.PutUnit(billing.Unit{
		Number: "301", Status: billing.UnitOccupied, TenantName: "Kim Minsu", TenantContact: "010-1111-2222",
		UpdatedAt: moveIn,
	})
	tenant := store.PutTenant(billing.Tenant{
		UnitID: unit.ID, Name: "Kim Minsu", Contact: "010-1111-2222", Status: billing.TenantActive,
		MoveInDate: &moveIn, MoveInReading: decimal.NewNullDecimal(dec("0")),
		CreatedAt: moveIn, UpdatedAt: moveIn,
	})
	store.PutBuildingBill(buildingBill(2024, 2, "24000"))
	store.PutBuildingBill(buildingBill(2024, 3, "25000"))
	store.PutBuildingBill(buildingBill(2024, 4, "26000"))
	store.PutBuildingBill(buildingBill(2024, 5, "25500"))
	tenantID := tenant.ID
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, TenantID: &tenantID, TenantName: tenant.Name, Kind: billing.KindRegular,
		BillingYear: 2024, BillingMonth: 4, PreviousReading: dec("1050"), CurrentReading: dec("1200"),
		PeriodEnd:     time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC),
		PaymentStatus: billing.PaymentPaid, CreatedAt: moveIn,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithNow(func() time.Time { return fixedNow })}, opts...)
	svc := NewService(store, estimation.New(), logger, opts...)
	return &fixture{store: store, svc: svc, unit: unit, tenant: tenant}
}

func (f *fixture) moveOut() CreateMoveOutInput {
	return CreateMoveOutInput{
		UnitID:         f.unit.ID,
		SettlementDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		MeterReading:   dec("1350"),
		Notes:          "lease ended",
		CreatedBy:      "admin",
	}
}

func (f *fixture) settlementBills(id uuid.UUID) []billing.UnitBill {
	var out []billing.UnitBill
	for _, b := range f.store.UnitBills() {
		if b.SettlementID != nil && *b.SettlementID == id {
			out = append(out, b)
		}
	}
	return out
}

// comparable view of a tenant without the bookkeeping timestamp
func tenantView(t billing.Tenant) billing.Tenant {
	t.UpdatedAt = time.Time{}
	return t
}

func unitView(u billing.Unit) billing.Unit {
	u.UpdatedAt = time.Time{}
	return u
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateMoveOutWithoutIncomingVacatesUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	assert.Equal(t, billing.SettlementPending, s.Status)
	assert.Equal(t, 2024, s.BillingYear)
	assert.Equal(t, 5, s.BillingMonth)
	assert.True(t, s.PreviousReading.Equal(dec("1200")))
	assert.True(t, s.OutgoingUsage.Equal(dec("150")))
	assert.Equal(t, []string{"2024-04", "2024-03", "2024-02"}, s.SourceMonths)
	assert.True(t, s.AverageUsage.Equal(dec("25000")), "average usage %s", s.AverageUsage)
	assert.Equal(t, time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), s.OutgoingPeriodStart)
	assert.Nil(t, s.IncomingTenantID)

	unit, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, billing.UnitVacant, unit.Status)
	assert.Empty(t, unit.TenantName)

	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantMovedOut, tenant.Status)
	require.NotNil(t, tenant.MoveOutDate)
	assert.True(t, tenant.MoveOutReading.Valid)
	assert.True(t, tenant.MoveOutReading.Decimal.Equal(dec("1350")))

	bills := f.settlementBills(s.ID)
	require.Len(t, bills, 1)
	bill := bills[0]
	assert.Equal(t, billing.KindMoveOut, bill.Kind)
	assert.True(t, bill.IsEstimated)
	assert.Equal(t, billing.PaymentUnpaid, bill.PaymentStatus)
	assert.True(t, bill.TotalAmount.Equal(s.EstimatedAmount))
	// 1300000 * 150 / 25000 = 7800
	assert.True(t, bill.BasicFee.Equal(dec("7800")), "basic fee %s", bill.BasicFee)
	assert.Equal(t, "Kim Minsu", bill.TenantName)

	history := f.store.History()
	require.Len(t, history, 1)
	assert.Equal(t, billing.HistoryCreated, history[0].Action)
	assert.Equal(t, bill.ID, history[0].UnitBillID)
	assert.Nil(t, history[0].Before)
	require.NotNil(t, history[0].After)
	assert.True(t, history[0].After.TotalAmount.Equal(bill.TotalAmount))
}

func TestCreateMoveOutWithIncomingOccupiesUnit(t *testing.T) {
	f := newFixture(t)
	in := f.moveOut()
	in.Incoming = &TenantInput{Name: "Lee Jiwoo", Contact: "010-3333-4444"}

	s, err := f.svc.CreateMoveOut(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, s.IncomingTenantID)
	assert.Equal(t, "Lee Jiwoo", s.IncomingTenantName)
	assert.True(t, s.IncomingReading.Valid)
	assert.True(t, s.IncomingReading.Decimal.Equal(dec("1350")))

	incoming, ok := f.store.Tenant(*s.IncomingTenantID)
	require.True(t, ok)
	assert.Equal(t, billing.TenantActive, incoming.Status)
	require.NotNil(t, incoming.MoveInDate)
	assert.Equal(t, in.SettlementDate, *incoming.MoveInDate)

	unit, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, billing.UnitOccupied, unit.Status)
	assert.Equal(t, "Lee Jiwoo", unit.TenantName)
	assert.Equal(t, "010-3333-4444", unit.TenantContact)
}

func TestCreateMoveOutWithoutBuildingBillRecordsSettlementOnly(t *testing.T) {
	f := newFixture(t)
	in := f.moveOut()
	in.SettlementDate = time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)
	in.MeterReading = dec("1400")

	s, err := f.svc.CreateMoveOut(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 6, s.BillingMonth)
	assert.Equal(t, []string{"2024-05", "2024-04", "2024-03"}, s.SourceMonths)
	assert.Empty(t, f.settlementBills(s.ID))
	assert.Empty(t, f.store.History())
	_, ok := f.store.Settlement(s.ID)
	assert.True(t, ok)
}

func TestCreateMoveOutRequiresExactlyOneActiveTenant(t *testing.T) {
	f := newFixture(t)
	f.store.PutTenant(billing.Tenant{UnitID: f.unit.ID, Name: "Second", Status: billing.TenantActive})

	_, err := f.svc.CreateMoveOut(context.Background(), f.moveOut())
	require.ErrorIs(t, err, billing.ErrNoActiveTenant)
	assert.False(t, errors.Is(err, billing.ErrTransactionFailed))

	empty := billingtest.NewStore()
	unit := empty.PutUnit(billing.Unit{Number: "101", Status: billing.UnitVacant})
	svc := NewService(empty, nil, nil)
	_, err = svc.CreateMoveOut(context.Background(), CreateMoveOutInput{
		UnitID: unit.ID, SettlementDate: fixedNow, MeterReading: dec("1"),
	})
	require.ErrorIs(t, err, billing.ErrNoActiveTenant)
}

func TestCreateMoveOutTwiceOnSameUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)
	billsBefore := f.store.UnitBills()
	historyBefore := f.store.History()

	_, err = f.svc.CreateMoveOut(ctx, f.moveOut())
	require.ErrorIs(t, err, billing.ErrNoActiveTenant)

	settlements, err := f.svc.ListByUnit(ctx, f.unit.ID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, first.ID, settlements[0].ID)
	assert.Equal(t, billing.SettlementPending, settlements[0].Status)
	assert.ElementsMatch(t, billsBefore, f.store.UnitBills())
	assert.Len(t, f.store.History(), len(historyBefore))

	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantMovedOut, tenant.Status)
	unit, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, billing.UnitVacant, unit.Status)
}

func TestCreateMoveOutPropagatesEstimationErrors(t *testing.T) {
	f := newFixture(t)
	in := f.moveOut()
	in.MeterReading = dec("1100")

	_, err := f.svc.CreateMoveOut(context.Background(), in)
	require.ErrorIs(t, err, billing.ErrNegativeUsage)

	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantActive, tenant.Status)
}

func TestCreateMoveOutValidatesInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateMoveOut(context.Background(), CreateMoveOutInput{MeterReading: dec("-1")})
	require.ErrorIs(t, err, billing.ErrInvalidInput)

	in := f.moveOut()
	in.Incoming = &TenantInput{}
	_, err = f.svc.CreateMoveOut(context.Background(), in)
	require.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestCreateMoveOutMidTransactionFailureAbortsEverything(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("disk full")
	f.store.FailOn = billingtest.FailAfter(2, cause)

	_, err := f.svc.CreateMoveOut(context.Background(), f.moveOut())
	require.ErrorIs(t, err, billing.ErrTransactionFailed)
	require.ErrorIs(t, err, cause)

	assert.Equal(t, 0, f.store.Applied())
	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, tenantView(f.tenant), tenantView(tenant))
	unit, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, unitView(f.unit), unitView(unit))
	assert.Len(t, f.store.UnitBills(), 1)
	assert.Empty(t, f.store.History())
}

func TestCutoffDayFromSettings(t *testing.T) {
	f := newFixture(t, WithSettings(settings.Map{settings.KeyMeterCutoffDay: "25"}))
	ctx := context.Background()

	// The 20th is before a cutoff of 25, so the date belongs to April, which is
	// already billed; the estimate moves on to May.
	res, err := f.svc.Preview(ctx, PreviewInput{UnitID: f.unit.ID, SettlementDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), MeterReading: dec("1300")})
	require.NoError(t, err)
	assert.Equal(t, "2024-05", res.BillingPeriod)

	bad := newFixture(t, WithSettings(settings.Map{settings.KeyMeterCutoffDay: "40"}))
	_, err = bad.svc.Preview(ctx, PreviewInput{UnitID: bad.unit.ID, SettlementDate: fixedNow, MeterReading: dec("1300")})
	require.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestCutoffDayFallsBackToConfigured(t *testing.T) {
	store := billingtest.NewStore()
	unit := store.PutUnit(billing.Unit{Number: "102", Status: billing.UnitOccupied})
	store.PutTenant(billing.Tenant{UnitID: unit.ID, Name: "Park", Status: billing.TenantActive})
	store.PutBuildingBill(buildingBill(2024, 3, "25000"))
	store.PutBuildingBill(buildingBill(2024, 4, "25000"))
	svc := NewService(store, nil, nil, WithSettings(settings.Map{}), WithCutoffDay(21), WithNow(func() time.Time { return fixedNow }))

	s, err := svc.CreateMoveOut(context.Background(), CreateMoveOutInput{
		UnitID: unit.ID, SettlementDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), MeterReading: dec("300"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, s.BillingMonth)
	assert.Equal(t, []string{"2024-03"}, s.SourceMonths)
	assert.True(t, s.PreviousReading.IsZero())
}

func TestPreviewDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Preview(context.Background(), PreviewInput{UnitID: f.unit.ID, SettlementDate: fixedNow, MeterReading: dec("1350")})
	require.NoError(t, err)
	assert.True(t, res.IsEstimated)
	assert.True(t, res.Usage.Equal(dec("150")))
	assert.Equal(t, 0, f.store.Applied())

	_, err = f.svc.Preview(context.Background(), PreviewInput{UnitID: uuid.New(), SettlementDate: fixedNow, MeterReading: dec("1")})
	require.ErrorIs(t, err, billing.ErrUnitNotFound)
}

// ============================================================================
// ROLLBACK
// ============================================================================

func TestRollbackRestoresPreCreateState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unitBefore, _ := f.store.Unit(f.unit.ID)
	tenantBefore, _ := f.store.Tenant(f.tenant.ID)

	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)
	require.Len(t, f.settlementBills(s.ID), 1)

	rolled, err := f.svc.Rollback(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, billing.SettlementCancelled, rolled.Status)
	assert.Contains(t, rolled.Notes, "lease ended")
	assert.Contains(t, rolled.Notes, "rolled back by admin")

	unitAfter, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, unitView(unitBefore), unitView(unitAfter))
	assert.Equal(t, billing.UnitOccupied, unitAfter.Status)
	assert.Equal(t, "Kim Minsu", unitAfter.TenantName)
	assert.Equal(t, "010-1111-2222", unitAfter.TenantContact)

	tenantAfter, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, tenantView(tenantBefore), tenantView(tenantAfter))
	assert.Equal(t, billing.TenantActive, tenantAfter.Status)
	assert.Nil(t, tenantAfter.MoveOutDate)
	assert.False(t, tenantAfter.MoveOutReading.Valid)

	assert.Empty(t, f.settlementBills(s.ID))
	stored, ok := f.store.Settlement(s.ID)
	require.True(t, ok, "settlements are never deleted")
	assert.Equal(t, billing.SettlementCancelled, stored.Status)

	history := f.store.History()
	require.Len(t, history, 2)
	assert.Equal(t, billing.HistoryDeleted, history[1].Action)
	assert.NotNil(t, history[1].Before)
	assert.Equal(t, "admin", history[1].ChangedBy)
}

func TestRollbackDeletesIncomingTenantWithoutOtherBills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.moveOut()
	in.Incoming = &TenantInput{Name: "Lee Jiwoo", Contact: "010-3333-4444"}

	s, err := f.svc.CreateMoveOut(ctx, in)
	require.NoError(t, err)

	// A move_in bill tied to the settlement is removed together with it.
	incomingID := *s.IncomingTenantID
	settlementID := s.ID
	f.store.PutUnitBill(billing.UnitBill{
		UnitID: f.unit.ID, TenantID: &incomingID, SettlementID: &settlementID, Kind: billing.KindMoveIn,
		BillingYear: 2024, BillingMonth: 5, PaymentStatus: billing.PaymentUnpaid, CreatedAt: fixedNow.Add(time.Hour),
	})

	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.NoError(t, err)

	_, ok := f.store.Tenant(incomingID)
	assert.False(t, ok)
	assert.Empty(t, f.settlementBills(s.ID))
	unit, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, "Kim Minsu", unit.TenantName)
}

func TestRollbackDemotesIncomingTenantWithHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.moveOut()
	in.Incoming = &TenantInput{Name: "Lee Jiwoo"}

	s, err := f.svc.CreateMoveOut(ctx, in)
	require.NoError(t, err)
	incomingID := *s.IncomingTenantID
	f.store.PutUnitBill(billing.UnitBill{
		UnitID: f.unit.ID, TenantID: &incomingID, Kind: billing.KindRegular,
		BillingYear: 2024, BillingMonth: 6, PaymentStatus: billing.PaymentUnpaid,
	})

	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.NoError(t, err)

	incoming, ok := f.store.Tenant(incomingID)
	require.True(t, ok)
	assert.Equal(t, billing.TenantMovedOut, incoming.Status)
	assert.Contains(t, incoming.Notes, "rolled back")

	outgoing, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantActive, outgoing.Status)
}

func TestRollbackBlockedByPaidBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	bill := f.settlementBills(s.ID)[0]
	paidAt := fixedNow
	bill.PaymentStatus = billing.PaymentPaid
	bill.PaidAt = &paidAt
	f.store.PutUnitBill(bill)
	appliedBefore := f.store.Applied()

	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.ErrorIs(t, err, billing.ErrPaidBillsBlockRollback)

	assert.Equal(t, appliedBefore, f.store.Applied())
	stored, _ := f.store.Settlement(s.ID)
	assert.Equal(t, billing.SettlementPending, stored.Status)
	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantMovedOut, tenant.Status)
	assert.Len(t, f.settlementBills(s.ID), 1)
}

func TestRollbackTwiceReturnsAlreadyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.NoError(t, err)
	applied := f.store.Applied()

	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.ErrorIs(t, err, billing.ErrAlreadyCancelled)
	assert.Equal(t, applied, f.store.Applied())
}

func TestRollbackRejectsCompletedAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, s.ID, billing.SettlementCompleted)
	require.NoError(t, err)

	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.ErrorIs(t, err, billing.ErrInvalidTransition)

	_, err = f.svc.Rollback(ctx, uuid.New(), "admin")
	require.ErrorIs(t, err, billing.ErrSettlementNotFound)
}

func TestRollbackMidTransactionFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	cause := errors.New("connection reset")
	f.store.FailOn = billingtest.FailAfter(3, cause)
	_, err = f.svc.Rollback(ctx, s.ID, "admin")
	require.ErrorIs(t, err, billing.ErrTransactionFailed)
	var txErr *billing.TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "rollback settlement", txErr.Op)

	f.store.FailOn = nil
	stored, _ := f.store.Settlement(s.ID)
	assert.Equal(t, billing.SettlementPending, stored.Status)
	assert.Len(t, f.settlementBills(s.ID), 1)
	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantMovedOut, tenant.Status)
}

// ============================================================================
// INCOMING & STATUS
// ============================================================================

func TestRegisterIncomingLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	moveIn := time.Date(2024, 5, 25, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.RegisterIncoming(ctx, s.ID, TenantInput{
		Name: "Choi Yuna", Contact: "010-5555-6666", MoveInDate: &moveIn,
		MoveInReading: decimal.NewNullDecimal(dec("1362")),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.IncomingTenantID)
	assert.Equal(t, moveIn, *updated.IncomingPeriodStart)
	assert.True(t, updated.IncomingReading.Decimal.Equal(dec("1362")))

	unit, _ := f.store.Unit(f.unit.ID)
	assert.Equal(t, billing.UnitOccupied, unit.Status)
	assert.Equal(t, "Choi Yuna", unit.TenantName)

	outgoing, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantMovedOut, outgoing.Status)

	_, err = f.svc.RegisterIncoming(ctx, s.ID, TenantInput{Name: "Again"})
	require.ErrorIs(t, err, billing.ErrAlreadyRegistered)

	_, err = f.svc.RegisterIncoming(ctx, uuid.New(), TenantInput{Name: "Nobody"})
	require.ErrorIs(t, err, billing.ErrSettlementNotFound)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	cancelled, err := f.svc.SetStatus(ctx, s.ID, billing.SettlementCancelled)
	require.NoError(t, err)
	assert.Equal(t, billing.SettlementCancelled, cancelled.Status)
	// Administrative cancel keeps every recorded effect.
	assert.Len(t, f.settlementBills(s.ID), 1)
	tenant, _ := f.store.Tenant(f.tenant.ID)
	assert.Equal(t, billing.TenantMovedOut, tenant.Status)

	_, err = f.svc.SetStatus(ctx, s.ID, billing.SettlementCompleted)
	require.ErrorIs(t, err, billing.ErrInvalidTransition)
	_, err = f.svc.SetStatus(ctx, s.ID, billing.SettlementPending)
	require.ErrorIs(t, err, billing.ErrInvalidTransition)
}

func TestGetAndListByUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateMoveOut(ctx, f.moveOut())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	list, err := f.svc.ListByUnit(ctx, f.unit.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.ListByUnit(ctx, uuid.New())
	require.ErrorIs(t, err, billing.ErrUnitNotFound)
	_, err = f.svc.Get(ctx, uuid.New())
	require.ErrorIs(t, err, billing.ErrSettlementNotFound)
}
