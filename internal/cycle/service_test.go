package cycle

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
	"github.com/wattshare/wattshare/internal/settings"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

var runAt = day(2024, time.June, 10)

type fixture struct {
	store    *billingtest.Store
	svc      *Service
	building billing.BuildingBill
	units    map[string]billing.Unit
	tenants  map[string]billing.Tenant
}

func mayFees() billing.Fees {
	return billing.Fees{
		BasicFee:  dec("1300000"),
		PowerFee:  dec("3000000"),
		FuelFee:   dec("-120000"),
		VAT:       dec("418000"),
		PowerFund: dec("150000"),
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := billingtest.NewStore()
	fees := mayFees()
	building := store.PutBuildingBill(billing.BuildingBill{
		Year: 2024, Month: 5, TotalUsage: dec("25000"), Fees: fees,
		RoundDown: dec("-8"), TotalAmount: fees.Sum().Add(dec("-8")),
	})

	f := &fixture{store: store, building: building, units: map[string]billing.Unit{}, tenants: map[string]billing.Tenant{}}
	since := day(2023, time.March, 1)

	f.units["301"] = store.PutUnit(billing.Unit{Number: "301", Status: billing.UnitOccupied, TenantName: "Kim Minsu"})
	f.tenants["301"] = store.PutTenant(billing.Tenant{
		UnitID: f.units["301"].ID, Name: "Kim Minsu", Status: billing.TenantActive,
		MoveInDate: &since, MoveInReading: decimal.NewNullDecimal(dec("0")), CreatedAt: since,
	})
	tenantID := f.tenants["301"].ID
	store.PutUnitBill(billing.UnitBill{
		UnitID: f.units["301"].ID, TenantID: &tenantID, Kind: billing.KindRegular,
		BillingYear: 2024, BillingMonth: 4, CurrentReading: dec("1200"),
		PeriodEnd: day(2024, time.May, 9), PaymentStatus: billing.PaymentPaid, CreatedAt: since,
	})

	movedIn := day(2024, time.May, 15)
	f.units["302"] = store.PutUnit(billing.Unit{Number: "302", Status: billing.UnitOccupied, TenantName: "Lee Jiwon"})
	f.tenants["302"] = store.PutTenant(billing.Tenant{
		UnitID: f.units["302"].ID, Name: "Lee Jiwon", Status: billing.TenantActive,
		MoveInDate: &movedIn, MoveInReading: decimal.NewNullDecimal(dec("500")), CreatedAt: movedIn,
	})

	f.units["303"] = store.PutUnit(billing.Unit{Number: "303", Status: billing.UnitVacant})

	opts = append([]Option{WithNow(func() time.Time { return runAt })}, opts...)
	f.svc = NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	return f
}

// withSettlement seeds unit 304 whose tenant moved out on May 20 at reading
// 900, handing over to a new tenant, plus the estimated move_out bill.
func (f *fixture) withSettlement(status billing.SettlementStatus) billing.MoveSettlement {
	settledOn := day(2024, time.May, 20)
	unit := f.store.PutUnit(billing.Unit{Number: "304", Status: billing.UnitOccupied, TenantName: "Choi Yuna"})
	f.units["304"] = unit
	outgoing := f.store.PutTenant(billing.Tenant{
		UnitID: unit.ID, Name: "Park Hyun", Status: billing.TenantMovedOut, CreatedAt: day(2022, time.January, 1),
	})
	incoming := f.store.PutTenant(billing.Tenant{
		UnitID: unit.ID, Name: "Choi Yuna", Status: billing.TenantActive,
		MoveInDate: &settledOn, MoveInReading: decimal.NewNullDecimal(dec("900")), CreatedAt: settledOn,
	})
	f.tenants["304"] = incoming
	incomingID := incoming.ID
	settlement := f.store.PutSettlement(billing.MoveSettlement{
		UnitID: unit.ID, SettlementDate: settledOn, BillingYear: 2024, BillingMonth: 5,
		OutgoingTenantID: outgoing.ID, OutgoingTenantName: outgoing.Name,
		MeterReading: dec("900"), IncomingTenantID: &incomingID, IncomingTenantName: incoming.Name,
		Status: status,
	})
	outgoingID, settlementID := outgoing.ID, settlement.ID
	f.store.PutUnitBill(billing.UnitBill{
		BuildingBillID: f.building.ID, BillingYear: 2024, BillingMonth: 5, UnitID: unit.ID,
		TenantID: &outgoingID, SettlementID: &settlementID, Kind: billing.KindMoveOut, IsEstimated: true,
		TotalAmount: dec("20000"), PaymentStatus: billing.PaymentUnpaid, CreatedAt: settledOn,
	})
	return settlement
}

func billFor(t *testing.T, a Allocation, unitID uuid.UUID) billing.UnitBill {
	t.Helper()
	for _, b := range a.Bills {
		if b.UnitID == unitID {
			return b
		}
	}
	t.Fatalf("no bill for unit %s", unitID)
	return billing.UnitBill{}
}

func TestAllocateCycleRegularBills(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.AllocateCycle(context.Background(), f.building.ID, []UsageRow{
		{UnitNumber: "301", Usage: dec("150")},
		{UnitNumber: "302", CurrentReading: decimal.NewNullDecimal(dec("700"))},
		{UnitNumber: "303", Usage: dec("0")},
	})
	require.NoError(t, err)
	require.Len(t, res.Bills, 3)

	b301 := billFor(t, res, f.units["301"].ID)
	assert.Equal(t, billing.KindRegular, b301.Kind)
	assert.False(t, b301.IsEstimated)
	assert.Equal(t, f.tenants["301"].ID, *b301.TenantID)
	assert.Equal(t, "Kim Minsu", b301.TenantName)
	assert.True(t, b301.PreviousReading.Equal(dec("1200")))
	assert.True(t, b301.CurrentReading.Equal(dec("1350")))
	assert.Equal(t, day(2024, time.May, 9), b301.PeriodStart)
	assert.Equal(t, day(2024, time.June, 9), b301.PeriodEnd)
	assert.True(t, b301.TotalAmount.Equal(dec("28490")), b301.TotalAmount.String())
	assert.Equal(t, billing.PaymentUnpaid, b301.PaymentStatus)

	b302 := billFor(t, res, f.units["302"].ID)
	assert.True(t, b302.PreviousReading.Equal(dec("500")))
	assert.True(t, b302.Usage.Equal(dec("200")))
	assert.Equal(t, day(2024, time.May, 15), b302.PeriodStart)
	want, err := billing.Allocate(f.building, dec("200"))
	require.NoError(t, err)
	assert.True(t, b302.TotalAmount.Equal(want.Total))

	b303 := billFor(t, res, f.units["303"].ID)
	assert.Nil(t, b303.TenantID)
	assert.True(t, b303.TotalAmount.IsZero())
	assert.Equal(t, day(2024, time.May, 9), b303.PeriodStart)

	sum := b301.TotalAmount.Add(b302.TotalAmount).Add(b303.TotalAmount)
	assert.True(t, res.AllocatedTotal.Equal(sum))
	assert.True(t, res.Residual.Equal(f.building.TotalAmount.Sub(dec("-8")).Sub(sum)))

	history := f.store.History()
	require.Len(t, history, 3)
	for _, h := range history {
		assert.Equal(t, billing.HistoryCreated, h.Action)
		assert.NotNil(t, h.After)
	}
}

func TestAllocateCycleMoveInFromSettlement(t *testing.T) {
	f := newFixture(t)
	settlement := f.withSettlement(billing.SettlementPending)

	res, err := f.svc.AllocateCycle(context.Background(), f.building.ID, []UsageRow{
		{UnitNumber: "304", Usage: dec("50")},
	})
	require.NoError(t, err)
	bill := billFor(t, res, f.units["304"].ID)
	assert.Equal(t, billing.KindMoveIn, bill.Kind)
	require.NotNil(t, bill.SettlementID)
	assert.Equal(t, settlement.ID, *bill.SettlementID)
	assert.Equal(t, f.tenants["304"].ID, *bill.TenantID)
	assert.True(t, bill.PreviousReading.Equal(dec("900")))
	assert.True(t, bill.CurrentReading.Equal(dec("950")))
	assert.Equal(t, day(2024, time.May, 20), bill.PeriodStart)

	assert.True(t, res.AllocatedTotal.Equal(bill.TotalAmount.Add(dec("20000"))), "settlement bills count toward the cycle")
}

func TestAllocateCycleContinuesFromMoveInBill(t *testing.T) {
	f := newFixture(t)
	f.withSettlement(billing.SettlementCompleted)
	ctx := context.Background()

	may, err := f.svc.AllocateCycle(ctx, f.building.ID, []UsageRow{
		{UnitNumber: "304", CurrentReading: decimal.NewNullDecimal(dec("950"))},
	})
	require.NoError(t, err)
	moveIn := billFor(t, may, f.units["304"].ID)
	require.Equal(t, billing.KindMoveIn, moveIn.Kind)
	require.True(t, moveIn.Usage.Equal(dec("50")))

	fees := mayFees()
	june := f.store.PutBuildingBill(billing.BuildingBill{
		Year: 2024, Month: 6, TotalUsage: dec("25000"), Fees: fees,
		RoundDown: dec("-8"), TotalAmount: fees.Sum().Add(dec("-8")),
	})
	res, err := f.svc.AllocateCycle(ctx, june.ID, []UsageRow{
		{UnitNumber: "304", CurrentReading: decimal.NewNullDecimal(dec("1000"))},
	})
	require.NoError(t, err)
	bill := billFor(t, res, f.units["304"].ID)
	assert.Equal(t, billing.KindRegular, bill.Kind)
	assert.True(t, bill.PreviousReading.Equal(dec("950")), bill.PreviousReading.String())
	assert.True(t, bill.Usage.Equal(dec("50")), "usage on the move_in bill is not billed again")
	assert.Equal(t, moveIn.PeriodEnd, bill.PeriodStart)
}

func TestAllocateCycleIgnoresCancelledSettlement(t *testing.T) {
	f := newFixture(t)
	f.withSettlement(billing.SettlementCancelled)

	res, err := f.svc.AllocateCycle(context.Background(), f.building.ID, []UsageRow{
		{UnitNumber: "304", Usage: dec("50")},
	})
	require.NoError(t, err)
	bill := res.Bills[0]
	assert.Equal(t, billing.KindRegular, bill.Kind)
	assert.Nil(t, bill.SettlementID)
	assert.True(t, bill.PreviousReading.Equal(dec("900")), "falls back to the tenant move-in reading")
}

func TestAllocateCycleRunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rows := []UsageRow{{UnitNumber: "301", Usage: dec("150")}}
	_, err := f.svc.AllocateCycle(ctx, f.building.ID, rows)
	require.NoError(t, err)

	_, err = f.svc.AllocateCycle(ctx, f.building.ID, rows)
	require.ErrorIs(t, err, billing.ErrCycleAlreadyAllocated)
	assert.Len(t, f.store.UnitBills(), 2, "april bill plus one may bill")
}

func TestAllocateCycleIsAtomic(t *testing.T) {
	cases := []struct {
		name string
		rows []UsageRow
		want error
	}{
		{"unknown unit", []UsageRow{{UnitNumber: "301", Usage: dec("150")}, {UnitNumber: "999", Usage: dec("1")}}, billing.ErrUnitNotFound},
		{"reading below previous", []UsageRow{{UnitNumber: "301", CurrentReading: decimal.NewNullDecimal(dec("1100"))}}, billing.ErrNegativeUsage},
		{"usage above building", []UsageRow{{UnitNumber: "301", Usage: dec("25001")}}, billing.ErrUsageExceedsBuilding},
		{"duplicate unit", []UsageRow{{UnitNumber: "301", Usage: dec("1")}, {UnitNumber: "301", Usage: dec("2")}}, billing.ErrInvalidInput},
		{"negative usage", []UsageRow{{UnitNumber: "301", Usage: dec("-1")}}, billing.ErrInvalidInput},
		{"no rows", nil, billing.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.AllocateCycle(context.Background(), f.building.ID, tc.rows)
			require.ErrorIs(t, err, tc.want)
			assert.Len(t, f.store.UnitBills(), 1)
			assert.Empty(t, f.store.History())
		})
	}
}

func TestAllocateCycleStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn = billingtest.FailAfter(3, errors.New("connection reset"))

	_, err := f.svc.AllocateCycle(context.Background(), f.building.ID, []UsageRow{
		{UnitNumber: "301", Usage: dec("150")},
		{UnitNumber: "303", Usage: dec("10")},
	})
	require.ErrorIs(t, err, billing.ErrTransactionFailed)
	assert.Len(t, f.store.UnitBills(), 1)
}

func TestAllocateCycleUsesConfiguredCutoff(t *testing.T) {
	f := newFixture(t, WithSettings(settings.Map{settings.KeyMeterCutoffDay: "25"}))
	res, err := f.svc.AllocateCycle(context.Background(), f.building.ID, []UsageRow{{UnitNumber: "303", Usage: dec("0")}})
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.May, 25), res.Bills[0].PeriodStart)
	assert.Equal(t, day(2024, time.June, 25), res.Bills[0].PeriodEnd)
}

func TestRegisterBuildingBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fees := mayFees()

	res, err := f.svc.RegisterBuildingBill(ctx, BuildingBillInput{
		Year: 2024, Month: 6, TotalUsage: dec("24000"), Fees: fees,
		RoundDown: dec("-5"), TotalAmount: fees.Sum().Add(dec("-5")),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, runAt, res.Bill.CreatedAt)
	assert.Len(t, f.store.BuildingBills(), 2)

	res, err = f.svc.RegisterBuildingBill(ctx, BuildingBillInput{
		Year: 2024, Month: 7, TotalUsage: dec("24000"), Fees: fees, TotalAmount: dec("100"),
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	_, err = f.svc.RegisterBuildingBill(ctx, BuildingBillInput{Year: 2024, Month: 5, TotalUsage: dec("1")})
	require.ErrorIs(t, err, billing.ErrBuildingBillExists)

	_, err = f.svc.RegisterBuildingBill(ctx, BuildingBillInput{Year: 2024, Month: 13, TotalUsage: dec("1")})
	require.ErrorIs(t, err, billing.ErrInvalidInput)
	_, err = f.svc.RegisterBuildingBill(ctx, BuildingBillInput{Year: 2024, Month: 8, TotalUsage: dec("-1")})
	require.ErrorIs(t, err, billing.ErrInvalidInput)
	assert.Len(t, f.store.BuildingBills(), 3)
}

func TestStatementListsUnitsInOrder(t *testing.T) {
	f := newFixture(t)
	f.withSettlement(billing.SettlementPending)
	ctx := context.Background()
	alloc, err := f.svc.AllocateCycle(ctx, f.building.ID, []UsageRow{
		{UnitNumber: "303", Usage: dec("10")},
		{UnitNumber: "301", Usage: dec("150")},
		{UnitNumber: "304", Usage: dec("50")},
	})
	require.NoError(t, err)

	stmt, err := f.svc.Statement(ctx, f.building.ID)
	require.NoError(t, err)
	require.Len(t, stmt.Lines, 4)
	numbers := make([]string, len(stmt.Lines))
	for i, l := range stmt.Lines {
		numbers[i] = l.UnitNumber
	}
	assert.Equal(t, []string{"301", "303", "304", "304"}, numbers)
	assert.True(t, stmt.AllocatedTotal.Equal(alloc.AllocatedTotal))
	assert.True(t, stmt.Residual.Equal(alloc.Residual))

	_, err = f.svc.Statement(ctx, uuid.New())
	require.ErrorIs(t, err, billing.ErrBuildingBillNotFound)
}
