package estimation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/billing/billingtest"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buildingBill(year, month int, usage, basic string) billing.BuildingBill {
	fees := billing.Fees{
		BasicFee:  dec(basic),
		PowerFee:  dec("3000000"),
		FuelFee:   dec("-120000"),
		VAT:       dec("400000"),
		PowerFund: dec("150000"),
	}
	return billing.BuildingBill{
		Year:        year,
		Month:       month,
		TotalUsage:  dec(usage),
		Fees:        fees,
		TotalAmount: fees.Sum(),
	}
}

func estimate(t *testing.T, store *billingtest.Store, e *Estimator, req Request) (Result, error) {
	t.Helper()
	var out Result
	err := store.WithTx(context.Background(), func(ctx context.Context, tx billing.Tx) error {
		var err error
		out, err = e.Estimate(ctx, tx, req)
		return err
	})
	return out, err
}

func seedUnit(store *billingtest.Store) billing.Unit {
	return store.PutUnit(billing.Unit{Number: "301", Status: billing.UnitOccupied, TenantName: "Kim"})
}

func TestEstimateAveragesTrailingWindow(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 1, "30000", "1500000"))
	store.PutBuildingBill(buildingBill(2024, 2, "24000", "1200000"))
	store.PutBuildingBill(buildingBill(2024, 3, "25000", "1300000"))
	store.PutBuildingBill(buildingBill(2024, 4, "26000", "1400000"))
	store.PutBuildingBill(buildingBill(2024, 5, "99999", "9999999"))
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, Kind: billing.KindRegular, BillingYear: 2024, BillingMonth: 4,
		CurrentReading: dec("1200"),
	})

	res, err := estimate(t, store, New(), Request{
		UnitID:       unit.ID,
		MeterReading: dec("1350"),
		AsOf:         time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		CutoffDay:    9,
	})
	require.NoError(t, err)

	assert.Equal(t, billing.Period{Year: 2024, Month: time.May}, res.Period)
	assert.Equal(t, []string{"2024-04", "2024-03", "2024-02"}, res.SourceMonths)
	assert.True(t, res.PreviousReading.Equal(dec("1200")))
	assert.Equal(t, SourceUnitBill, res.ReadingSource)
	assert.True(t, res.Usage.Equal(dec("150")))
	assert.True(t, res.Averaged.TotalUsage.Equal(dec("25000")), "avg usage %s", res.Averaged.TotalUsage)
	assert.True(t, res.Averaged.BasicFee.Equal(dec("1300000")), "avg basic %s", res.Averaged.BasicFee)
	assert.True(t, res.IsEstimated)
	// 1300000 * 150 / 25000 = 7800
	assert.True(t, res.Breakdown.BasicFee.Equal(dec("7800")), "basic %s", res.Breakdown.BasicFee)
	assert.True(t, res.Breakdown.Total.Equal(res.Breakdown.Fees.Sum()))
}

func TestEstimateMovesPastCoveredPeriod(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 4, "25000", "1300000"))
	store.PutBuildingBill(buildingBill(2024, 5, "26000", "1400000"))
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, Kind: billing.KindRegular, BillingYear: 2024, BillingMonth: 5,
		CurrentReading: dec("500"),
	})

	// The 5th resolves to April, but May is already billed.
	res, err := estimate(t, store, New(), Request{
		UnitID:       unit.ID,
		MeterReading: dec("520"),
		AsOf:         time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC),
		CutoffDay:    9,
	})
	require.NoError(t, err)
	assert.Equal(t, billing.Period{Year: 2024, Month: time.June}, res.Period)
	assert.Equal(t, []string{"2024-05", "2024-04"}, res.SourceMonths)
}

func TestEstimateWindowOption(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 2, "24000", "1200000"))
	store.PutBuildingBill(buildingBill(2024, 3, "25000", "1300000"))

	e := New(WithWindow(1))
	assert.Equal(t, 1, e.Window())
	res, err := estimate(t, store, e, Request{UnitID: unit.ID, MeterReading: dec("10"), AsOf: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), CutoffDay: 9})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03"}, res.SourceMonths)
	assert.Equal(t, SourceNone, res.ReadingSource)
	assert.True(t, res.Usage.Equal(dec("10")))
}

func TestEstimateUsesMoveInReading(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 3, "25000", "1300000"))
	store.PutTenant(billing.Tenant{
		UnitID: unit.ID, Name: "Kim", Status: billing.TenantActive,
		MoveInReading: decimal.NewNullDecimal(dec("40")),
	})

	res, err := estimate(t, store, New(), Request{UnitID: unit.ID, MeterReading: dec("100"), AsOf: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), CutoffDay: 9})
	require.NoError(t, err)
	assert.Equal(t, SourceMoveIn, res.ReadingSource)
	assert.True(t, res.Usage.Equal(dec("60")))
}

func TestEstimateStartsFromMoveInBill(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 4, "25000", "1300000"))
	store.PutBuildingBill(buildingBill(2024, 5, "25000", "1300000"))
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, Kind: billing.KindRegular, BillingYear: 2024, BillingMonth: 4,
		CurrentReading: dec("800"),
	})
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, Kind: billing.KindMoveOut, IsEstimated: true, BillingYear: 2024, BillingMonth: 5,
		CurrentReading: dec("900"),
	})
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, Kind: billing.KindMoveIn, BillingYear: 2024, BillingMonth: 5,
		CurrentReading: dec("950"),
	})

	res, err := estimate(t, store, New(), Request{UnitID: unit.ID, MeterReading: dec("1000"), AsOf: time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), CutoffDay: 9})
	require.NoError(t, err)
	assert.Equal(t, SourceUnitBill, res.ReadingSource)
	assert.True(t, res.PreviousReading.Equal(dec("950")), res.PreviousReading.String())
	assert.True(t, res.Usage.Equal(dec("50")))
	assert.Equal(t, billing.Period{Year: 2024, Month: time.June}, res.Period)
}

func TestEstimateNegativeUsage(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 3, "25000", "1300000"))
	store.PutUnitBill(billing.UnitBill{
		UnitID: unit.ID, Kind: billing.KindRegular, BillingYear: 2024, BillingMonth: 3,
		CurrentReading: dec("100"),
	})

	_, err := estimate(t, store, New(), Request{UnitID: unit.ID, MeterReading: dec("80"), AsOf: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), CutoffDay: 9})
	require.ErrorIs(t, err, billing.ErrNegativeUsage)
}

func TestEstimateNoHistoricalData(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)

	_, err := estimate(t, store, New(), Request{UnitID: unit.ID, MeterReading: dec("80"), AsOf: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), CutoffDay: 9})
	require.ErrorIs(t, err, billing.ErrNoHistoricalData)
}

func TestEstimateZeroAveragedUsage(t *testing.T) {
	store := billingtest.NewStore()
	unit := seedUnit(store)
	store.PutBuildingBill(buildingBill(2024, 3, "0", "1300000"))

	_, err := estimate(t, store, New(), Request{UnitID: unit.ID, MeterReading: dec("0"), AsOf: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), CutoffDay: 9})
	require.ErrorIs(t, err, billing.ErrZeroBuildingUsage)
}

func TestEstimateMonotonicity(t *testing.T) {
	store := billingtest.NewStore()
	unit := store.PutUnit(billing.Unit{ID: uuid.New(), Number: "101"})
	store.PutBuildingBill(buildingBill(2024, 2, "24000", "1200000"))
	store.PutBuildingBill(buildingBill(2024, 3, "25000", "1300000"))

	req := Request{UnitID: unit.ID, AsOf: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), CutoffDay: 9}
	req.MeterReading = dec("213.4")
	single, err := estimate(t, store, New(), req)
	require.NoError(t, err)
	req.MeterReading = dec("426.8")
	double, err := estimate(t, store, New(), req)
	require.NoError(t, err)

	pairs := [][2]decimal.Decimal{
		{single.Breakdown.BasicFee, double.Breakdown.BasicFee},
		{single.Breakdown.PowerFee, double.Breakdown.PowerFee},
		{single.Breakdown.FuelFee, double.Breakdown.FuelFee},
		{single.Breakdown.VAT, double.Breakdown.VAT},
		{single.Breakdown.PowerFund, double.Breakdown.PowerFund},
	}
	for _, p := range pairs {
		diff := p[1].Sub(p[0].Mul(decimal.NewFromInt(2))).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("15")), "expected %s ~ 2 x %s", p[1], p[0])
	}
}

func TestAverageEmpty(t *testing.T) {
	avg := Average(nil)
	assert.True(t, avg.TotalUsage.IsZero())
}
