// Package estimation derives an estimated unit bill for a mid-cycle move-out
// from a trailing average of historical building bills.
package estimation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wattshare/wattshare/internal/billing"
)

// DefaultWindow is the number of historical building bills averaged.
const DefaultWindow = 3

// ReadingSource records where the previous meter reading came from.
type ReadingSource string

const (
	SourceUnitBill ReadingSource = "unit_bill"
	SourceMoveIn   ReadingSource = "move_in"
	SourceNone     ReadingSource = "none"
)

// PreviousReading is the resolved starting meter reading of a unit.
type PreviousReading struct {
	Value  decimal.Decimal `json:"value"`
	Source ReadingSource   `json:"source"`
	// Latest is the unit's most recent regular or move_in bill, if any.
	Latest *billing.UnitBill `json:"-"`
}

// Request describes one estimation.
type Request struct {
	UnitID       uuid.UUID
	MeterReading decimal.Decimal
	AsOf         time.Time
	CutoffDay    int
}

// Result carries the averaged inputs and the resulting breakdown.
type Result struct {
	UnitID          uuid.UUID            `json:"unit_id"`
	PreviousReading decimal.Decimal      `json:"previous_reading"`
	ReadingSource   ReadingSource        `json:"reading_source"`
	// ReadingSince is the end of the bill that supplied the previous reading.
	ReadingSince    *time.Time           `json:"reading_since,omitempty"`
	MeterReading    decimal.Decimal      `json:"meter_reading"`
	Usage           decimal.Decimal      `json:"usage"`
	Period          billing.Period       `json:"-"`
	BillingPeriod   string               `json:"billing_period"`
	Averaged        billing.BuildingBill `json:"averaged"`
	SourceMonths    []string             `json:"source_months"`
	Breakdown       billing.Breakdown    `json:"breakdown"`
	IsEstimated     bool                 `json:"is_estimated"`
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithWindow overrides the averaging window length.
func WithWindow(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.window = n
		}
	}
}

// Estimator computes trailing-average estimates.
type Estimator struct {
	window int
}

// New constructs an Estimator.
func New(opts ...Option) *Estimator {
	e := &Estimator{window: DefaultWindow}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window returns the configured averaging window length.
func (e *Estimator) Window() int { return e.window }

// Estimate resolves the unit's usage since its last reading and allocates it
// against the average of the most recent building bills before the target
// period.
func (e *Estimator) Estimate(ctx context.Context, r billing.Reader, req Request) (Result, error) {
	prev, err := ResolvePreviousReading(ctx, r, req.UnitID)
	if err != nil {
		return Result{}, err
	}
	usage := req.MeterReading.Sub(prev.Value)
	if usage.IsNegative() {
		return Result{}, fmt.Errorf("%w: reading %s is below previous reading %s",
			billing.ErrNegativeUsage, req.MeterReading, prev.Value)
	}

	target := TargetPeriod(req.AsOf, req.CutoffDay, prev.Latest)
	window, err := r.ListBuildingBillsBefore(ctx, target, e.window)
	if err != nil {
		return Result{}, fmt.Errorf("estimation: load history: %w", err)
	}
	if len(window) == 0 {
		return Result{}, billing.ErrNoHistoricalData
	}

	averaged := Average(window)
	averaged.Year, averaged.Month = target.Year, int(target.Month)
	breakdown, err := billing.Allocate(averaged, usage)
	if err != nil {
		return Result{}, err
	}

	var since *time.Time
	if prev.Latest != nil {
		end := prev.Latest.PeriodEnd
		since = &end
	}
	months := make([]string, 0, len(window))
	for _, b := range window {
		months = append(months, b.Period().String())
	}
	return Result{
		UnitID:          req.UnitID,
		PreviousReading: prev.Value,
		ReadingSource:   prev.Source,
		ReadingSince:    since,
		MeterReading:    req.MeterReading,
		Usage:           usage,
		Period:          target,
		BillingPeriod:   target.String(),
		Averaged:        averaged,
		SourceMonths:    months,
		Breakdown:       breakdown,
		IsEstimated:     true,
	}, nil
}

// ResolvePreviousReading picks the unit's starting reading: the latest regular
// or move_in bill's current reading, else the active tenant's move-in reading,
// else zero. A move_in bill closes the segment after a settlement, so it counts
// as the unit's most recent bill.
func ResolvePreviousReading(ctx context.Context, r billing.Reader, unitID uuid.UUID) (PreviousReading, error) {
	latest, err := r.FindLatestReadingBill(ctx, unitID)
	if err != nil {
		return PreviousReading{}, fmt.Errorf("estimation: load latest bill: %w", err)
	}
	if latest != nil {
		return PreviousReading{Value: latest.CurrentReading, Source: SourceUnitBill, Latest: latest}, nil
	}
	tenants, err := r.ListActiveTenants(ctx, unitID)
	if err != nil {
		return PreviousReading{}, fmt.Errorf("estimation: load tenants: %w", err)
	}
	for _, t := range tenants {
		if t.MoveInReading.Valid {
			return PreviousReading{Value: t.MoveInReading.Decimal, Source: SourceMoveIn}, nil
		}
	}
	return PreviousReading{Value: decimal.Zero, Source: SourceNone}, nil
}

// TargetPeriod resolves the period being estimated. When the unit already has a
// reading bill for that period or later, the period after that bill is used.
func TargetPeriod(asOf time.Time, cutoffDay int, latest *billing.UnitBill) billing.Period {
	target := billing.ResolvePeriod(asOf, cutoffDay)
	if latest != nil && !latest.Period().Before(target) {
		target = latest.Period().Next()
	}
	return target
}

// Average returns the arithmetic mean of usage, every fee component, the
// rounding adjustment and the total over bills.
func Average(bills []billing.BuildingBill) billing.BuildingBill {
	var sum billing.BuildingBill
	for _, b := range bills {
		sum.TotalUsage = sum.TotalUsage.Add(b.TotalUsage)
		sum.Fees = sum.Fees.Add(b.Fees)
		sum.RoundDown = sum.RoundDown.Add(b.RoundDown)
		sum.TotalAmount = sum.TotalAmount.Add(b.TotalAmount)
	}
	if len(bills) == 0 {
		return sum
	}
	n := decimal.NewFromInt(int64(len(bills)))
	mean := func(d decimal.Decimal) decimal.Decimal { return d.Div(n) }
	return billing.BuildingBill{
		TotalUsage:  mean(sum.TotalUsage),
		Fees:        sum.Fees.Map(mean),
		RoundDown:   mean(sum.RoundDown),
		TotalAmount: mean(sum.TotalAmount),
	}
}
