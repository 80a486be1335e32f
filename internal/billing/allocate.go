package billing

import "github.com/shopspring/decimal"

// roundingStep is the currency granularity fees are rounded to.
const roundingStep = -1

// Breakdown is one unit's allocated share of a building bill.
type Breakdown struct {
	Usage decimal.Decimal `json:"usage"`
	Ratio decimal.Decimal `json:"ratio"`
	Fees
	Total decimal.Decimal `json:"total"`
}

// Allocate distributes the building bill's fee components to a unit in
// proportion to its usage. Each component is rounded half away from zero to
// the nearest 10, so credits round symmetrically with charges; the total is
// the sum of the rounded components.
func Allocate(bill BuildingBill, usage decimal.Decimal) (Breakdown, error) {
	if !bill.TotalUsage.IsPositive() {
		return Breakdown{}, ErrZeroBuildingUsage
	}
	if usage.IsNegative() {
		return Breakdown{}, ErrNegativeUsage
	}
	if usage.GreaterThan(bill.TotalUsage) {
		return Breakdown{}, ErrUsageExceedsBuilding
	}

	fees := bill.Fees.Map(func(fee decimal.Decimal) decimal.Decimal {
		return RoundFee(fee.Mul(usage).Div(bill.TotalUsage))
	})
	return Breakdown{
		Usage: usage,
		Ratio: usage.Div(bill.TotalUsage),
		Fees:  fees,
		Total: fees.Sum(),
	}, nil
}

// RoundFee rounds an amount half away from zero to the nearest 10.
func RoundFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(roundingStep)
}

// Apply copies the breakdown onto a unit bill.
func (b Breakdown) Apply(bill *UnitBill) {
	bill.Usage = b.Usage
	bill.UsageRatio = b.Ratio
	bill.Fees = b.Fees
	bill.TotalAmount = b.Total
}
