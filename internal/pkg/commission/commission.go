package commission

import "github.com/shopspring/decimal"

// Breakdown is the split of a booking subtotal between the platform and the
// tenant. Amounts are integer cents.
type Breakdown struct {
	PackagePrice      int64   `json:"package_price"`
	AddOnsTotal       int64   `json:"add_ons_total"`
	Subtotal          int64   `json:"subtotal"`
	CommissionPercent float64 `json:"commission_percent"`
	CommissionAmount  int64   `json:"commission_amount"`
	TenantReceives    int64   `json:"tenant_receives"`
}

var hundred = decimal.NewFromInt(100)

// Calculate returns the platform fee for an amount at the tenant's rate.
// Rounding is always up so the platform never under-collects by a fraction
// of a cent.
func Calculate(ratePercent float64, amountCents int64) int64 {
	if amountCents <= 0 || ratePercent <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromFloat(ratePercent)).
		Div(hundred).
		Ceil().
		IntPart()
}

// BookingTotal computes the full commission breakdown for a package plus its
// add-ons.
func BookingTotal(ratePercent float64, packagePriceCents int64, addOnPricesCents ...int64) Breakdown {
	var addOnsTotal int64
	for _, p := range addOnPricesCents {
		addOnsTotal += p
	}
	subtotal := packagePriceCents + addOnsTotal
	fee := Calculate(ratePercent, subtotal)
	return Breakdown{
		PackagePrice:      packagePriceCents,
		AddOnsTotal:       addOnsTotal,
		Subtotal:          subtotal,
		CommissionPercent: ratePercent,
		CommissionAmount:  fee,
		TenantReceives:    subtotal - fee,
	}
}

// RefundCommission returns the commission share of a partial refund,
// proportional to the refunded amount. A full refund returns exactly the
// original commission.
func RefundCommission(originalCommissionCents, refundAmountCents, originalSubtotalCents int64) int64 {
	if originalCommissionCents <= 0 || refundAmountCents <= 0 || originalSubtotalCents <= 0 {
		return 0
	}
	if refundAmountCents >= originalSubtotalCents {
		return originalCommissionCents
	}
	return decimal.NewFromInt(originalCommissionCents).
		Mul(decimal.NewFromInt(refundAmountCents)).
		Div(decimal.NewFromInt(originalSubtotalCents)).
		Round(0).
		IntPart()
}
