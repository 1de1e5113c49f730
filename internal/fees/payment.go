package fees

import (
	"github.com/shopspring/decimal"
)

// HighPriceShippingThresholdCents is the unit price at or above which an item
// absorbs a share of shipping in the percentage fee base.
const HighPriceShippingThresholdCents = 10000

const basisPointsDivisor = 10000

// Config is a payment method's processing fee: a percentage in basis points
// plus a fixed amount per payment.
type Config struct {
	PercentBasisPoints int64
	FixedCents         int64
}

var (
	cardFees    = Config{PercentBasisPoints: 150, FixedCents: 25}
	paypalFees  = Config{PercentBasisPoints: 299, FixedCents: 35}
	klarnaFees  = Config{PercentBasisPoints: 329, FixedCents: 35}
	amazonFees  = Config{PercentBasisPoints: 299, FixedCents: 35}
	defaultFees = cardFees
)

// ConfigForMethod returns the fee schedule for a provider payment method type.
// Unknown or empty methods use the card schedule.
func ConfigForMethod(method string) Config {
	switch method {
	case "card", "link":
		return cardFees
	case "paypal":
		return paypalFees
	case "klarna":
		return klarnaFees
	case "amazon_pay":
		return amazonFees
	}
	return defaultFees
}

// CostItem is the cost view of an order line.
type CostItem struct {
	UnitAmount         int64
	TotalAmount        int64
	BaseCostAmount     int64
	PaymentFeeAmount   int64
	AdjustedCostAmount int64
}

// ApplyPaymentFeesToCosts stamps PaymentFeeAmount and AdjustedCostAmount on a
// copy of items.
//
// Shipping is allocated only to items priced at or above the threshold, by
// line total. Each item's percentage fee is computed on its line total plus
// shipping share, and the fixed fee is allocated across all items by line total.
func ApplyPaymentFeesToCosts(items []CostItem, shippingAmount int64, cfg Config) []CostItem {
	out := make([]CostItem, len(items))
	copy(out, items)
	if len(out) == 0 {
		return out
	}

	shippingWeights := make([]int64, len(out))
	totalWeights := make([]int64, len(out))
	for i, item := range out {
		if item.UnitAmount >= HighPriceShippingThresholdCents {
			shippingWeights[i] = item.TotalAmount
		}
		totalWeights[i] = item.TotalAmount
	}

	shippingShares := AllocateByWeight(shippingAmount, shippingWeights)
	fixedShares := AllocateByWeight(cfg.FixedCents, totalWeights)

	for i := range out {
		pct := PercentageFee(out[i].TotalAmount+shippingShares[i], cfg.PercentBasisPoints)
		out[i].PaymentFeeAmount = pct + fixedShares[i]
		out[i].AdjustedCostAmount = max(0, out[i].BaseCostAmount+out[i].PaymentFeeAmount)
	}

	return out
}

// PercentageFee returns round(amount * basisPoints / 10000), floored at 0.
// Halves round away from zero.
func PercentageFee(amount, basisPoints int64) int64 {
	fee := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(basisPoints)).
		Div(decimal.NewFromInt(basisPointsDivisor)).
		Round(0).
		IntPart()
	return max(0, fee)
}
