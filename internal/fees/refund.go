package fees

// ApportionRefund splits a refund across line totals and shipping, using the
// same largest-remainder allocation as fees. Shipping is weighted last.
func ApportionRefund(amount int64, lineTotals []int64, shippingAmount int64) (lineShares []int64, shippingShare int64) {
	weights := make([]int64, 0, len(lineTotals)+1)
	weights = append(weights, lineTotals...)
	weights = append(weights, shippingAmount)

	shares := AllocateByWeight(amount, weights)
	return shares[:len(lineTotals)], shares[len(lineTotals)]
}
