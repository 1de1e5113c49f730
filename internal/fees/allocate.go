// Package fees distributes payment-processing fees and refunds across order
// line items with cent-exact rounding.
package fees

// AllocateByWeight splits total across weights proportionally.
//
// Each positive weight first receives floor(total*weight/sum). Leftover minor
// units are then awarded one at a time in input order, skipping non-positive
// weights, until the remainder is exhausted. The result has the same length as
// weights and sums to total whenever total > 0 and some weight is positive;
// otherwise every share is zero.
func AllocateByWeight(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if total <= 0 || len(weights) == 0 {
		return shares
	}

	var sum int64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		return shares
	}

	var allocated int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		shares[i] = total * w / sum
		allocated += shares[i]
	}

	remainder := total - allocated
	for remainder > 0 {
		for i, w := range weights {
			if w <= 0 {
				continue
			}
			shares[i]++
			remainder--
			if remainder == 0 {
				break
			}
		}
	}

	return shares
}
