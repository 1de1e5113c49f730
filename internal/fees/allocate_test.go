package fees_test

import (
	"testing"

	"github.com/dukerupert/reconciler/internal/fees"
	"github.com/stretchr/testify/assert"
)

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func Test_AllocateByWeight_Examples(t *testing.T) {
	tests := []struct {
		name        string
		total       int64
		weights     []int64
		expected    []int64
		explanation string
	}{
		{
			name:        "even split",
			total:       100,
			weights:     []int64{1, 1, 1, 1},
			expected:    []int64{25, 25, 25, 25},
			explanation: "100 / 4 has no remainder",
		},
		{
			name:        "remainder goes to first entry",
			total:       10,
			weights:     []int64{1, 1, 1},
			expected:    []int64{4, 3, 3},
			explanation: "floor gives 3 each, leftover 1 awarded in input order",
		},
		{
			name:        "zero total",
			total:       0,
			weights:     []int64{1, 2, 3},
			expected:    []int64{0, 0, 0},
			explanation: "nothing to allocate",
		},
		{
			name:        "negative total",
			total:       -5,
			weights:     []int64{1, 2},
			expected:    []int64{0, 0},
			explanation: "negative totals allocate nothing",
		},
		{
			name:        "all zero weights",
			total:       50,
			weights:     []int64{0, 0},
			expected:    []int64{0, 0},
			explanation: "no positive weight to allocate against",
		},
		{
			name:        "zero weights skipped in remainder pass",
			total:       5,
			weights:     []int64{0, 1, 0, 1},
			expected:    []int64{0, 3, 0, 2},
			explanation: "floor gives 2 and 2, leftover 1 skips the zero weight at index 0",
		},
		{
			name:        "proportional split",
			total:       100,
			weights:     []int64{5000, 2500, 2500},
			expected:    []int64{50, 25, 25},
			explanation: "shares follow the 2:1:1 weight ratio",
		},
		{
			name:        "remainder spans several entries",
			total:       7,
			weights:     []int64{3, 3, 3, 3, 3},
			expected:    []int64{2, 2, 1, 1, 1},
			explanation: "floor gives 1 each, leftover 2 awarded to the first two entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fees.AllocateByWeight(tt.total, tt.weights)
			assert.Equal(t, tt.expected, got, tt.explanation)
		})
	}
}

func Test_AllocateByWeight_EmptyWeights(t *testing.T) {
	assert.Empty(t, fees.AllocateByWeight(100, nil))
	assert.Empty(t, fees.AllocateByWeight(100, []int64{}))
}

// Test_AllocateByWeight_SumInvariant checks the exact-total guarantee across a grid of inputs.
func Test_AllocateByWeight_SumInvariant(t *testing.T) {
	weightSets := [][]int64{
		{1},
		{1, 2, 3},
		{7, 0, 13, 0, 1},
		{9999, 1},
		{3333, 3333, 3334},
		{0, 0, 0, 1},
		{150, 299, 329, 35, 25},
	}

	for _, weights := range weightSets {
		for total := int64(0); total <= 1000; total += 7 {
			got := fees.AllocateByWeight(total, weights)

			assert.Len(t, got, len(weights))
			assert.Equal(t, total, sum(got), "total=%d weights=%v", total, weights)
			for i, share := range got {
				assert.GreaterOrEqual(t, share, int64(0))
				if weights[i] == 0 {
					assert.Zero(t, share, "zero weight must not receive a share")
				}
			}
		}
	}
}
