package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLapjvInternal(t *testing.T) {

	cases := []struct {
		name      string
		cost      [][]float64
		expectedX []int
		expectedY []int
	}{
		{
			name: "unique optimum on the anti diagonal",
			cost: [][]float64{
				{4, 1, 3, 2},
				{2, 0, 5, 3},
				{3, 2, 2, 3},
				{2, 3, 3, 2},
			},
			expectedX: []int{3, 1, 2, 0},
			expectedY: []int{3, 1, 2, 0},
		},
		{
			name: "rotated assignment",
			cost: [][]float64{
				{10, 19, 8, 15},
				{10, 18, 7, 17},
				{13, 16, 9, 14},
				{12, 19, 8, 18},
			},
			expectedX: []int{3, 0, 1, 2},
			expectedY: []int{1, 2, 3, 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {

			n := len(tc.cost)
			x := make([]int, n)
			y := make([]int, n)

			ret, err := lapjvInternal(n, tc.cost, x, y)
			require.NoError(t, err)
			assert.Equal(t, 0, ret)
			assert.Equal(t, tc.expectedX, x)
			assert.Equal(t, tc.expectedY, y)
		})
	}
}

func TestExecLapjvRectangular(t *testing.T) {

	cost := [][]float64{
		{0.9, 0.1, 0.8},
		{0.2, 0.7, 0.9},
	}

	rowsol, colsol, err := execLapjv(cost, math.Inf(1))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0}, rowsol)
	assert.Equal(t, []int{1, 0, -1}, colsol)
}

func TestExecLapjvCostLimit(t *testing.T) {

	cost := [][]float64{
		{0.1, 5},
		{5, 5},
	}

	// pairs costing more than the limit are left unassigned
	rowsol, colsol, err := execLapjv(cost, 1)
	require.NoError(t, err)

	assert.Equal(t, []int{0, -1}, rowsol)
	assert.Equal(t, []int{0, -1}, colsol)
}

func TestAssigners(t *testing.T) {

	cost := [][]float64{
		{-0.9, -0.1, -0.2},
		{-0.3, -0.8, -0.1},
	}

	for _, s := range []Solver{SolverLAPJV, SolverHungarian} {
		t.Run(string(s), func(t *testing.T) {

			pairs, err := NewAssigner(s).Solve(cost)
			require.NoError(t, err)
			assert.ElementsMatch(t, [][2]int{{0, 0}, {1, 1}}, pairs)

			// transposed problem leaves a row unmatched
			pairs, err = NewAssigner(s).Solve([][]float64{{-0.9, -0.3}, {-0.1, -0.8}, {-0.2, -0.1}})
			require.NoError(t, err)
			assert.ElementsMatch(t, [][2]int{{0, 0}, {1, 1}}, pairs)

			pairs, err = NewAssigner(s).Solve(nil)
			require.NoError(t, err)
			assert.Empty(t, pairs)
		})
	}
}

func TestHungarianMatchesLapjv(t *testing.T) {

	cost := [][]float64{
		{10, 19, 8, 15},
		{10, 18, 7, 17},
		{13, 16, 9, 14},
		{12, 19, 8, 18},
	}

	assert.Equal(t, []int{3, 0, 1, 2}, hungarianAssign(cost))
}

func TestHungarianForbidden(t *testing.T) {

	cost := [][]float64{
		{hungarianInf, 1},
		{hungarianInf, hungarianInf},
	}

	assert.Equal(t, []int{1, -1}, hungarianAssign(cost))
}
