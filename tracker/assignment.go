package tracker

import (
	"math"
)

// Assigner solves minimum cost bipartite matching over a dense cost matrix,
// returning matched (row, col) index pairs.  Rows or columns may be left
// unmatched when the matrix is not square.
type Assigner interface {
	Solve(cost [][]float64) ([][2]int, error)
}

// NewAssigner returns the solver named by s, defaulting to LAPJV
func NewAssigner(s Solver) Assigner {
	if s == SolverHungarian {
		return Hungarian{}
	}
	return LAPJV{}
}

// LAPJV is the Jonker-Volgenant solver
type LAPJV struct{}

// Solve implements Assigner
func (LAPJV) Solve(cost [][]float64) ([][2]int, error) {

	if len(cost) == 0 || len(cost[0]) == 0 {
		return nil, nil
	}

	rowsol, _, err := execLapjv(cost, math.Inf(1))
	if err != nil {
		return nil, err
	}

	var pairs [][2]int

	for i, j := range rowsol {
		if j >= 0 {
			pairs = append(pairs, [2]int{i, j})
		}
	}

	return pairs, nil
}

// hungarianInf marks a forbidden pairing
const hungarianInf = 1e18

// Hungarian is the Kuhn-Munkres solver with row and column potentials
type Hungarian struct{}

// Solve implements Assigner
func (Hungarian) Solve(cost [][]float64) ([][2]int, error) {

	var pairs [][2]int

	for i, j := range hungarianAssign(cost) {
		if j >= 0 {
			pairs = append(pairs, [2]int{i, j})
		}
	}

	return pairs, nil
}

// hungarianAssign returns the column assigned to each row of the n x m cost
// matrix, or -1 when the row is unassigned.  The matrix is padded to square
// with zero cost dummy entries, which every complete matching uses the same
// number of.  Costs >= hungarianInf are forbidden.
func hungarianAssign(cost [][]float64) []int {

	n := len(cost)
	if n == 0 {
		return nil
	}

	m := len(cost[0])
	result := make([]int, n)

	if m == 0 {
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}

	c := newMatrix(dim, dim)

	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = 0
			}
		}
	}

	// potentials use 1-indexed arrays with column 0 as the virtual column
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {

		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}

				cur := c[i0-1][j-1] - u[i0] - v[j]

				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}

				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1

			if p[j0] == 0 {
				break
			}
		}

		// augment along the path
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)

	for i := range rowAssign {
		rowAssign[i] = -1
	}

	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowAssign[p[j]-1] = j - 1
		}
	}

	for i := 0; i < n; i++ {
		col := rowAssign[i]

		if col < 0 || col >= m || cost[i][col] >= hungarianInf {
			result[i] = -1
		} else {
			result[i] = col
		}
	}

	return result
}
