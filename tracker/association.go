package tracker

import (
	"fmt"
	"math"
	"sort"

	"github.com/bmharper/flatbush-go"
)

// clampUnit clamps a cosine into [-1,1] so arccos stays defined
func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// SpeedDirectionBatch returns the unit direction from the center of each
// track's previous observation to the center of each detection, indexed
// [track][detection]
func SpeedDirectionBatch(dets []Box, prev []Observation) [][]Vec2 {

	dirs := make([][]Vec2, len(prev))

	for j, o := range prev {
		dirs[j] = make([]Vec2, len(dets))
		for i, d := range dets {
			dirs[j][i] = SpeedDirection(o.Box, d)
		}
	}

	return dirs
}

// occlusionCandidates returns, per detection, the index of the single track
// whose embedding can be reused for it, or -1 when it needs fresh
// extraction.  A detection qualifies when exactly one track overlaps it
// above the occlusion threshold, their aspect alpha exceeds the aspect
// threshold, the track has a valid historical observation and the angle
// between the track velocity and the direction from the detection to that
// observation exceeds pi minus the angle threshold.
func occlusionCandidates(dets []Detection, trks []Box, velocities []Vec2,
	kObs []Observation, p Params) []int {

	candidates := make([]int, len(dets))

	for i := range candidates {
		candidates[i] = -1
	}

	if len(dets) == 0 || len(trks) == 0 {
		return candidates
	}

	// index the predicted track boxes so only overlapping tracks are scored
	fb := flatbush.NewFlatbush[float64]()
	fb.Reserve(len(trks))

	for _, t := range trks {
		fb.Add(t.X1, t.Y1, t.X2, t.Y2)
	}

	fb.Finish()

	angleThresh := p.angleThresholdRad()
	nearby := []int{}

	for i, d := range dets {

		nearby = fb.SearchFast(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, nearby[:0])

		cand := -1
		count := 0

		for _, j := range nearby {
			if IoU(d.Box, trks[j]) > p.OcclusionThreshold {
				count++
				cand = j
			}
		}

		if count != 1 {
			continue
		}

		if _, alpha := AIoU(d.Box, trks[cand]); alpha <= p.AspectRatioThreshold {
			continue
		}

		obs := kObs[cand]

		if !obs.Valid() {
			continue
		}

		dir := SpeedDirection(d.Box, obs.Box)
		angle := math.Acos(clampUnit(velocities[cand].Dot(dir)))

		// consistent motion points the velocity away from the history, so
		// the gate accepts near opposite directions
		if angle <= math.Pi-angleThresh {
			continue
		}

		candidates[i] = cand
	}

	return candidates
}

// associationInput holds the per frame data for primary association
type associationInput struct {
	dets []Detection
	trks []Box
	// detEmbs and trkEmbs are nil entries when embeddings are unavailable
	detEmbs [][]float32
	trkEmbs [][]float32
	// trkEmbAge is the time since each track embedding was blended
	trkEmbAge  []int
	velocities []Vec2
	prevObs    []Observation
}

// velocityCost returns the velocity consistency similarity per detection
// and track.  Tracks without a valid previous observation contribute 0.
func velocityCost(in associationInput, inertia float64) [][]float64 {

	cost := newMatrix(len(in.dets), len(in.trks))

	boxes := make([]Box, len(in.dets))

	for i, d := range in.dets {
		boxes[i] = d.Box
	}

	dirs := SpeedDirectionBatch(boxes, in.prevObs)

	for j := range in.trks {

		if !in.prevObs[j].Valid() {
			continue
		}

		for i, d := range in.dets {
			angle := math.Acos(clampUnit(in.velocities[j].Dot(dirs[j][i])))
			diff := (math.Pi/2 - math.Abs(angle)) / math.Pi
			cost[i][j] = diff * inertia * d.Score
		}
	}

	return cost
}

// embeddingCost returns the weighted appearance similarity per detection and
// track.  Pairs without overlap are zeroed.
func embeddingCost(in associationInput, ious [][]float64, p Params) [][]float64 {

	cost := newMatrix(len(in.dets), len(in.trks))

	if p.EmbeddingOff {
		return cost
	}

	for i := range in.dets {
		for j := range in.trks {
			if ious[i][j] <= 0 || in.detEmbs[i] == nil || in.trkEmbs[j] == nil {
				continue
			}
			cost[i][j] = dot(in.detEmbs[i], in.trkEmbs[j])
		}
	}

	if p.AWOff {
		for i := range cost {
			for j := range cost[i] {
				cost[i][j] *= p.WAssociationEmb
			}
		}
		return cost
	}

	weights := adaptiveWeights(cost, p.WAssociationEmb, p.AWParam)

	for i := range cost {
		for j := range cost[i] {
			// stale track embeddings are dampened by their age
			damp := 1 / (1 + float64(in.trkEmbAge[j]))
			cost[i][j] *= weights[i][j] * damp
		}
	}

	return cost
}

// adaptiveWeights boosts the base embedding weight of every row and column
// by up to 1/2 when its best similarity stands out from the second best.
// The bonus falls linearly to 0 as the second to best ratio rises from
// bottom to 1.
func adaptiveWeights(emb [][]float64, base, bottom float64) [][]float64 {

	rows := len(emb)
	cols := 0

	if rows > 0 {
		cols = len(emb[0])
	}

	w := newMatrix(rows, cols)

	for i := range w {
		for j := range w[i] {
			w[i][j] = base
		}
	}

	if cols >= 2 {
		for i := 0; i < rows; i++ {
			bonus := ratioBonus(emb[i], bottom)
			for j := 0; j < cols; j++ {
				w[i][j] += bonus
			}
		}
	}

	if rows >= 2 {
		col := make([]float64, rows)
		for j := 0; j < cols; j++ {
			for i := 0; i < rows; i++ {
				col[i] = emb[i][j]
			}
			bonus := ratioBonus(col, bottom)
			for i := 0; i < rows; i++ {
				w[i][j] += bonus
			}
		}
	}

	return w
}

// ratioBonus returns half the adaptive weight of a row or column with at
// least two entries, 0 when its best similarity is not positive
func ratioBonus(v []float64, bottom float64) float64 {

	first, second := topTwo(v)

	if first <= 0 || bottom >= 1 {
		return 0
	}

	excess := math.Max(second/first-bottom, 0)

	return (1 - excess/(1-bottom)) / 2
}

// topTwo returns the largest and second largest values
func topTwo(v []float64) (float64, float64) {

	sorted := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	return sorted[0], sorted[1]
}

// oneToOne returns the pairs above thresh when they form a one to one
// matching with at least one pair, else nil
func oneToOne(ious [][]float64, thresh float64) [][2]int {

	var pairs [][2]int

	colCount := map[int]int{}

	for i, row := range ious {

		rowCount := 0

		for j, v := range row {
			if v > thresh {
				rowCount++
				colCount[j]++

				if rowCount > 1 || colCount[j] > 1 {
					return nil
				}

				pairs = append(pairs, [2]int{i, j})
			}
		}
	}

	return pairs
}

// associate matches detections to predicted tracks on fused IoU, velocity
// consistency and appearance similarity.  Matches are (detection, track)
// index pairs, none with IoU below the threshold.
func associate(in associationInput, p Params, solver Assigner) (matches [][2]int,
	unmatchedDets, unmatchedTrks []int, err error) {

	if len(in.trks) == 0 {
		return nil, seq(len(in.dets)), nil, nil
	}

	if len(in.dets) == 0 {
		return nil, nil, seq(len(in.trks)), nil
	}

	detBoxes := make([]Box, len(in.dets))

	for i, d := range in.dets {
		detBoxes[i] = d.Box
	}

	ious := IoUBatch(detBoxes, in.trks)

	proposed := oneToOne(ious, p.IoUThreshold)

	if proposed == nil {

		angle := velocityCost(in, p.Inertia)
		emb := embeddingCost(in, ious, p)

		cost := newMatrix(len(in.dets), len(in.trks))

		for i := range cost {
			for j := range cost[i] {
				cost[i][j] = -(ious[i][j] + angle[i][j] + emb[i][j])
			}
		}

		proposed, err = solver.Solve(cost)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("primary association: %w", err)
		}
	}

	matches, unmatchedDets, unmatchedTrks = acceptPairs(proposed, ious,
		seq(len(in.dets)), seq(len(in.trks)), p.IoUThreshold)

	return matches, unmatchedDets, unmatchedTrks, nil
}

// acceptPairs keeps the proposed pairs whose similarity is at least thresh
// and maps them through detIdx and trkIdx.  Rows and columns not accepted
// are returned as unmatched.
func acceptPairs(proposed [][2]int, sim [][]float64, detIdx, trkIdx []int,
	thresh float64) (matches [][2]int, unmatchedDets, unmatchedTrks []int) {

	detMatched := make([]bool, len(detIdx))
	trkMatched := make([]bool, len(trkIdx))

	for _, pair := range proposed {

		if sim[pair[0]][pair[1]] < thresh {
			continue
		}

		detMatched[pair[0]] = true
		trkMatched[pair[1]] = true
		matches = append(matches, [2]int{detIdx[pair[0]], trkIdx[pair[1]]})
	}

	for i, ok := range detMatched {
		if !ok {
			unmatchedDets = append(unmatchedDets, detIdx[i])
		}
	}

	for j, ok := range trkMatched {
		if !ok {
			unmatchedTrks = append(unmatchedTrks, trkIdx[j])
		}
	}

	return matches, unmatchedDets, unmatchedTrks
}

// recoverMatches is the observation centric recovery pass.  It matches the
// leftover detections against the last raw observation of the leftover
// tracks using the configured metric, only when the best similarity exceeds
// the threshold, and never accepts a pair below it.
func recoverMatches(dets []Detection, lastObs []Observation, unmatchedDets,
	unmatchedTrks []int, p Params, solver Assigner) (matches [][2]int,
	remainingDets, remainingTrks []int, err error) {

	if len(unmatchedDets) == 0 || len(unmatchedTrks) == 0 {
		return nil, unmatchedDets, unmatchedTrks, nil
	}

	left := make([]Box, len(unmatchedDets))

	for i, di := range unmatchedDets {
		left[i] = dets[di].Box
	}

	last := make([]Box, len(unmatchedTrks))

	for j, ti := range unmatchedTrks {
		last[j] = lastObs[ti].Box
	}

	sim := p.AssoMetric.Matrix(left, last)

	// tracks never observed have nothing to recover from
	for j, ti := range unmatchedTrks {
		if !lastObs[ti].Valid() {
			for i := range sim {
				sim[i][j] = 0
			}
		}
	}

	if matrixMax(sim) <= p.IoUThreshold {
		return nil, unmatchedDets, unmatchedTrks, nil
	}

	cost := newMatrix(len(left), len(last))

	for i := range cost {
		for j := range cost[i] {
			cost[i][j] = -sim[i][j]
		}
	}

	proposed, err := solver.Solve(cost)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("recovery association: %w", err)
	}

	matches, remainingDets, remainingTrks = acceptPairs(proposed, sim,
		unmatchedDets, unmatchedTrks, p.IoUThreshold)

	return matches, remainingDets, remainingTrks, nil
}
