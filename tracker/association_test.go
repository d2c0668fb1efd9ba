package tracker

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x1, y1, x2, y2, score float64) Detection {
	return Detection{Box: NewBox(x1, y1, x2, y2), Score: score}
}

func TestOcclusionCandidates(t *testing.T) {

	p := DefaultParams()

	trks := []Box{NewBox(10, 0, 20, 10)}
	dets := []Detection{det(11, 0, 21, 10, 0.9)}
	kObs := []Observation{{Box: NewBox(0, 0, 10, 10), Score: 0.9}}

	// moving right, away from the historical observation on the left
	got := occlusionCandidates(dets, trks, []Vec2{{X: 1}}, kObs, p)
	assert.Equal(t, []int{0}, got)

	// velocity pointing back towards the history fails the angle gate
	got = occlusionCandidates(dets, trks, []Vec2{{X: -1}}, kObs, p)
	assert.Equal(t, []int{-1}, got)

	// no usable history
	got = occlusionCandidates(dets, trks, []Vec2{{X: 1}}, []Observation{NoObservation}, p)
	assert.Equal(t, []int{-1}, got)
}

func TestOcclusionCandidatesAmbiguous(t *testing.T) {

	p := DefaultParams()

	trks := []Box{NewBox(10, 0, 20, 10), NewBox(12, 0, 22, 10)}
	dets := []Detection{det(11, 0, 21, 10, 0.9), det(100, 100, 110, 110, 0.9)}
	obs := Observation{Box: NewBox(0, 0, 10, 10), Score: 0.9}

	got := occlusionCandidates(dets, trks, []Vec2{{X: 1}, {X: 1}}, []Observation{obs, obs}, p)

	// two overlapping tracks is ambiguous and the far detection overlaps none
	assert.Equal(t, []int{-1, -1}, got)
}

func TestOcclusionCandidatesAspect(t *testing.T) {

	p := DefaultParams()

	// tall thin detection over a square track has a low aspect alpha
	trks := []Box{NewBox(0, 0, 10, 10)}
	dets := []Detection{det(4, 0, 8, 10, 0.9)}
	kObs := []Observation{{Box: NewBox(-10, 0, 0, 10), Score: 0.9}}

	got := occlusionCandidates(dets, trks, []Vec2{{X: 1}}, kObs, p)
	assert.Equal(t, []int{-1}, got)
}

func TestVelocityCost(t *testing.T) {

	in := associationInput{
		dets:       []Detection{det(20, 0, 30, 10, 0.9), det(-20, 0, -10, 10, 0.9)},
		trks:       []Box{NewBox(0, 0, 10, 10), NewBox(0, 0, 10, 10)},
		velocities: []Vec2{{X: 1}, {X: 1}},
		prevObs: []Observation{
			{Box: NewBox(0, 0, 10, 10), Score: 0.9},
			NoObservation,
		},
	}

	cost := velocityCost(in, 0.2)

	assert.InDelta(t, 0.5*0.2*0.9, cost[0][0], 1e-4)
	assert.InDelta(t, -0.5*0.2*0.9, cost[1][0], 1e-4)
	assert.Equal(t, 0.0, cost[0][1])
	assert.Equal(t, 0.0, cost[1][1])
}

func TestAdaptiveWeights(t *testing.T) {

	emb := [][]float64{
		{0.9, 0.1},
		{0.2, 0.3},
	}

	w := adaptiveWeights(emb, 0.75, 0.5)

	// row ratios 0.11 and 0.67, column ratios 0.22 and 0.33.  Only the
	// second row rises above the 0.5 bottom and loses a third of its bonus.
	want := [][]float64{
		{0.75 + 0.5 + 0.5, 0.75 + 0.5 + 0.5},
		{0.75 + 1.0/3 + 0.5, 0.75 + 1.0/3 + 0.5},
	}

	approx := cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-9 })

	if diff := cmp.Diff(want, w, approx); diff != "" {
		t.Errorf("adaptive weights mismatch (-want +got):\n%s", diff)
	}

	single := adaptiveWeights([][]float64{{0.4}}, 0.75, 0.5)
	assert.Equal(t, [][]float64{{0.75}}, single)
}

func TestAdaptiveWeightsRatio(t *testing.T) {

	tests := []struct {
		name string
		row  []float64
		want float64
	}{
		{"distinct", []float64{0.9, 0.45}, 1.25},
		{"low similarity", []float64{0.2, 0.1}, 1.25},
		{"ambiguous", []float64{0.5, 0.5}, 0.75},
		{"halfway", []float64{0.8, 0.6}, 1.0},
		{"zero best", []float64{0, 0}, 0.75},
		{"negative best", []float64{-0.1, -0.5}, 0.75},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := adaptiveWeights([][]float64{tc.row}, 0.75, 0.5)
			require.Len(t, w, 1)
			for _, v := range w[0] {
				assert.InDelta(t, tc.want, v, 1e-9)
			}
		})
	}
}

func TestEmbeddingCost(t *testing.T) {

	p := DefaultParams()
	p.AWOff = true

	in := associationInput{
		dets:      []Detection{det(0, 0, 10, 10, 0.9)},
		trks:      []Box{NewBox(0, 0, 10, 10), NewBox(50, 50, 60, 60)},
		detEmbs:   [][]float32{{1, 0}},
		trkEmbs:   [][]float32{{0.6, 0.8}, {1, 0}},
		trkEmbAge: []int{0, 0},
	}

	ious := IoUBatch([]Box{in.dets[0].Box}, in.trks)
	cost := embeddingCost(in, ious, p)

	assert.InDelta(t, 0.6*p.WAssociationEmb, cost[0][0], 1e-6)
	assert.Equal(t, 0.0, cost[0][1], "no overlap means no appearance term")

	p.EmbeddingOff = true
	assert.Equal(t, [][]float64{{0, 0}}, embeddingCost(in, ious, p))
}

func TestEmbeddingCostAgeDampening(t *testing.T) {

	p := DefaultParams()

	in := associationInput{
		dets:      []Detection{det(0, 0, 10, 10, 0.9)},
		trks:      []Box{NewBox(0, 0, 10, 10)},
		detEmbs:   [][]float32{{1, 0}},
		trkEmbs:   [][]float32{{1, 0}},
		trkEmbAge: []int{0},
	}

	ious := [][]float64{{1}}
	fresh := embeddingCost(in, ious, p)

	in.trkEmbAge = []int{3}
	stale := embeddingCost(in, ious, p)

	assert.InDelta(t, fresh[0][0]/4, stale[0][0], 1e-9)
}

func TestOneToOne(t *testing.T) {

	assert.Equal(t, [][2]int{{0, 0}, {1, 1}}, oneToOne([][]float64{{0.5, 0}, {0, 0.6}}, 0.3))
	assert.Nil(t, oneToOne([][]float64{{0.5, 0.5}}, 0.3))
	assert.Nil(t, oneToOne([][]float64{{0.5}, {0.5}}, 0.3))
	assert.Nil(t, oneToOne([][]float64{{0.1}}, 0.3))
}

func TestAssociateEmpty(t *testing.T) {

	p := DefaultParams()
	p.EmbeddingOff = true

	matches, ud, ut, err := associate(associationInput{
		dets: []Detection{det(0, 0, 10, 10, 0.9)},
	}, p, LAPJV{})

	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, []int{0}, ud)
	assert.Empty(t, ut)

	matches, ud, ut, err = associate(associationInput{
		trks:       []Box{NewBox(0, 0, 10, 10)},
		velocities: []Vec2{{}},
		prevObs:    []Observation{NoObservation},
	}, p, LAPJV{})

	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Empty(t, ud)
	assert.Equal(t, []int{0}, ut)
}

func TestAssociateMatches(t *testing.T) {

	p := DefaultParams()
	p.EmbeddingOff = true

	in := associationInput{
		dets:       []Detection{det(50, 50, 60, 60, 0.9), det(1, 0, 11, 10, 0.9), det(300, 300, 310, 310, 0.9)},
		trks:       []Box{NewBox(0, 0, 10, 10), NewBox(51, 50, 61, 60)},
		velocities: []Vec2{{}, {}},
		prevObs:    []Observation{NoObservation, NoObservation},
	}

	for _, solver := range []Assigner{LAPJV{}, Hungarian{}} {

		matches, ud, ut, err := associate(in, p, solver)

		require.NoError(t, err)
		assert.ElementsMatch(t, [][2]int{{0, 1}, {1, 0}}, matches)
		assert.Equal(t, []int{2}, ud)
		assert.Empty(t, ut)
	}
}

func TestAssociateRejectsBelowIoUFloor(t *testing.T) {

	p := DefaultParams()
	p.AWOff = true

	// a strong appearance match cannot override an IoU under the threshold
	in := associationInput{
		dets:       []Detection{det(0, 0, 10, 10, 0.9)},
		trks:       []Box{NewBox(6, 0, 16, 10)},
		detEmbs:    [][]float32{{1, 0}},
		trkEmbs:    [][]float32{{1, 0}},
		trkEmbAge:  []int{0},
		velocities: []Vec2{{}},
		prevObs:    []Observation{NoObservation},
	}

	require.Less(t, IoU(in.dets[0].Box, in.trks[0]), p.IoUThreshold)

	matches, ud, ut, err := associate(in, p, LAPJV{})

	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, []int{0}, ud)
	assert.Equal(t, []int{0}, ut)
}

func TestRecoverMatches(t *testing.T) {

	p := DefaultParams()

	dets := []Detection{det(0, 0, 10, 10, 0.9), det(100, 0, 110, 10, 0.9)}
	lastObs := []Observation{
		{Box: NewBox(2, 0, 12, 10), Score: 0.9},
		{Box: NewBox(108, 0, 118, 10), Score: 0.9},
		NoObservation,
	}

	matches, ud, ut, err := recoverMatches(dets, lastObs, []int{0, 1}, []int{0, 1, 2}, p, LAPJV{})
	require.NoError(t, err)

	// only the pair above the threshold is recovered
	assert.Equal(t, [][2]int{{0, 0}}, matches)
	assert.Equal(t, []int{1}, ud)
	assert.Equal(t, []int{1, 2}, ut)
}

func TestRecoverMatchesBelowThreshold(t *testing.T) {

	p := DefaultParams()

	dets := []Detection{det(0, 0, 10, 10, 0.9)}
	lastObs := []Observation{{Box: NewBox(7, 0, 17, 10), Score: 0.9}}

	matches, ud, ut, err := recoverMatches(dets, lastObs, []int{0}, []int{0}, p, Hungarian{})
	require.NoError(t, err)

	assert.Empty(t, matches)
	assert.Equal(t, []int{0}, ud)
	assert.Equal(t, []int{0}, ut)
}

func TestSpeedDirectionBatch(t *testing.T) {

	dirs := SpeedDirectionBatch(
		[]Box{NewBox(10, 0, 20, 10), NewBox(0, 10, 10, 20)},
		[]Observation{{Box: NewBox(0, 0, 10, 10), Score: 1}},
	)

	require.Len(t, dirs, 1)
	require.Len(t, dirs[0], 2)
	assert.InDelta(t, 1, dirs[0][0].X, 1e-6)
	assert.InDelta(t, 1, dirs[0][1].Y, 1e-6)
}
