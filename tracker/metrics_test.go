package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {

	a := NewBox(0, 0, 10, 10)

	assert.InDelta(t, 1.0, IoU(a, a), 1e-12)
	assert.InDelta(t, 25.0/175.0, IoU(a, NewBox(5, 5, 15, 15)), 1e-12)
	assert.Equal(t, 0.0, IoU(a, NewBox(20, 20, 30, 30)))
	assert.Equal(t, 0.0, IoU(NewBox(0, 0, 0, 0), NewBox(0, 0, 0, 0)))
	assert.Equal(t, IoU(a, NewBox(2, 3, 12, 9)), IoU(NewBox(2, 3, 12, 9), a))
}

func TestAIoU(t *testing.T) {

	a := NewBox(0, 0, 10, 10)

	iou, alpha := AIoU(a, a)
	assert.InDelta(t, 1.0, iou, 1e-12)
	assert.InDelta(t, 1.0, alpha, 1e-12)

	// same overlap but very different aspect ratio lowers alpha
	_, wide := AIoU(a, NewBox(0, 4, 40, 6))
	_, square := AIoU(a, NewBox(1, 1, 11, 11))
	assert.Less(t, wide, square)
}

func TestIoUFamilyRange(t *testing.T) {

	a := NewBox(0, 0, 10, 10)
	far := NewBox(100, 100, 110, 110)

	for name, fn := range map[string]func(a, b Box) float64{
		"giou": GIoU,
		"diou": DIoU,
		"ciou": CIoU,
	} {
		t.Run(name, func(t *testing.T) {
			same := fn(a, a)
			apart := fn(a, far)

			assert.InDelta(t, 1.0, same, 1e-9)
			assert.GreaterOrEqual(t, apart, 0.0)
			assert.Less(t, apart, 0.5)
			assert.Equal(t, 0.0, fn(NewBox(0, 0, 0, 0), NewBox(0, 0, 0, 0)))
		})
	}
}

func TestGIoUDisjoint(t *testing.T) {
	// enclosing area 400, union 200, so giou = -0.5 rescaled to 0.25
	assert.InDelta(t, 0.25, GIoU(NewBox(0, 0, 10, 10), NewBox(10, 10, 20, 20)), 1e-12)
}

func TestCtDistBatch(t *testing.T) {

	dets := []Box{NewBox(0, 0, 10, 10), NewBox(30, 0, 40, 10)}
	trks := []Box{NewBox(0, 0, 10, 10)}

	m := CtDistBatch(dets, trks)

	require.Len(t, m, 2)
	assert.Equal(t, 1.0, m[0][0])
	assert.Equal(t, 0.0, m[1][0])

	same := CtDistBatch(trks, trks)
	assert.Equal(t, [][]float64{{1}}, same)
}

func TestCostMetricNames(t *testing.T) {

	for _, name := range []string{"iou", "giou", "ciou", "diou", "ct_dist"} {
		m, err := ParseCostMetric(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}

	_, err := ParseCostMetric("manhattan")
	assert.ErrorIs(t, err, ErrInvalidParams)

	var m CostMetric
	require.NoError(t, m.UnmarshalText([]byte(" GIoU ")))
	assert.Equal(t, MetricGIoU, m)
}

func TestCostMetricMatrix(t *testing.T) {

	dets := []Box{NewBox(0, 0, 10, 10), NewBox(50, 50, 60, 60)}
	trks := []Box{NewBox(0, 0, 10, 10), NewBox(1, 1, 11, 11), NewBox(200, 0, 210, 10)}

	for _, m := range []CostMetric{MetricIoU, MetricGIoU, MetricCIoU, MetricDIoU, MetricCtDist} {
		sim := m.Matrix(dets, trks)

		require.Len(t, sim, len(dets), m.String())

		for _, row := range sim {
			require.Len(t, row, len(trks))
			for _, v := range row {
				assert.False(t, math.IsNaN(v), m.String())
			}
		}

		// the identical pair is the most similar for every metric
		assert.GreaterOrEqual(t, sim[0][0], sim[0][1], m.String())
		assert.GreaterOrEqual(t, sim[0][0], sim[0][2], m.String())
	}
}

func TestIoUCost(t *testing.T) {

	cfg := DefaultParams().trackConfig()

	fresh := NewTrack(1, Detection{Box: NewBox(0, 0, 10, 10), Score: 0.9}, nil, cfg)
	stale := NewTrack(2, Detection{Box: NewBox(0, 0, 10, 10), Score: 0.9}, nil, cfg)

	stale.Predict()
	stale.Predict()

	cost := IoUCost([]*Track{fresh, stale}, []Box{NewBox(0, 0, 10, 10)}, nil, nil)

	require.Len(t, cost, 2)
	assert.InDelta(t, 0.0, cost[0][0], 1e-9)
	assert.Equal(t, staleCost, cost[1][0])
}
