package tracker

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// staleCost is the cost forced onto rows of IoUCost for tracks whose
// prediction is more than one frame old
const staleCost = 1e5

// overlap returns the clamped intersection area of two boxes
func overlap(a, b Box) float64 {
	w := math.Max(0, math.Min(a.X2, b.X2)-math.Max(a.X1, b.X1))
	h := math.Max(0, math.Min(a.Y2, b.Y2)-math.Max(a.Y1, b.Y1))
	return w * h
}

// enclosing returns the smallest box containing both boxes
func enclosing(a, b Box) Box {
	return Box{
		X1: math.Min(a.X1, b.X1),
		Y1: math.Min(a.Y1, b.Y1),
		X2: math.Max(a.X2, b.X2),
		Y2: math.Max(a.Y2, b.Y2),
	}
}

// IoU returns the intersection over union of two boxes in [0,1].  Boxes
// with no overlap or zero union area return 0.
func IoU(a, b Box) float64 {

	inter := overlap(a, b)
	union := a.Area() + b.Area() - inter

	if union <= 0 || inter <= 0 {
		return 0
	}

	return inter / union
}

// aspectTerm returns the arctangent of the width/height ratio used by the
// aspect aware metrics
func aspectTerm(b Box) float64 {
	h := b.Height()
	if h <= 0 {
		h = boxEpsilon
	}
	return math.Atan(b.Width() / h)
}

// AIoU returns the IoU of two boxes together with an aspect ratio
// consistency weight alpha.  Alpha approaches 0 as the arctangent of the two
// width/height ratios diverge.
func AIoU(a, b Box) (iou, alpha float64) {

	iou = IoU(a, b)

	d := aspectTerm(a) - aspectTerm(b)
	v := 1 - 4/(math.Pi*math.Pi)*d*d

	den := 1 - iou + v
	if den <= boxEpsilon {
		return iou, 0
	}

	return iou, v / den
}

// GIoU returns the generalized IoU rescaled into [0,1]
func GIoU(a, b Box) float64 {

	encl := enclosing(a, b).Area()
	if encl <= 0 {
		return 0
	}

	inter := overlap(a, b)
	union := a.Area() + b.Area() - inter
	iou := IoU(a, b)

	giou := iou - (encl-union)/encl
	return (giou + 1) / 2
}

// centerDistances returns the squared distance between box centers and the
// squared diagonal of the enclosing box
func centerDistances(a, b Box) (inner, outer float64) {

	ax, ay := a.Center()
	bx, by := b.Center()
	inner = (ax-bx)*(ax-bx) + (ay-by)*(ay-by)

	e := enclosing(a, b)
	outer = e.Width()*e.Width() + e.Height()*e.Height()

	return inner, outer
}

// DIoU returns the distance IoU rescaled into [0,1]
func DIoU(a, b Box) float64 {

	inner, outer := centerDistances(a, b)
	if outer <= 0 {
		return 0
	}

	diou := IoU(a, b) - inner/outer
	return (diou + 1) / 2
}

// CIoU returns the complete IoU rescaled into [0,1]
func CIoU(a, b Box) float64 {

	inner, outer := centerDistances(a, b)
	if outer <= 0 {
		return 0
	}

	iou := IoU(a, b)

	// heights are offset by one to keep the aspect term finite
	d := math.Atan(a.Width()/(a.Height()+1)) - math.Atan(b.Width()/(b.Height()+1))
	v := 4 / (math.Pi * math.Pi) * d * d

	alpha := 0.0
	if s := 1 - iou + v; s > 0 {
		alpha = v / s
	}

	ciou := iou - inner/outer - alpha*v
	return (ciou + 1) / 2
}

// CostMetric selects the IoU family similarity used to compare detections
// against tracks
type CostMetric int

const (
	MetricIoU CostMetric = iota
	MetricGIoU
	MetricCIoU
	MetricDIoU
	MetricCtDist
)

var metricNames = map[CostMetric]string{
	MetricIoU:    "iou",
	MetricGIoU:   "giou",
	MetricCIoU:   "ciou",
	MetricDIoU:   "diou",
	MetricCtDist: "ct_dist",
}

// String returns the configuration name of the metric
func (m CostMetric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("CostMetric(%d)", int(m))
}

// ParseCostMetric returns the metric for the given configuration name
func ParseCostMetric(name string) (CostMetric, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for m, n := range metricNames {
		if n == name {
			return m, nil
		}
	}

	return MetricIoU, fmt.Errorf("%w: unknown association metric %q", ErrInvalidParams, name)
}

// MarshalText implements encoding.TextMarshaler
func (m CostMetric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *CostMetric) UnmarshalText(b []byte) error {
	v, err := ParseCostMetric(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Matrix returns the (len(dets) x len(trks)) similarity matrix of the metric,
// higher is better for every metric
func (m CostMetric) Matrix(dets, trks []Box) [][]float64 {

	switch m {
	case MetricCtDist:
		return CtDistBatch(dets, trks)
	case MetricGIoU:
		return pairwise(dets, trks, GIoU)
	case MetricCIoU:
		return pairwise(dets, trks, CIoU)
	case MetricDIoU:
		return pairwise(dets, trks, DIoU)
	default:
		return IoUBatch(dets, trks)
	}
}

// newMatrix allocates a rows x cols matrix
func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// pairwise evaluates fn for every detection, track pair
func pairwise(dets, trks []Box, fn func(a, b Box) float64) [][]float64 {

	m := newMatrix(len(dets), len(trks))

	for i, d := range dets {
		for j, t := range trks {
			m[i][j] = fn(d, t)
		}
	}

	return m
}

// IoUBatch returns the IoU of every detection against every track
func IoUBatch(dets, trks []Box) [][]float64 {
	return pairwise(dets, trks, IoU)
}

// AIoUBatch returns the IoU and aspect alpha of every detection against every
// track
func AIoUBatch(dets, trks []Box) (ious, alphas [][]float64) {

	ious = newMatrix(len(dets), len(trks))
	alphas = newMatrix(len(dets), len(trks))

	for i, d := range dets {
		for j, t := range trks {
			ious[i][j], alphas[i][j] = AIoU(d, t)
		}
	}

	return ious, alphas
}

// CtDistBatch returns a centroid distance similarity: the distance of every
// pair normalised by the largest distance and inverted so the closest pair
// scores highest.  When all centers coincide every pair scores 1.
func CtDistBatch(dets, trks []Box) [][]float64 {

	m := newMatrix(len(dets), len(trks))
	maxDist := 0.0

	for i, d := range dets {
		dx, dy := d.Center()
		for j, t := range trks {
			tx, ty := t.Center()
			m[i][j] = math.Hypot(dx-tx, dy-ty)
		}
		if len(m[i]) > 0 {
			maxDist = math.Max(maxDist, floats.Max(m[i]))
		}
	}

	for i := range m {
		for j := range m[i] {
			if maxDist <= 0 {
				m[i][j] = 1
				continue
			}
			m[i][j] = 1 - m[i][j]/maxDist
		}
	}

	return m
}

// IoUCost builds the (len(trackIdx) x len(detIdx)) cost matrix of 1 - IoU
// between track states and detections.  Nil index slices select every track
// or detection.  Rows for tracks whose time since update exceeds one frame
// are forced to a large constant cost.
func IoUCost(tracks []*Track, dets []Box, trackIdx, detIdx []int) [][]float64 {

	if trackIdx == nil {
		trackIdx = seq(len(tracks))
	}

	if detIdx == nil {
		detIdx = seq(len(dets))
	}

	cost := newMatrix(len(trackIdx), len(detIdx))

	for row, ti := range trackIdx {

		trk := tracks[ti]

		if trk.TimeSinceUpdate() > 1 {
			for col := range detIdx {
				cost[row][col] = staleCost
			}
			continue
		}

		box := trk.State()

		for col, di := range detIdx {
			cost[row][col] = 1 - IoU(box, dets[di])
		}
	}

	return cost
}

// seq returns the indices 0..n-1
func seq(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// matrixMax returns the largest entry of the matrix, or -Inf when empty
func matrixMax(m [][]float64) float64 {
	best := math.Inf(-1)
	for _, row := range m {
		if len(row) > 0 {
			best = math.Max(best, floats.Max(row))
		}
	}
	return best
}
