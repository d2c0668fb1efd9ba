package tracker

import (
	"math"
)

// DetectionsFromRows converts detector output rows into Detections.  A row
// is [x1, y1, x2, y2, score] or [x1, y1, x2, y2, objectness, class_conf]
// in which case the two confidence channels are multiplied together.  Rows
// that are too short or contain non-finite values are skipped so a frame of
// malformed input still tracks with the remaining detections.
func DetectionsFromRows(rows [][]float64) []Detection {

	dets := make([]Detection, 0, len(rows))

	for _, row := range rows {

		if len(row) < 5 {
			continue
		}

		score := row[4]

		if len(row) >= 6 {
			score *= row[5]
		}

		box := NewBox(row[0], row[1], row[2], row[3])

		if !box.IsFinite() || math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}

		dets = append(dets, Detection{Box: box, Score: score})
	}

	return dets
}

// LetterboxScale returns the factor a letterbox resize of a srcWidth x
// srcHeight image into a destWidth x destHeight model input applied.  Divide
// detector coordinates by it to return them to source image pixels.
func LetterboxScale(srcWidth, srcHeight, destWidth, destHeight int) float64 {

	if srcWidth <= 0 || srcHeight <= 0 {
		return 1
	}

	scaleW := float64(destWidth) / float64(srcWidth)
	scaleH := float64(destHeight) / float64(srcHeight)

	return math.Min(scaleW, scaleH)
}
