package tracker

// Detection represents an object detected in a single frame
type Detection struct {
	// Box is the bounding box of the detected object in image pixels
	Box Box
	// Score is the detection confidence
	Score float64
}

// Observation is a raw detection recorded against a track.  The zero
// observation is not a valid sentinel, use NoObservation instead.
type Observation struct {
	Box   Box
	Score float64
}

// NoObservation is the sentinel meaning a track has no prior observation
var NoObservation = Observation{
	Box:   Box{X1: -1, Y1: -1, X2: -1, Y2: -1},
	Score: -1,
}

// Valid reports whether the observation is a real detection rather than
// the NoObservation sentinel
func (o Observation) Valid() bool {
	return o.Score >= 0
}

// Output is a confirmed track result for a frame
type Output struct {
	// Box is the last raw observation of the track, or its filter state when
	// the track has never been observed
	Box Box
	// TrackID is the 1-based stable identity of the track
	TrackID int
}

// Row returns the output in [x1, y1, x2, y2, track_id] form
func (o Output) Row() [5]float64 {
	return [5]float64{o.Box.X1, o.Box.Y1, o.Box.X2, o.Box.Y2, float64(o.TrackID)}
}

// Rows converts outputs to [x1, y1, x2, y2, track_id] rows
func Rows(outs []Output) [][5]float64 {
	rows := make([][5]float64, 0, len(outs))

	for _, o := range outs {
		rows = append(rows, o.Row())
	}

	return rows
}
