package tracker

import (
	"math"
)

// Vec2 is a 2D direction vector
type Vec2 struct {
	X, Y float64
}

// Dot returns the dot product of two vectors
func (v Vec2) Dot(o Vec2) float64 {
	return v.X*o.X + v.Y*o.Y
}

// SpeedDirection returns the unit direction from the center of box a to the
// center of box b
func SpeedDirection(a, b Box) Vec2 {

	ax, ay := a.Center()
	bx, by := b.Center()

	dx := bx - ax
	dy := by - ay
	norm := math.Sqrt(dx*dx+dy*dy) + boxEpsilon

	return Vec2{X: dx / norm, Y: dy / norm}
}

// TrackConfig holds the per track settings fixed at creation time
type TrackConfig struct {
	// DeltaT is how many frames back velocity is estimated from
	DeltaT int
	// Legacy selects the 7 state motion filter
	Legacy bool
	// PosNoise, VelNoise and MeasNoise configure the size dependent filter
	PosNoise  float64
	VelNoise  float64
	MeasNoise float64
}

// trackConfig returns the track settings from tracker parameters
func (p Params) trackConfig() TrackConfig {
	return TrackConfig{
		DeltaT:    p.DeltaT,
		Legacy:    p.NewKFOff,
		PosNoise:  p.PosNoise,
		VelNoise:  p.VelNoise,
		MeasNoise: p.MeasNoise,
	}
}

// Track is a single tracked object identity
type Track struct {
	// id is the 1-based track identity
	id     int
	filter MotionFilter
	deltaT int

	// age is the number of predictions since creation
	age int
	// timeSinceUpdate is the number of frames since the last match
	timeSinceUpdate int
	// hits is the total number of matches
	hits int
	// hitStreak is the number of consecutive matched frames
	hitStreak int

	lastObservation Observation
	observations    observationHistory

	// velocity is the unit direction of motion, valid when hasVelocity
	velocity    Vec2
	hasVelocity bool

	// embedding is the L2 normalised appearance feature
	embedding          []float32
	timeSinceEmbUpdate int

	// frozen is set when the last update had no detection
	frozen bool

	// history holds the predicted boxes since the last match
	history []Box

	// diverged is set when the filter rejected a measurement
	diverged bool
}

// NewTrack creates a track on an unmatched detection.  The detection seeds
// the motion filter but is not recorded as an observation.
func NewTrack(id int, det Detection, emb []float32, cfg TrackConfig) *Track {

	var filter MotionFilter

	if cfg.Legacy {
		filter = NewLegacyFilter(det.Box)
	} else {
		filter = NewBoxFilter(det.Box, cfg.PosNoise, cfg.VelNoise, cfg.MeasNoise)
	}

	t := &Track{
		id:              id,
		filter:          filter,
		deltaT:          cfg.DeltaT,
		lastObservation: NoObservation,
		observations:    newObservationHistory(cfg.DeltaT),
	}

	if emb != nil {
		t.embedding = NormalizeVec(append([]float32(nil), emb...))
	}

	return t
}

// ID returns the 1-based track identity
func (t *Track) ID() int {
	return t.id
}

// Age returns the number of frames since the track was created
func (t *Track) Age() int {
	return t.age
}

// TimeSinceUpdate returns the number of frames since the last match
func (t *Track) TimeSinceUpdate() int {
	return t.timeSinceUpdate
}

// Hits returns the total number of matches
func (t *Track) Hits() int {
	return t.hits
}

// HitStreak returns the number of consecutive matched frames
func (t *Track) HitStreak() int {
	return t.hitStreak
}

// Frozen reports whether the last update had no detection
func (t *Track) Frozen() bool {
	return t.frozen
}

// LastObservation returns the most recent matched detection, or
// NoObservation
func (t *Track) LastObservation() Observation {
	return t.lastObservation
}

// Velocity returns the estimated unit direction of motion and whether one
// has been estimated yet
func (t *Track) Velocity() (Vec2, bool) {
	return t.velocity, t.hasVelocity
}

// Embedding returns the appearance feature of the track
func (t *Track) Embedding() []float32 {
	return t.embedding
}

// TimeSinceEmbeddingUpdate returns the number of updates since the
// embedding was last blended
func (t *Track) TimeSinceEmbeddingUpdate() int {
	return t.timeSinceEmbUpdate
}

// PredictionHistory returns the boxes predicted since the last match
func (t *Track) PredictionHistory() []Box {
	return t.history
}

// PreviousObservation returns the observation k frames before the current
// age, see observationHistory.previous
func (t *Track) PreviousObservation(k int) Observation {
	return t.observations.previous(t.age, k)
}

// Predict advances the track one frame and returns the predicted box
func (t *Track) Predict() Box {

	t.filter.Predict(t.frozen)

	t.age++

	if t.timeSinceUpdate > 0 {
		t.hitStreak = 0
	}

	t.timeSinceUpdate++

	box := t.filter.Box()
	t.history = append(t.history, box)

	return box
}

// Update corrects the track with a matched detection, or records a missed
// frame when obs is nil
func (t *Track) Update(obs *Observation) error {

	if obs == nil {
		t.frozen = true
		return t.filter.Update(nil)
	}

	t.frozen = false

	if t.lastObservation.Valid() {

		prev := t.lastObservation

		for dt := t.deltaT; dt > 0; dt-- {
			if o, ok := t.observations.at(t.age - dt); ok {
				prev = o
				break
			}
		}

		t.velocity = SpeedDirection(prev.Box, obs.Box)
		t.hasVelocity = true
	}

	t.lastObservation = *obs
	t.observations.add(t.age, *obs)

	t.timeSinceUpdate = 0
	t.history = t.history[:0]
	t.hits++
	t.hitStreak++

	box := obs.Box
	return t.filter.Update(&box)
}

// UpdateEmbedding blends emb into the track embedding with factor
// alpha^(time_since_embedding_update+1).  An alpha of -1 skips blending and
// lets the embedding grow stale.
func (t *Track) UpdateEmbedding(emb []float32, alpha float64) {

	if alpha == -1 {
		t.timeSinceEmbUpdate++
		return
	}

	if t.embedding == nil {
		t.embedding = NormalizeVec(append([]float32(nil), emb...))
		t.timeSinceEmbUpdate = 0
		return
	}

	a := float32(math.Pow(alpha, float64(t.timeSinceEmbUpdate+1)))
	t.timeSinceEmbUpdate = 0

	for i := range t.embedding {
		if i < len(emb) {
			t.embedding[i] = a*t.embedding[i] + (1-a)*emb[i]
		}
	}

	NormalizeVec(t.embedding)
}

// State returns the current filter estimate as a corner form box
func (t *Track) State() Box {
	return t.filter.Box()
}

// FilterState returns a copy of the raw motion filter state vector
func (t *Track) FilterState() []float64 {
	return t.filter.State()
}

// ApplyAffineCorrection reprojects the last observation, the observations
// within the velocity window and the filter state through a camera motion
// transform
func (t *Track) ApplyAffineCorrection(a Affine) {

	if t.lastObservation.Valid() {
		t.lastObservation.Box = t.lastObservation.Box.Transform(a)
	}

	t.observations.transform(t.age-t.deltaT, a)

	t.filter.ApplyAffine(a)
}

// Mahalanobis returns the distance of b from the predicted state.  It is
// only meaningful directly after Predict.
func (t *Track) Mahalanobis(b Box) (float64, error) {
	return t.filter.Mahalanobis(b)
}
