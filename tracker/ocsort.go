package tracker

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/logs"
)

// Tracker is the Deep OC-SORT multi object tracker.  It owns every Track and
// is driven by one Update call per frame.  A Tracker is not safe for
// concurrent use.
type Tracker struct {
	params Params
	tracks []*Track
	// frameCount is the number of frames processed since creation or Reset
	frameCount int
	// nextID is the identity given to the next new track
	nextID int

	embedder EmbeddingComputer
	cmc      MotionCompensator
	solver   Assigner
	overlay  OverlayFunc
	log      logs.Log
}

// WithLogger sets the logger for per frame diagnostics, nil is silent
func WithLogger(l logs.Log) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// NewTracker creates a tracker with the given parameters.  Embedding and
// motion compensation collaborators are required unless disabled in p.
func NewTracker(p Params, opts ...Option) (*Tracker, error) {

	if err := p.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		params: p,
		nextID: 1,
		solver: NewAssigner(p.Solver),
	}

	for _, opt := range opts {
		opt(t)
	}

	if !p.EmbeddingOff && t.embedder == nil {
		return nil, fmt.Errorf("%w: embeddings enabled without an embedding computer", ErrInvalidParams)
	}

	if !p.CMCOff && t.cmc == nil {
		return nil, fmt.Errorf("%w: camera motion compensation enabled without a compensator", ErrInvalidParams)
	}

	return t, nil
}

// Params returns the tracker parameters
func (t *Tracker) Params() Params {
	return t.params
}

// Tracks returns the live tracks
func (t *Tracker) Tracks() []*Track {
	return append([]*Track(nil), t.tracks...)
}

// FrameCount returns the number of frames processed
func (t *Tracker) FrameCount() int {
	return t.frameCount
}

// Reset clears all tracks and restarts identities from 1
func (t *Tracker) Reset() {
	t.tracks = nil
	t.frameCount = 0
	t.nextID = 1
}

// DumpCache asks the collaborators holding a cache to persist it
func (t *Tracker) DumpCache() error {

	var errs []error

	for _, c := range []any{t.embedder, t.cmc} {
		if d, ok := c.(CacheDumper); ok {
			if err := d.DumpCache(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (t *Tracker) debugf(format string, args ...any) {
	if t.log != nil {
		t.log.Debugf(format, args...)
	}
}

func (t *Tracker) warnf(format string, args ...any) {
	if t.log != nil {
		t.log.Warnf(format, args...)
	}
}

// Update runs one frame of tracking and returns the confirmed tracks.
// Detections that are malformed or below the detection threshold are
// ignored, an empty frame still ages every track.  Errors are only returned
// for failing or misbehaving collaborators.  Such an error can leave the
// frame partially applied, the tracker must be Reset before further use.
func (t *Tracker) Update(dets []Detection, frame Frame) ([]Output, error) {

	p := t.params
	t.frameCount++

	dets = t.filterDetections(dets, frame.Scale)

	if !p.CMCOff {
		if err := t.compensate(dets, frame); err != nil {
			return nil, err
		}
	}

	// blend alpha moves towards 1 as the detector is less confident
	alphas := make([]float64, len(dets))

	for i, d := range dets {
		trust := (d.Score - p.DetThresh) / (1 - p.DetThresh)
		alphas[i] = p.AlphaFixedEmb + (1-p.AlphaFixedEmb)*(1-trust)
	}

	trks := t.predict()

	velocities := make([]Vec2, len(t.tracks))
	lastObs := make([]Observation, len(t.tracks))
	kObs := make([]Observation, len(t.tracks))
	trkEmbs := make([][]float32, len(t.tracks))
	trkEmbAge := make([]int, len(t.tracks))

	for i, trk := range t.tracks {
		velocities[i], _ = trk.Velocity()
		lastObs[i] = trk.LastObservation()
		kObs[i] = trk.PreviousObservation(p.DeltaT)
		trkEmbs[i] = trk.Embedding()
		trkEmbAge[i] = trk.TimeSinceEmbeddingUpdate()
	}

	detEmbs, err := t.embeddings(dets, trks, velocities, kObs, trkEmbs, alphas, frame)
	if err != nil {
		return nil, err
	}

	matches, unmatchedDets, unmatchedTrks, err := associate(associationInput{
		dets:       dets,
		trks:       trks,
		detEmbs:    detEmbs,
		trkEmbs:    trkEmbs,
		trkEmbAge:  trkEmbAge,
		velocities: velocities,
		prevObs:    kObs,
	}, p, t.solver)

	if err != nil {
		return nil, err
	}

	for _, m := range matches {
		t.updateTrack(t.tracks[m[1]], dets[m[0]], detEmbs[m[0]], alphas[m[0]])
	}

	recovered, unmatchedDets, unmatchedTrks, err := recoverMatches(dets, lastObs,
		unmatchedDets, unmatchedTrks, p, t.solver)

	if err != nil {
		return nil, err
	}

	for _, m := range recovered {
		t.updateTrack(t.tracks[m[1]], dets[m[0]], detEmbs[m[0]], alphas[m[0]])
	}

	for _, ti := range unmatchedTrks {
		// a miss never touches the measurement path so cannot fail
		_ = t.tracks[ti].Update(nil)
	}

	for _, di := range unmatchedDets {
		trk := NewTrack(t.nextID, dets[di], detEmbs[di], p.trackConfig())
		t.nextID++
		t.tracks = append(t.tracks, trk)
	}

	t.debugf("frame %d: %d detections, %d matched, %d recovered, %d new, %d missed",
		t.frameCount, len(dets), len(matches), len(recovered), len(unmatchedDets), len(unmatchedTrks))

	return t.collect(), nil
}

// filterDetections drops detections at or below the detection threshold and
// rescales the remainder into image pixels
func (t *Tracker) filterDetections(dets []Detection, scale float64) []Detection {

	kept := make([]Detection, 0, len(dets))

	for _, d := range dets {

		if !d.Box.IsFinite() || !(d.Score > t.params.DetThresh) {
			continue
		}

		if scale > 0 && scale != 1 {
			d.Box = d.Box.Scale(scale)
		}

		kept = append(kept, d)
	}

	return kept
}

// compensate estimates camera motion for the frame and applies it to every
// track
func (t *Tracker) compensate(dets []Detection, frame Frame) error {

	boxes := make([]Box, len(dets))

	for i, d := range dets {
		boxes[i] = d.Box
	}

	affine, err := t.cmc.ComputeAffine(frame.Image, boxes, frame.Tag)
	if err != nil {
		return fmt.Errorf("camera motion compensation: %w", err)
	}

	if !affine.IsFinite() {
		return fmt.Errorf("%w: non finite entries %v", ErrAffineShape, affine)
	}

	for _, trk := range t.tracks {
		trk.ApplyAffineCorrection(affine)
	}

	return nil
}

// predict advances every track and returns the predicted boxes.  Tracks
// whose prediction diverged to non finite values are dropped.
func (t *Tracker) predict() []Box {

	live := t.tracks[:0]
	boxes := make([]Box, 0, len(t.tracks))

	for _, trk := range t.tracks {

		box := trk.Predict()

		if !box.IsFinite() {
			t.warnf("dropping track %d with diverged prediction %v", trk.ID(), box)
			continue
		}

		live = append(live, trk)
		boxes = append(boxes, box)
	}

	t.tracks = live

	return boxes
}

// embeddings returns an appearance vector per detection, reusing the track
// embedding of securely occluded detections and extracting the rest.
// Reused detections have their blend alpha set to -1.
func (t *Tracker) embeddings(dets []Detection, trks []Box, velocities []Vec2,
	kObs []Observation, trkEmbs [][]float32, alphas []float64, frame Frame) ([][]float32, error) {

	p := t.params
	detEmbs := make([][]float32, len(dets))

	if p.EmbeddingOff {
		t.notifyOverlay(frame, nil, dets, trks)
		return detEmbs, nil
	}

	candidates := occlusionCandidates(dets, trks, velocities, kObs, p)

	var reused, extract []int

	for i, c := range candidates {
		if c >= 0 && trkEmbs[c] != nil {
			detEmbs[i] = append([]float32(nil), trkEmbs[c]...)
			alphas[i] = -1
			reused = append(reused, i)
		} else {
			extract = append(extract, i)
		}
	}

	t.notifyOverlay(frame, reused, dets, trks)

	if len(reused) > 0 {
		t.debugf("frame %d: reusing %d track embeddings", t.frameCount, len(reused))
	}

	if len(extract) == 0 {
		return detEmbs, nil
	}

	boxes := make([]Box, len(extract))

	for k, i := range extract {
		boxes[k] = dets[i].Box
	}

	embs, err := t.embedder.ComputeEmbedding(frame.Image, boxes, frame.Tag)
	if err != nil {
		return nil, fmt.Errorf("embedding extraction: %w", err)
	}

	if len(embs) != len(extract) {
		return nil, fmt.Errorf("%w: got %d for %d boxes", ErrEmbeddingCount, len(embs), len(extract))
	}

	for k, i := range extract {

		if len(embs[k]) != p.EmbeddingDim {
			return nil, fmt.Errorf("%w: got %d, expected %d", ErrEmbeddingDimension, len(embs[k]), p.EmbeddingDim)
		}

		detEmbs[i] = NormalizeVec(append([]float32(nil), embs[k]...))
	}

	return detEmbs, nil
}

// notifyOverlay passes the reuse classification to the overlay callback
func (t *Tracker) notifyOverlay(frame Frame, reused []int, dets []Detection, trks []Box) {

	if t.overlay == nil {
		return
	}

	isReused := make([]bool, len(dets))

	for _, i := range reused {
		isReused[i] = true
	}

	var reusedBoxes, freshBoxes []Box

	for i, d := range dets {
		if isReused[i] {
			reusedBoxes = append(reusedBoxes, d.Box)
		} else {
			freshBoxes = append(freshBoxes, d.Box)
		}
	}

	t.overlay(frame, reusedBoxes, freshBoxes, trks)
}

// updateTrack applies a matched detection and its embedding to a track.  A
// track whose filter fails to correct is marked diverged and removed when
// outputs are collected.
func (t *Tracker) updateTrack(trk *Track, det Detection, emb []float32, alpha float64) {

	obs := Observation{Box: det.Box, Score: det.Score}

	if err := trk.Update(&obs); err != nil {
		t.warnf("track %d update failed: %v", trk.ID(), err)
		trk.diverged = true
		return
	}

	if emb != nil {
		trk.UpdateEmbedding(emb, alpha)
	}
}

// collect returns the outputs of confirmed tracks and removes dead ones.  A
// track is confirmed when it was matched this frame and either has the
// required hit streak or the session is still within its first MinHits
// frames and the track has been matched at least once.
func (t *Tracker) collect() []Output {

	p := t.params
	outs := []Output{}
	live := t.tracks[:0]

	for _, trk := range t.tracks {

		if trk.diverged {
			continue
		}

		box := trk.State()

		if last := trk.LastObservation(); last.Valid() {
			box = last.Box
		}

		confirmed := trk.HitStreak() >= p.MinHits ||
			(t.frameCount <= p.MinHits && trk.Hits() > 0)

		if trk.TimeSinceUpdate() < 1 && confirmed {
			outs = append(outs, Output{Box: box, TrackID: trk.ID()})
		}

		if trk.TimeSinceUpdate() > p.MaxAge {
			t.debugf("removing track %d after %d frames without a match", trk.ID(), trk.TimeSinceUpdate())
			continue
		}

		live = append(live, trk)
	}

	// release references held past the new length
	for i := len(live); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}

	t.tracks = live

	return outs
}
