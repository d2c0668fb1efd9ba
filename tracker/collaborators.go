package tracker

import (
	"gocv.io/x/gocv"
)

// Frame carries the per frame inputs passed alongside the detections
type Frame struct {
	// Image is handed to the embedding and motion compensation collaborators,
	// the tracker itself never reads pixels
	Image gocv.Mat
	// Tag identifies the frame, collaborators use it as a cache key
	Tag string
	// Scale divides detector coordinates back into image pixels.  Zero
	// leaves coordinates unchanged.
	Scale float64
}

// EmbeddingComputer extracts one fixed dimension appearance vector per box
type EmbeddingComputer interface {
	ComputeEmbedding(img gocv.Mat, boxes []Box, tag string) ([][]float32, error)
}

// MotionCompensator estimates the camera motion between the previous frame
// and img as an affine transform
type MotionCompensator interface {
	ComputeAffine(img gocv.Mat, boxes []Box, tag string) (Affine, error)
}

// CacheDumper is implemented by collaborators that persist a cache at
// shutdown
type CacheDumper interface {
	DumpCache() error
}

// OverlayFunc receives the occlusion reuse classification of a frame: the
// detections reusing a track embedding, those sent for fresh extraction and
// the predicted track boxes
type OverlayFunc func(frame Frame, reused, fresh, tracks []Box)

// Option configures a Tracker
type Option func(*Tracker)

// WithEmbeddingComputer sets the appearance embedding collaborator
func WithEmbeddingComputer(e EmbeddingComputer) Option {
	return func(t *Tracker) {
		t.embedder = e
	}
}

// WithMotionCompensator sets the camera motion compensation collaborator
func WithMotionCompensator(m MotionCompensator) Option {
	return func(t *Tracker) {
		t.cmc = m
	}
}

// WithAssigner overrides the assignment solver selected by Params.Solver
func WithAssigner(a Assigner) Option {
	return func(t *Tracker) {
		t.solver = a
	}
}

// WithOverlay sets a callback invoked with the occlusion reuse
// classification of every frame
func WithOverlay(fn OverlayFunc) Option {
	return func(t *Tracker) {
		t.overlay = fn
	}
}
