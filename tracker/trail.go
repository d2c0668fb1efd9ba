package tracker

import "sync"

// Point is the integer pixel center of an output box
type Point struct {
	X, Y int
}

// trailHistory is the point history of one track identity
type trailHistory struct {
	points []Point
	// lastFrame is the Trail frame the identity was last seen on
	lastFrame int
}

// Trail keeps the recent center points of each output identity for drawing
// motion trails.  It is safe for concurrent use.
type Trail struct {
	// size is the maximum number of points kept per identity
	size int
	// expire drops identities not seen for this many frames, 0 keeps them
	expire  int
	frame   int
	history map[int]*trailHistory
	sync.Mutex
}

// NewTrail returns a trail keeping at most size points per identity.
// Identities absent for more than expire frames are forgotten, 0 disables
// expiry.
func NewTrail(size, expire int) *Trail {
	return &Trail{
		size:    size,
		expire:  expire,
		history: make(map[int]*trailHistory),
	}
}

// Reset clears all history
func (t *Trail) Reset() {
	t.Lock()
	defer t.Unlock()

	t.frame = 0
	t.history = make(map[int]*trailHistory)
}

// AddFrame records the centers of one frame of tracker outputs
func (t *Trail) AddFrame(outs []Output) {
	t.Lock()
	defer t.Unlock()

	t.frame++

	for _, o := range outs {

		h, ok := t.history[o.TrackID]
		if !ok {
			h = &trailHistory{}
			t.history[o.TrackID] = h
		}

		cx, cy := o.Box.Center()
		h.points = append(h.points, Point{X: int(cx), Y: int(cy)})
		h.lastFrame = t.frame

		if len(h.points) > t.size {
			h.points = h.points[len(h.points)-t.size:]
		}
	}

	if t.expire <= 0 {
		return
	}

	for id, h := range t.history {
		if t.frame-h.lastFrame > t.expire {
			delete(t.history, id)
		}
	}
}

// GetPoints returns a copy of the point history for a track id, oldest first
func (t *Trail) GetPoints(id int) []Point {
	t.Lock()
	defer t.Unlock()

	if h, ok := t.history[id]; ok {
		return append([]Point(nil), h.points...)
	}

	return nil
}

// Len returns the number of identities with history
func (t *Trail) Len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.history)
}
