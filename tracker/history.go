package tracker

import (
	"math"

	"github.com/bmharper/ringbuffer"
)

// agedObservation is an observation keyed by the track age it was made at
type agedObservation struct {
	age int
	obs Observation
}

// observationHistory keeps the most recent observations of a track keyed by
// age.  Only the window needed for velocity estimation and affine correction
// is retained.
type observationHistory struct {
	ring ringbuffer.RingP[*agedObservation]
}

// nextPowerOf2 returns the smallest power of two >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

// newObservationHistory creates a history able to hold deltaT+1 ages
func newObservationHistory(deltaT int) observationHistory {
	return observationHistory{
		ring: ringbuffer.NewRingP[*agedObservation](nextPowerOf2(deltaT + 2)),
	}
}

// add records the observation made at age
func (h *observationHistory) add(age int, o Observation) {
	h.ring.Add(&agedObservation{age: age, obs: o})
}

// len returns the number of retained observations
func (h *observationHistory) len() int {
	return h.ring.Len()
}

// at returns the observation made at age
func (h *observationHistory) at(age int) (Observation, bool) {
	for i := h.ring.Len() - 1; i >= 0; i-- {
		if e := h.ring.Peek(i); e.age == age {
			return e.obs, true
		}
	}
	return Observation{}, false
}

// latest returns the observation with the greatest age
func (h *observationHistory) latest() (Observation, bool) {
	if h.ring.Len() == 0 {
		return Observation{}, false
	}
	return h.ring.Peek(h.ring.Len() - 1).obs, true
}

// previous returns the observation exactly k frames before curAge, else the
// closest one from k-1 down to 1 frames before, else the latest observation.
// NoObservation is returned when the history is empty.
func (h *observationHistory) previous(curAge, k int) Observation {

	if h.len() == 0 {
		return NoObservation
	}

	for dt := k; dt > 0; dt-- {
		if o, ok := h.at(curAge - dt); ok {
			return o
		}
	}

	o, _ := h.latest()
	return o
}

// transform applies the affine to every observation made from age fromAge
// onwards
func (h *observationHistory) transform(fromAge int, a Affine) {
	for i := 0; i < h.ring.Len(); i++ {
		if e := h.ring.Peek(i); e.age >= fromAge {
			e.obs.Box = e.obs.Box.Transform(a)
		}
	}
}
