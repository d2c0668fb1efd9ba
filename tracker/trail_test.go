package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrail(t *testing.T) {

	trail := NewTrail(2, 1)

	trail.AddFrame([]Output{{Box: NewBox(0, 0, 10, 10), TrackID: 1}, {Box: NewBox(0, 0, 4, 4), TrackID: 2}})
	trail.AddFrame([]Output{{Box: NewBox(2, 0, 12, 10), TrackID: 1}})
	trail.AddFrame([]Output{{Box: NewBox(4, 0, 14, 10), TrackID: 1}})

	// only the most recent points are kept
	assert.Equal(t, []Point{{X: 7, Y: 5}, {X: 9, Y: 5}}, trail.GetPoints(1))

	// id 2 was last seen two frames ago
	assert.Nil(t, trail.GetPoints(2))
	assert.Equal(t, 1, trail.Len())

	trail.Reset()
	assert.Equal(t, 0, trail.Len())
}
