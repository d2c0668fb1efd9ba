package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-deepocsort/tracker"
)

func TestReadDetections(t *testing.T) {

	data := `1,-1,10,20,30,40,0.9,-1,-1,-1
1,-1,100,20,30,40,0.7,-1,-1,-1

# comment
3,-1,12,21,30,40,0.95
`

	frames, err := readDetections(strings.NewReader(data))
	require.NoError(t, err)

	require.Len(t, frames[1], 2)
	assert.Equal(t, tracker.NewBox(10, 20, 40, 60), frames[1][0].Box)
	assert.Equal(t, 0.7, frames[1][1].Score)
	assert.Empty(t, frames[2])
	require.Len(t, frames[3], 1)

	first, last := frameRange(frames)
	assert.Equal(t, 1, first)
	assert.Equal(t, 3, last)
}

func TestReadDetectionsErrors(t *testing.T) {

	_, err := readDetections(strings.NewReader("1,-1,10,20\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = readDetections(strings.NewReader("1,-1,10,20,30,x,0.9\n"))
	assert.ErrorContains(t, err, "field 6")
}

func TestWriteResults(t *testing.T) {

	var buf bytes.Buffer

	err := writeResults(&buf, 7, []tracker.Output{
		{Box: tracker.NewBox(10, 20, 40, 60), TrackID: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, "7,3,10.00,20.00,30.00,40.00,1,-1,-1,-1\n", buf.String())
}

func TestFrameRangeEmpty(t *testing.T) {
	first, last := frameRange(nil)
	assert.Greater(t, first, last)
}
