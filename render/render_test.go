package render

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// blank returns a zeroed BGR image
func blank(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func TestTrackColor(t *testing.T) {
	assert.Equal(t, trackColors[1], TrackColor(1))
	assert.Equal(t, TrackColor(3), TrackColor(3+len(trackColors)))
	assert.Equal(t, TrackColor(2), TrackColor(-2))
}

func TestLabelRGBA(t *testing.T) {

	img := image.NewRGBA(image.Rect(0, 0, 100, 40))

	rect := LabelRGBA(img, image.Pt(5, 5), "ID 7", nil, White, Black)

	// 4 glyphs of the 7x13 face plus padding
	assert.Equal(t, image.Rect(5, 5, 5+28+2*labelPad, 5+13+2*labelPad), rect)

	// corner of the background is untouched by glyphs
	assert.Equal(t, color.RGBA(Black), img.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(90, 35))

	white := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if img.RGBAAt(x, y) == White {
				white++
			}
		}
	}
	assert.Positive(t, white, "text drawn")
}

func TestLabelRGBAClipped(t *testing.T) {

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))

	rect := LabelRGBA(img, image.Pt(10, 2), "long label", nil, White, Black)

	assert.Equal(t, image.Rect(10, 2, 20, 10), rect)
}

func TestLoadFaceErrors(t *testing.T) {

	dir := t.TempDir()

	_, err := LoadFace(filepath.Join(dir, "missing.ttf"), 12)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.ttf")
	require.NoError(t, os.WriteFile(bad, []byte("not a font"), 0o644))

	_, err = LoadFace(bad, 12)
	assert.ErrorContains(t, err, "failed to parse font")
}

func TestTrackerBoxes(t *testing.T) {

	img := blank(120, 160)
	defer img.Close()

	outs := []tracker.Output{
		{Box: tracker.NewBox(20, 40, 60, 100), TrackID: 1},
		{Box: tracker.NewBox(90, 30, 150, 110), TrackID: 2},
	}

	TrackerBoxes(&img, outs, DefaultFont(), 2)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	assert.Positive(t, gocv.CountNonZero(gray))

	// interior of a box stays clear
	assert.Equal(t, uint8(0), gray.GetUCharAt(70, 40))
}

func TestTrail(t *testing.T) {

	img := blank(100, 100)
	defer img.Close()

	trail := tracker.NewTrail(10, 0)

	var outs []tracker.Output
	for i := 0; i < 4; i++ {
		outs = []tracker.Output{{Box: tracker.NewBox(float64(10+i*10), 10, float64(20+i*10), 20), TrackID: 4}}
		trail.AddFrame(outs)
	}

	Trail(&img, outs, trail, DefaultTrailStyle())

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	// trail line runs along the centers at y=15
	assert.NotEqual(t, uint8(0), gray.GetUCharAt(15, 30))
	assert.Equal(t, uint8(0), gray.GetUCharAt(80, 80))
}

func TestAssociationOverlay(t *testing.T) {

	img := blank(100, 200)
	defer img.Close()

	var gotTag string
	var drawn int

	overlay := AssociationOverlay(func(tag string, out gocv.Mat) error {
		gotTag = tag

		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(out, &gray, gocv.ColorBGRToGray)
		drawn = gocv.CountNonZero(gray)

		return errors.New("disk full")
	}, logs.NewTestingLog(t))

	frame := tracker.Frame{Image: img, Tag: "000042"}
	overlay(frame,
		[]tracker.Box{tracker.NewBox(10, 30, 40, 80)},
		[]tracker.Box{tracker.NewBox(60, 30, 90, 80)},
		[]tracker.Box{tracker.NewBox(12, 32, 42, 82)},
	)

	assert.Equal(t, "000042", gotTag)
	assert.Positive(t, drawn)

	// source frame is not drawn on
	src := gocv.NewMat()
	defer src.Close()
	gocv.CvtColor(img, &src, gocv.ColorBGRToGray)
	assert.Equal(t, 0, gocv.CountNonZero(src))

	// empty frames are skipped
	called := false
	skip := AssociationOverlay(func(string, gocv.Mat) error {
		called = true
		return nil
	}, nil)
	skip(tracker.Frame{Image: gocv.NewMat()}, nil, nil, nil)
	assert.False(t, called)
}

func TestWriteOverlay(t *testing.T) {

	dir := t.TempDir()

	img := blank(20, 20)
	defer img.Close()

	require.NoError(t, WriteOverlay(dir)("000001", img))

	_, err := os.Stat(filepath.Join(dir, "000001.jpg"))
	assert.NoError(t, err)

	assert.Error(t, WriteOverlay(filepath.Join(dir, "missing"))("000002", img))
}
