package cmc

import (
	"image"
	"image/color"

	clipper "github.com/ctessum/go.clipper"
	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

var (
	background = gocv.NewScalar(255, 0, 0, 0)
	foreground = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

// ForegroundMask returns a single channel width x height mask that is 255
// over the background and 0 inside every box grown by margin pixels.
// Boxes are given in mask coordinates.  The caller must Close the Mat.
func ForegroundMask(boxes []tracker.Box, width, height int, margin float64) gocv.Mat {

	mask := gocv.NewMatWithSizeFromScalar(background, height, width, gocv.MatTypeCV8U)

	polys := dilateBoxes(boxes, margin)

	if len(polys) == 0 {
		return mask
	}

	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()

	gocv.FillPoly(&mask, pv, foreground)

	return mask
}

// dilateBoxes grows each box outward by margin using a square join so
// corners stay sharp, returning the outlines as polygons
func dilateBoxes(boxes []tracker.Box, margin float64) [][]image.Point {

	co := clipper.NewClipperOffset()

	n := 0

	for _, b := range boxes {
		if !b.IsFinite() || b.Width() <= 0 || b.Height() <= 0 {
			continue
		}

		path := clipper.Path{
			&clipper.IntPoint{X: clipper.CInt(b.X1), Y: clipper.CInt(b.Y1)},
			&clipper.IntPoint{X: clipper.CInt(b.X2), Y: clipper.CInt(b.Y1)},
			&clipper.IntPoint{X: clipper.CInt(b.X2), Y: clipper.CInt(b.Y2)},
			&clipper.IntPoint{X: clipper.CInt(b.X1), Y: clipper.CInt(b.Y2)},
		}

		co.AddPath(path, clipper.JtSquare, clipper.EtClosedPolygon)
		n++
	}

	if n == 0 {
		return nil
	}

	solution := co.Execute(margin)

	polys := make([][]image.Point, 0, len(solution))

	for _, sol := range solution {

		if len(sol) < 3 {
			continue
		}

		pts := make([]image.Point, len(sol))

		for i, pt := range sol {
			pts[i] = image.Pt(int(pt.X), int(pt.Y))
		}

		polys = append(polys, pts)
	}

	return polys
}
