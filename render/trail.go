package render

import (
	"image"
	"image/color"

	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// TrailStyle defines the parameters used for rendering the trail style
type TrailStyle struct {
	// LineSame draws the trail line in the track color, otherwise LineColor
	// is used
	LineSame      bool
	LineColor     color.RGBA
	LineThickness int
	// CircleSame draws the current center point in the track color,
	// otherwise CircleColor is used
	CircleSame   bool
	CircleColor  color.RGBA
	CircleRadius int
}

// DefaultTrailStyle returns default trail style settings
func DefaultTrailStyle() TrailStyle {
	return TrailStyle{
		LineSame:      false,
		LineColor:     Yellow,
		LineThickness: 1,
		CircleSame:    true,
		CircleColor:   Pink,
		CircleRadius:  3,
	}
}

// Trail draws the center point history of each output track
func Trail(img *gocv.Mat, outs []tracker.Output, trail *tracker.Trail, style TrailStyle) {

	for _, out := range outs {

		objClr := TrackColor(out.TrackID)

		lineClr := objClr
		circleClr := objClr

		if !style.LineSame {
			lineClr = style.LineColor
		}

		if !style.CircleSame {
			circleClr = style.CircleColor
		}

		points := trail.GetPoints(out.TrackID)

		if len(points) < 2 {
			continue
		}

		for i := 1; i < len(points); i++ {
			gocv.Line(img,
				image.Pt(points[i-1].X, points[i-1].Y),
				image.Pt(points[i].X, points[i].Y),
				lineClr, style.LineThickness,
			)
		}

		// center point of the current box
		last := points[len(points)-1]
		gocv.Circle(img, image.Pt(last.X, last.Y), style.CircleRadius, circleClr, -1)
	}
}
