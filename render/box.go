package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// boxLabel is a label drawn after all boxes so it is never overdrawn
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// boxRect rounds a box to pixel coordinates
func boxRect(b tracker.Box) image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// TrackerBoxes renders the bounding box and id of each tracker output
func TrackerBoxes(img *gocv.Mat, outs []tracker.Output, font Font, lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(outs))

	for _, out := range outs {

		useClr := TrackColor(out.TrackID)

		rect := boxRect(out.Box)
		gocv.Rectangle(img, rect, useClr, lineThickness)

		text := fmt.Sprintf("ID %d", out.TrackID)

		boxLabels = append(boxLabels, placeLabel(rect, text, useClr, font, lineThickness))
	}

	drawLabels(img, boxLabels, font)
}

// Boxes renders plain rectangles in a single color
func Boxes(img *gocv.Mat, boxes []tracker.Box, clr color.RGBA, lineThickness int) {
	for _, b := range boxes {
		gocv.Rectangle(img, boxRect(b), clr, lineThickness)
	}
}

// placeLabel calculates where the label of a box is drawn according to the
// font alignment
func placeLabel(rect image.Rectangle, text string, clr color.RGBA, font Font,
	lineThickness int) boxLabel {

	textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (rect.Min.X + rect.Max.X) / 2

	case Right:
		centerX = rect.Max.X - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		centerX = rect.Min.X + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
	}

	return boxLabel{
		rect: image.Rect(centerX-textSize.X/2-font.LeftPad,
			rect.Min.Y-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, rect.Min.Y),
		clr:     clr,
		text:    text,
		textPos: image.Pt(centerX-textSize.X/2, rect.Min.Y-font.BottomPad),
	}
}

// drawLabels draws the label backgrounds and text as the top most layer
func drawLabels(img *gocv.Mat, labels []boxLabel, font Font) {
	for _, box := range labels {
		gocv.Rectangle(img, box.rect, box.clr, -1)

		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}
