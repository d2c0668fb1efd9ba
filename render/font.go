package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines the parameters for rendering text on an image using GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// Padding to place around text
	LeftPad   int
	RightPad  int
	TopPad    int
	BottomPad int
	// Alignment of the text label to the bounding box
	Alignment Alignment
}

// DefaultFont returns default font settings
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		LeftPad:   4,
		RightPad:  4,
		TopPad:    4,
		BottomPad: 6,
		Alignment: Left,
	}
}

// labelPad is the padding around text drawn by LabelRGBA
const labelPad = 2

// LoadFace parses a TrueType or OpenType font file into a face of the given
// point size
func LoadFace(path string, size float64) (font.Face, error) {

	fontBytes, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	f, err := opentype.Parse(fontBytes)

	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create type face: %w", err)
	}

	return face, nil
}

// LabelRGBA draws text on a filled background with its top left corner at
// pt, without cgo.  A nil face uses the 7x13 basic font.  The rectangle
// covered is returned.
func LabelRGBA(img draw.Image, pt image.Point, text string, face font.Face,
	fg, bg color.Color) image.Rectangle {

	if face == nil {
		face = basicfont.Face7x13
	}

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := ascent + metrics.Descent.Ceil()
	width := font.MeasureString(face, text).Ceil()

	rect := image.Rect(pt.X, pt.Y, pt.X+width+2*labelPad, pt.Y+height+2*labelPad)

	draw.Draw(img, rect, image.NewUniform(bg), image.Point{}, draw.Src)

	dr := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(pt.X+labelPad, pt.Y+labelPad+ascent),
	}
	dr.DrawString(text)

	return rect.Intersect(img.Bounds())
}
