package embedding

import (
	"fmt"
	"image"
	"math"

	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// Batch holds the resized crops of a group of detections for a single Model
// invocation
type Batch struct {
	crops []gocv.Mat
	// size is the maximum number of crops
	size int
	// width and height every crop is resized to
	width  int
	height int
}

// NewBatch creates an empty batch of up to size crops of the given input
// size
func NewBatch(size int, input image.Point) *Batch {
	return &Batch{
		crops:  make([]gocv.Mat, 0, size),
		size:   size,
		width:  input.X,
		height: input.Y,
	}
}

// Add crops the box out of frame, resizes it to the batch input size and
// appends it
func (b *Batch) Add(frame gocv.Mat, box tracker.Box) error {

	// check if batch is full
	if len(b.crops) >= b.size {
		return fmt.Errorf("batch full")
	}

	rect := CropRect(box, frame.Cols(), frame.Rows())

	if rect.Empty() {
		return fmt.Errorf("box %v has no pixels inside the %dx%d frame", box, frame.Cols(), frame.Rows())
	}

	// get the objects region of interest from source Mat
	roi := frame.Region(rect)
	defer roi.Close()

	crop := gocv.NewMat()

	// resize to input tensor size
	gocv.Resize(roi, &crop, image.Pt(b.width, b.height), 0, 0, gocv.InterpolationArea)

	if crop.Rows() != b.height || crop.Cols() != b.width {
		crop.Close()
		return fmt.Errorf("crop does not match batch shape")
	}

	b.crops = append(b.crops, crop)

	return nil
}

// Mats returns the crops added so far
func (b *Batch) Mats() []gocv.Mat {
	return b.crops
}

// Len returns the number of crops in the batch
func (b *Batch) Len() int {
	return len(b.crops)
}

// Clear frees the crops so the batch can be reused
func (b *Batch) Clear() {
	for _, c := range b.crops {
		c.Close()
	}
	b.crops = b.crops[:0]
}

// Close the batch and free allocated memory
func (b *Batch) Close() error {
	b.Clear()
	return nil
}

// CropRect returns the pixel rectangle of box clamped to a width x height
// image.  Boxes thinner than a pixel are widened to one pixel so every box
// overlapping the image yields a crop.
func CropRect(box tracker.Box, width, height int) image.Rectangle {

	x1 := clamp(int(math.Floor(box.X1)), 0, width)
	y1 := clamp(int(math.Floor(box.Y1)), 0, height)
	x2 := clamp(int(math.Ceil(box.X2)), 0, width)
	y2 := clamp(int(math.Ceil(box.Y2)), 0, height)

	if x2 <= x1 && x1 < width && box.X2 >= 0 {
		x2 = x1 + 1
	}

	if y2 <= y1 && y1 < height && box.Y2 >= 0 {
		y2 = y1 + 1
	}

	return image.Rect(x1, y1, x2, y2)
}

// clamp restricts the value x to be within the range min and max
func clamp(val, min, max int) int {

	if val > min {

		if val < max {
			return val
		}

		return max
	}

	return min
}
