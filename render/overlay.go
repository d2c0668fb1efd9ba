package render

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// OverlaySink receives a rendered overlay image.  The image is closed after
// the sink returns.
type OverlaySink func(tag string, img gocv.Mat) error

// AssociationOverlay returns a tracker.OverlayFunc drawing the predicted
// track boxes in green, detections reusing a track embedding in yellow and
// detections sent for embedding extraction in blue on a copy of the frame.
func AssociationOverlay(sink OverlaySink, log logs.Log) tracker.OverlayFunc {

	font := DefaultFont()

	return func(frame tracker.Frame, reused, fresh, tracks []tracker.Box) {

		if frame.Image.Empty() {
			return
		}

		img := frame.Image.Clone()
		defer img.Close()

		Boxes(&img, tracks, Green, 2)
		Boxes(&img, fresh, Blue, 1)
		Boxes(&img, reused, Yellow, 2)

		legend := fmt.Sprintf("tracks %d  reused %d  fresh %d", len(tracks), len(reused), len(fresh))
		gocv.PutTextWithParams(&img, legend, image.Pt(10, 20), font.Face, font.Scale,
			font.Color, font.Thickness, font.LineType, false)

		if err := sink(frame.Tag, img); err != nil && log != nil {
			log.Warnf("Failed to write overlay for frame %s: %v", frame.Tag, err)
		}
	}
}

// WriteOverlay returns an OverlaySink saving each overlay as a JPEG named
// after the frame tag in dir
func WriteOverlay(dir string) OverlaySink {
	return func(tag string, img gocv.Mat) error {
		path := filepath.Join(dir, tag+".jpg")

		if !gocv.IMWrite(path, img) {
			return fmt.Errorf("failed to write %s", path)
		}

		return nil
	}
}
