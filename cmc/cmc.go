// Package cmc estimates camera motion between consecutive frames as an
// affine transform using sparse optical flow over background features.
package cmc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// Config of a Compensator
type Config struct {
	// Downscale divides the frame size before feature detection
	Downscale int
	// MaxCorners is the maximum number of features tracked
	MaxCorners int
	// Quality is the minimum accepted corner quality relative to the best
	Quality float64
	// MinDistance between features in downscaled pixels
	MinDistance float64
	// MinFeatures is the minimum number of tracked feature pairs needed to
	// estimate a transform, fewer returns the identity
	MinFeatures int
	// Margin grows detection boxes before masking them out, in original
	// frame pixels
	Margin float64
	// CachePath is the JSON file affines are loaded from and dumped to.
	// Empty disables persistence.
	CachePath string
}

// DefaultConfig returns the sparse optical flow settings
func DefaultConfig() Config {
	return Config{
		Downscale:   2,
		MaxCorners:  3000,
		Quality:     0.01,
		MinDistance: 1,
		MinFeatures: 10,
		Margin:      10,
	}
}

// Compensator implements tracker.MotionCompensator and tracker.CacheDumper.
// It keeps the previous frame features so calls must be made in frame order.
type Compensator struct {
	cfg Config
	log logs.Log

	mu    sync.Mutex
	cache map[string]tracker.Affine

	prevGray gocv.Mat
	prevPts  []gocv.Point2f
	hasPrev  bool
}

// NewCompensator creates a Compensator, loading Config.CachePath when it
// exists
func NewCompensator(cfg Config, log logs.Log) (*Compensator, error) {

	if cfg.Downscale < 1 {
		cfg.Downscale = 1
	}

	if cfg.MaxCorners < 1 || cfg.Quality <= 0 {
		return nil, fmt.Errorf("invalid feature settings: max corners %d, quality %v",
			cfg.MaxCorners, cfg.Quality)
	}

	c := &Compensator{
		cfg:      cfg,
		log:      log,
		cache:    make(map[string]tracker.Affine),
		prevGray: gocv.NewMat(),
	}

	if cfg.CachePath != "" {
		if err := c.load(cfg.CachePath); err != nil {
			c.prevGray.Close()
			return nil, err
		}
	}

	return c, nil
}

// ComputeAffine returns the transform mapping the previous frame onto img.
// The first frame, and frames with too few trackable background features,
// return the identity.  Results are cached by tag.
func (c *Compensator) ComputeAffine(img gocv.Mat, boxes []tracker.Box, tag string) (tracker.Affine, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if tag != "" {
		if a, ok := c.cache[tag]; ok {
			return a, nil
		}
	}

	if img.Empty() {
		return tracker.IdentityAffine(), errors.New("frame image is empty")
	}

	a, err := c.estimate(img, boxes)

	if err != nil {
		return a, err
	}

	if tag != "" {
		c.cache[tag] = a
	}

	return a, nil
}

// estimate tracks the previous frame features into img
func (c *Compensator) estimate(img gocv.Mat, boxes []tracker.Box) (tracker.Affine, error) {

	gray := c.gray(img)

	scale := float64(c.cfg.Downscale)
	scaled := make([]tracker.Box, len(boxes))

	for i, b := range boxes {
		scaled[i] = b.Scale(scale)
	}

	mask := ForegroundMask(scaled, gray.Cols(), gray.Rows(), c.cfg.Margin/scale)
	defer mask.Close()

	pts := c.features(gray, mask)

	defer func() {
		c.prevGray.Close()
		c.prevGray = gray
		c.prevPts = pts
		c.hasPrev = true
	}()

	if !c.hasPrev || len(c.prevPts) < c.cfg.MinFeatures {
		return tracker.IdentityAffine(), nil
	}

	from, to, err := c.flow(gray)

	if err != nil {
		return tracker.IdentityAffine(), err
	}

	if len(from) < c.cfg.MinFeatures {
		c.debugf("Only %d features tracked, using identity", len(from))
		return tracker.IdentityAffine(), nil
	}

	fromVec := gocv.NewPoint2fVectorFromPoints(from)
	defer fromVec.Close()

	toVec := gocv.NewPoint2fVectorFromPoints(to)
	defer toVec.Close()

	m := gocv.EstimateAffinePartial2D(fromVec, toVec)
	defer m.Close()

	if m.Empty() {
		c.debugf("Affine estimation failed on %d features, using identity", len(from))
		return tracker.IdentityAffine(), nil
	}

	a, err := AffineFromMat(m)

	if err != nil {
		return tracker.IdentityAffine(), err
	}

	// translation back to full resolution
	a[0][2] *= scale
	a[1][2] *= scale

	return a, nil
}

// gray returns a downscaled single channel copy of img
func (c *Compensator) gray(img gocv.Mat) gocv.Mat {

	gray := gocv.NewMat()

	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	if c.cfg.Downscale == 1 {
		return gray
	}

	small := gocv.NewMat()
	size := image.Pt(img.Cols()/c.cfg.Downscale, img.Rows()/c.cfg.Downscale)
	gocv.Resize(gray, &small, size, 0, 0, gocv.InterpolationLinear)
	gray.Close()

	return small
}

// features detects corners on gray and drops those under the foreground
// mask
func (c *Compensator) features(gray, mask gocv.Mat) []gocv.Point2f {

	corners := gocv.NewMat()
	defer corners.Close()

	gocv.GoodFeaturesToTrack(gray, &corners, c.cfg.MaxCorners, c.cfg.Quality, c.cfg.MinDistance)

	if corners.Empty() {
		return nil
	}

	data, err := corners.DataPtrFloat32()

	if err != nil {
		c.debugf("Unable to read corners: %v", err)
		return nil
	}

	pts := make([]gocv.Point2f, 0, len(data)/2)

	for i := 0; i+1 < len(data); i += 2 {
		x, y := int(data[i]), int(data[i+1])

		if x < 0 || y < 0 || x >= mask.Cols() || y >= mask.Rows() {
			continue
		}

		if mask.GetUCharAt(y, x) == 0 {
			continue
		}

		pts = append(pts, gocv.Point2f{X: data[i], Y: data[i+1]})
	}

	return pts
}

// flow tracks the previous features into gray returning the pairs found
func (c *Compensator) flow(gray gocv.Mat) ([]gocv.Point2f, []gocv.Point2f, error) {

	prev, err := pointsMat(c.prevPts)

	if err != nil {
		return nil, nil, err
	}

	defer prev.Close()

	next := gocv.NewMat()
	defer next.Close()

	status := gocv.NewMat()
	defer status.Close()

	flowErr := gocv.NewMat()
	defer flowErr.Close()

	gocv.CalcOpticalFlowPyrLK(c.prevGray, gray, prev, next, &status, &flowErr)

	data, err := next.DataPtrFloat32()

	if err != nil {
		return nil, nil, fmt.Errorf("error reading optical flow: %w", err)
	}

	if len(data) != 2*len(c.prevPts) || status.Rows()*status.Cols() != len(c.prevPts) {
		return nil, nil, fmt.Errorf("optical flow returned %d points for %d features",
			len(data)/2, len(c.prevPts))
	}

	from := make([]gocv.Point2f, 0, len(c.prevPts))
	to := make([]gocv.Point2f, 0, len(c.prevPts))

	for i, p := range c.prevPts {
		if status.GetUCharAt(i, 0) == 0 {
			continue
		}

		from = append(from, p)
		to = append(to, gocv.Point2f{X: data[2*i], Y: data[2*i+1]})
	}

	return from, to, nil
}

// pointsMat packs points into an N x 1 two channel float Mat
func pointsMat(pts []gocv.Point2f) (gocv.Mat, error) {

	buf := make([]byte, 8*len(pts))

	for i, p := range pts {
		binary.LittleEndian.PutUint32(buf[8*i:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[8*i+4:], math.Float32bits(p.Y))
	}

	return gocv.NewMatFromBytes(len(pts), 1, gocv.MatTypeCV32FC2, buf)
}

// AffineFromMat converts a 2x3 floating point Mat to an Affine
func AffineFromMat(m gocv.Mat) (tracker.Affine, error) {

	if m.Rows() != 2 || m.Cols() != 3 || m.Channels() != 1 {
		return tracker.Affine{}, fmt.Errorf("%w: got %dx%dx%d", tracker.ErrAffineShape,
			m.Rows(), m.Cols(), m.Channels())
	}

	var a tracker.Affine

	for r := 0; r < 2; r++ {
		for col := 0; col < 3; col++ {
			switch m.Type() {
			case gocv.MatTypeCV64F:
				a[r][col] = m.GetDoubleAt(r, col)
			case gocv.MatTypeCV32F:
				a[r][col] = float64(m.GetFloatAt(r, col))
			default:
				return tracker.Affine{}, fmt.Errorf("%w: unsupported mat type %v", tracker.ErrAffineShape, m.Type())
			}
		}
	}

	if !a.IsFinite() {
		return tracker.Affine{}, fmt.Errorf("%w: non finite values", tracker.ErrAffineShape)
	}

	return a, nil
}

// Reset forgets the previous frame so the next call returns the identity.
// Cached affines are kept.
func (c *Compensator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prevPts = nil
	c.hasPrev = false
}

// Close frees the previous frame
func (c *Compensator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hasPrev = false
	return c.prevGray.Close()
}

// DumpCache writes the cached affines to Config.CachePath
func (c *Compensator) DumpCache() error {

	if c.cfg.CachePath == "" {
		return nil
	}

	c.mu.Lock()
	data, err := json.Marshal(c.cache)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to encode affine cache: %w", err)
	}

	if err := os.WriteFile(c.cfg.CachePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write affine cache: %w", err)
	}

	return nil
}

// load reads a cache written by DumpCache.  A missing file is not an error.
func (c *Compensator) load(path string) error {

	data, err := os.ReadFile(path)

	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read affine cache: %w", err)
	}

	if err := json.Unmarshal(data, &c.cache); err != nil {
		return fmt.Errorf("failed to parse affine cache %s: %w", path, err)
	}

	if c.cache == nil {
		c.cache = make(map[string]tracker.Affine)
	}

	c.debugf("Loaded %d cached affines from %s", len(c.cache), path)

	return nil
}

func (c *Compensator) debugf(format string, args ...any) {
	if c.log != nil {
		c.log.Debugf(format, args...)
	}
}
