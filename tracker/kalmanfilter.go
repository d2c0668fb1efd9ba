package tracker

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MotionFilter is a linear Kalman filter over the box of a single track.
// BoxFilter and LegacyFilter are the two parameterisations, chosen when the
// track is created.
type MotionFilter interface {
	// Predict advances the state one frame.  When frozen the size velocity
	// is stopped before predicting.
	Predict(frozen bool)
	// Update corrects the state with a measured box, or records a frame
	// without a measurement when z is nil
	Update(z *Box) error
	// ApplyAffine reprojects the positional state through a camera motion
	// transform
	ApplyAffine(a Affine)
	// Box returns the current state as a corner form box
	Box() Box
	// State returns a copy of the raw state vector
	State() []float64
	// Mahalanobis returns the distance of a candidate box from the predictive
	// distribution.  Call it directly after Predict.
	Mahalanobis(b Box) (float64, error)
}

// snapshot is a saved filter state
type snapshot struct {
	x *mat.VecDense
	p *mat.Dense
}

// kalman holds the filter matrices and the freeze and re-update bookkeeping
// shared by both box parameterisations
type kalman struct {
	dimX, dimZ int
	x          *mat.VecDense
	p          *mat.Dense
	f          *mat.Dense
	h          *mat.Dense
	q          *mat.Dense
	r          *mat.Dense

	// observed is false once an update without a measurement has occurred
	observed bool
	// frozen is the state saved on the first missed update
	frozen *snapshot
	// lastObs is the last measured box
	lastObs Box
	// missed counts updates without a measurement since lastObs
	missed int
}

// identity returns an n x n identity matrix
func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// newKalman creates a constant velocity filter where the first dimX-dimZ
// measured components have a velocity
func newKalman(dimX, dimZ int, z [4]float64, lastObs Box) kalman {

	f := identity(dimX)

	for i := 0; i < dimX-dimZ; i++ {
		f.Set(i, dimZ+i, 1)
	}

	h := mat.NewDense(dimZ, dimX, nil)

	for i := 0; i < dimZ; i++ {
		h.Set(i, i, 1)
	}

	x := mat.NewVecDense(dimX, nil)

	for i := 0; i < dimZ; i++ {
		x.SetVec(i, z[i])
	}

	return kalman{
		dimX:     dimX,
		dimZ:     dimZ,
		x:        x,
		p:        identity(dimX),
		f:        f,
		h:        h,
		q:        identity(dimX),
		r:        identity(dimZ),
		observed: true,
		lastObs:  lastObs,
	}
}

// predict runs the transition x = Fx, P = FPF' + Q
func (k *kalman) predict() {

	x := mat.NewVecDense(k.dimX, nil)
	x.MulVec(k.f, k.x)

	var fp mat.Dense
	fp.Mul(k.f, k.p)

	p := mat.NewDense(k.dimX, k.dimX, nil)
	p.Mul(&fp, k.f.T())
	p.Add(p, k.q)

	k.x = x
	k.p = p
}

// innovationCov returns S = HPH' + R given PH'
func (k *kalman) innovationCov(pht mat.Matrix) *mat.SymDense {

	var hpht mat.Dense
	hpht.Mul(k.h, pht)

	s := mat.NewSymDense(k.dimZ, nil)

	for i := 0; i < k.dimZ; i++ {
		for j := i; j < k.dimZ; j++ {
			s.SetSym(i, j, (hpht.At(i, j)+hpht.At(j, i))/2+k.r.At(i, j))
		}
	}

	return s
}

// correct runs the measurement update with the measurement vector z
func (k *kalman) correct(z []float64) error {

	var pht mat.Dense
	pht.Mul(k.p, k.h.T())

	// perform Cholesky factorization of the innovation covariance
	var chol mat.Cholesky

	if ok := chol.Factorize(k.innovationCov(&pht)); !ok {
		return errors.New("failed to factorize innovation covariance")
	}

	// kalman gain K = PH'S^-1, solved as S K' = (PH')'
	var gainT mat.Dense

	if err := chol.SolveTo(&gainT, pht.T()); err != nil {
		return fmt.Errorf("failed to compute kalman gain: %w", err)
	}

	gain := gainT.T()

	// innovation y = z - Hx
	hx := mat.NewVecDense(k.dimZ, nil)
	hx.MulVec(k.h, k.x)

	y := mat.NewVecDense(k.dimZ, nil)
	y.SubVec(mat.NewVecDense(k.dimZ, z), hx)

	ky := mat.NewVecDense(k.dimX, nil)
	ky.MulVec(gain, y)

	x := mat.NewVecDense(k.dimX, nil)
	x.AddVec(k.x, ky)

	// joseph form P = (I-KH)P(I-KH)' + KRK'
	var kh mat.Dense
	kh.Mul(gain, k.h)

	ikh := identity(k.dimX)
	ikh.Sub(ikh, &kh)

	var a, kr, krk mat.Dense
	a.Mul(ikh, k.p)
	kr.Mul(gain, k.r)
	krk.Mul(&kr, &gainT)

	p := mat.NewDense(k.dimX, k.dimX, nil)
	p.Mul(&a, ikh.T())
	p.Add(p, &krk)

	k.x = x
	k.p = p

	return nil
}

// mahalanobis returns sqrt(y'S^-1y) for the measurement vector z
func (k *kalman) mahalanobis(z []float64) (float64, error) {

	var pht mat.Dense
	pht.Mul(k.p, k.h.T())

	var chol mat.Cholesky

	if ok := chol.Factorize(k.innovationCov(&pht)); !ok {
		return 0, errors.New("failed to factorize innovation covariance")
	}

	hx := mat.NewVecDense(k.dimZ, nil)
	hx.MulVec(k.h, k.x)

	y := mat.NewVecDense(k.dimZ, nil)
	y.SubVec(mat.NewVecDense(k.dimZ, z), hx)

	var sol mat.VecDense

	if err := chol.SolveVecTo(&sol, y); err != nil {
		return 0, fmt.Errorf("failed to solve innovation: %w", err)
	}

	return math.Sqrt(mat.Dot(y, &sol)), nil
}

// miss records an update without a measurement, saving the state on the
// first miss after an observation
func (k *kalman) miss() {

	if k.observed {
		k.frozen = &snapshot{
			x: mat.VecDenseCopyOf(k.x),
			p: mat.DenseCopyOf(k.p),
		}
	}

	k.observed = false
	k.missed++
}

// observe records a successful measurement update
func (k *kalman) observe(z Box) {
	k.observed = true
	k.frozen = nil
	k.missed = 0
	k.lastObs = z
}

// reupdate restores the state saved when the filter froze and replays a
// virtual trajectory linearly interpolated between the last measured box and
// z, one correct and advance per missed frame.  The caller applies the final
// correction with z itself.
func (k *kalman) reupdate(z Box, correct func(Box) error, advance func()) error {

	if k.observed || k.frozen == nil {
		return nil
	}

	gap := k.missed + 1
	from := k.lastObs

	k.x = k.frozen.x
	k.p = k.frozen.p

	for i := 1; i < gap; i++ {

		virtual := interpolateBox(from, z, float64(i)/float64(gap))

		if err := correct(virtual); err != nil {
			return fmt.Errorf("failed virtual update %d of %d: %w", i, gap-1, err)
		}

		advance()
	}

	return nil
}

// interpolateBox returns the box a fraction t of the way from a to b
func interpolateBox(a, b Box, t float64) Box {
	return Box{
		X1: a.X1 + (b.X1-a.X1)*t,
		Y1: a.Y1 + (b.Y1-a.Y1)*t,
		X2: a.X2 + (b.X2-a.X2)*t,
		Y2: a.Y2 + (b.Y2-a.Y2)*t,
	}
}

// blockAffine returns the n x n block diagonal matrix with the 2x2 rotation
// part of a repeated along the diagonal
func blockAffine(a Affine, n int) *mat.Dense {

	m := mat.NewDense(n, n, nil)

	for b := 0; b < n; b += 2 {
		m.Set(b, b, a[0][0])
		m.Set(b, b+1, a[0][1])
		m.Set(b+1, b, a[1][0])
		m.Set(b+1, b+1, a[1][1])
	}

	return m
}

// transformState returns big*x with the translation added to the first two
// components and big*P*big'
func transformState(x *mat.VecDense, p *mat.Dense, big *mat.Dense, a Affine) (*mat.VecDense, *mat.Dense) {

	n, _ := big.Dims()

	nx := mat.NewVecDense(n, nil)
	nx.MulVec(big, x)
	nx.SetVec(0, nx.AtVec(0)+a[0][2])
	nx.SetVec(1, nx.AtVec(1)+a[1][2])

	var bp mat.Dense
	bp.Mul(big, p)

	np := mat.NewDense(n, n, nil)
	np.Mul(&bp, big.T())

	return nx, np
}

// BoxFilter is the 8 state filter over (cx, cy, w, h) and their velocities
// with process and measurement noise proportional to the box size
type BoxFilter struct {
	kalman
	posNoise  float64
	velNoise  float64
	measNoise float64
}

// NewBoxFilter creates a size dependent filter initialised on box b
func NewBoxFilter(b Box, posNoise, velNoise, measNoise float64) *BoxFilter {

	z := b.ToXYWH()

	bf := &BoxFilter{
		kalman:    newKalman(8, 4, z, b),
		posNoise:  posNoise,
		velNoise:  velNoise,
		measNoise: measNoise,
	}

	// initial covariance is the process noise with inflated blocks
	p := bf.processNoise(z[2], z[3])

	for i := 0; i < 8; i++ {
		if i < 4 {
			p.Set(i, i, p.At(i, i)*4)
		} else {
			p.Set(i, i, p.At(i, i)*100)
		}
	}

	bf.p = p
	bf.q = bf.processNoise(z[2], z[3])
	bf.r = bf.measurementNoise(z[2], z[3])

	return bf
}

// processNoise returns the diagonal process noise for a box of size w x h
func (bf *BoxFilter) processNoise(w, h float64) *mat.Dense {

	pw, ph := bf.posNoise*w, bf.posNoise*h
	vw, vh := bf.velNoise*w, bf.velNoise*h

	return mat.DenseCopyOf(mat.NewDiagDense(8, []float64{
		pw * pw, ph * ph, pw * pw, ph * ph,
		vw * vw, vh * vh, vw * vw, vh * vh,
	}))
}

// measurementNoise returns the diagonal measurement noise for a box of size
// w x h
func (bf *BoxFilter) measurementNoise(w, h float64) *mat.Dense {

	wv := (bf.measNoise * w) * (bf.measNoise * w)
	hv := (bf.measNoise * h) * (bf.measNoise * h)

	return mat.DenseCopyOf(mat.NewDiagDense(4, []float64{wv, hv, wv, hv}))
}

// Predict clamps the size velocity so width and height cannot go negative,
// stops it entirely when frozen, and advances the state
func (bf *BoxFilter) Predict(frozen bool) {

	if bf.x.AtVec(2)+bf.x.AtVec(6) <= 0 {
		bf.x.SetVec(6, 0)
	}

	if bf.x.AtVec(3)+bf.x.AtVec(7) <= 0 {
		bf.x.SetVec(7, 0)
	}

	if frozen {
		bf.x.SetVec(6, 0)
		bf.x.SetVec(7, 0)
	}

	bf.advance()
}

// advance predicts with process noise for the current size
func (bf *BoxFilter) advance() {
	bf.q = bf.processNoise(bf.x.AtVec(2), bf.x.AtVec(3))
	bf.predict()
}

// measure corrects with measurement noise for the current size
func (bf *BoxFilter) measure(b Box) error {
	bf.r = bf.measurementNoise(bf.x.AtVec(2), bf.x.AtVec(3))
	z := b.ToXYWH()
	return bf.correct(z[:])
}

// Update corrects the filter with z, or records a miss when z is nil.  The
// first measurement after a run of misses re-updates the filter along an
// interpolated trajectory.
func (bf *BoxFilter) Update(z *Box) error {

	if z == nil {
		bf.miss()
		return nil
	}

	if err := bf.reupdate(*z, bf.measure, bf.advance); err != nil {
		return err
	}

	if err := bf.measure(*z); err != nil {
		return err
	}

	bf.observe(*z)

	return nil
}

// ApplyAffine transforms the state with kron(I4, m) plus translation of the
// center.  The saved frozen state and last measurement are corrected too.
func (bf *BoxFilter) ApplyAffine(a Affine) {

	big := blockAffine(a, 8)

	bf.x, bf.p = transformState(bf.x, bf.p, big, a)

	if bf.frozen != nil {
		bf.frozen.x, bf.frozen.p = transformState(bf.frozen.x, bf.frozen.p, big, a)
	}

	bf.lastObs = transformMeasurement(bf.lastObs, a)
}

// transformMeasurement reprojects a measured box in center-size form, the
// center is fully transformed while the size is only rotated
func transformMeasurement(b Box, a Affine) Box {

	z := b.ToXYWH()

	z[0], z[1] = a.Apply(z[0], z[1])
	z[2], z[3] = a.Rotate(z[2], z[3])

	return BoxFromXYWH(z)
}

// Box returns the current state as a corner form box
func (bf *BoxFilter) Box() Box {
	return BoxFromXYWH([4]float64{
		bf.x.AtVec(0), bf.x.AtVec(1), bf.x.AtVec(2), bf.x.AtVec(3),
	})
}

// State returns a copy of the state vector
func (bf *BoxFilter) State() []float64 {
	return mat.VecDenseCopyOf(bf.x).RawVector().Data
}

// Mahalanobis returns the distance of b from the predictive distribution
func (bf *BoxFilter) Mahalanobis(b Box) (float64, error) {
	bf.r = bf.measurementNoise(bf.x.AtVec(2), bf.x.AtVec(3))
	z := b.ToXYWH()
	return bf.mahalanobis(z[:])
}

// LegacyFilter is the 7 state filter over (cx, cy, area, aspect) with
// velocities for center and area, using fixed noise
type LegacyFilter struct {
	kalman
}

// NewLegacyFilter creates a fixed noise filter initialised on box b
func NewLegacyFilter(b Box) *LegacyFilter {

	lf := &LegacyFilter{
		kalman: newKalman(7, 4, b.ToXYSR(), b),
	}

	// measurement noise on area and aspect
	lf.r.Set(2, 2, 10)
	lf.r.Set(3, 3, 10)

	// high uncertainty for the unobserved initial velocities
	for i := 0; i < 7; i++ {
		if i >= 4 {
			lf.p.Set(i, i, 1000)
		}
		lf.p.Set(i, i, lf.p.At(i, i)*10)
	}

	lf.q.Set(4, 4, 0.01)
	lf.q.Set(5, 5, 0.01)
	lf.q.Set(6, 6, 0.0001)

	return lf
}

// Predict stops the area velocity when the area would go negative and
// advances the state
func (lf *LegacyFilter) Predict(frozen bool) {

	if lf.x.AtVec(2)+lf.x.AtVec(6) <= 0 {
		lf.x.SetVec(6, 0)
	}

	lf.predict()
}

// measure corrects the state with box b
func (lf *LegacyFilter) measure(b Box) error {
	z := b.ToXYSR()
	return lf.correct(z[:])
}

// Update corrects the filter with z, or records a miss when z is nil
func (lf *LegacyFilter) Update(z *Box) error {

	if z == nil {
		lf.miss()
		return nil
	}

	if err := lf.reupdate(*z, lf.measure, lf.predict); err != nil {
		return err
	}

	if err := lf.measure(*z); err != nil {
		return err
	}

	lf.observe(*z)

	return nil
}

// ApplyAffine transforms the center and its velocity, along with their
// covariance blocks
func (lf *LegacyFilter) ApplyAffine(a Affine) {

	lf.x, lf.p = legacyTransform(lf.x, lf.p, a)

	if lf.frozen != nil {
		lf.frozen.x, lf.frozen.p = legacyTransform(lf.frozen.x, lf.frozen.p, a)
	}

	lf.lastObs = lf.lastObs.Transform(a)
}

// legacyTransform applies the affine to the center and center velocity
// components of a legacy state
func legacyTransform(x *mat.VecDense, p *mat.Dense, a Affine) (*mat.VecDense, *mat.Dense) {

	nx := mat.VecDenseCopyOf(x)

	cx, cy := a.Apply(x.AtVec(0), x.AtVec(1))
	nx.SetVec(0, cx)
	nx.SetVec(1, cy)

	vx, vy := a.Rotate(x.AtVec(4), x.AtVec(5))
	nx.SetVec(4, vx)
	nx.SetVec(5, vy)

	m := blockAffine(a, 2)
	np := mat.DenseCopyOf(p)

	for _, off := range []int{0, 4} {

		block := p.Slice(off, off+2, off, off+2)

		var mb, res mat.Dense
		mb.Mul(m, block)
		res.Mul(&mb, m.T())

		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				np.Set(off+i, off+j, res.At(i, j))
			}
		}
	}

	return nx, np
}

// Box returns the current state as a corner form box
func (lf *LegacyFilter) Box() Box {
	return BoxFromXYSR([4]float64{
		lf.x.AtVec(0), lf.x.AtVec(1), lf.x.AtVec(2), lf.x.AtVec(3),
	})
}

// State returns a copy of the state vector
func (lf *LegacyFilter) State() []float64 {
	return mat.VecDenseCopyOf(lf.x).RawVector().Data
}

// Mahalanobis returns the distance of b from the predictive distribution
func (lf *LegacyFilter) Mahalanobis(b Box) (float64, error) {
	z := b.ToXYSR()
	return lf.mahalanobis(z[:])
}
