package tracker

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Solver selects the assignment solver used for matching
type Solver string

const (
	SolverLAPJV     Solver = "lapjv"
	SolverHungarian Solver = "hungarian"
)

// Params are the tracker configuration parameters
type Params struct {
	// DetThresh discards detections with a score at or below it
	DetThresh float64 `json:"det_thresh"`
	// MaxAge is the number of frames a track survives without a match
	MaxAge int `json:"max_age"`
	// MinHits is the hit streak needed before a track is output
	MinHits int `json:"min_hits"`
	// IoUThreshold is the IoU floor below which a pairing is forbidden
	IoUThreshold float64 `json:"iou_threshold"`
	// DeltaT is how many frames back the velocity direction is estimated from
	DeltaT int `json:"delta_t"`
	// AssoMetric is the IoU family metric used for recovery association
	AssoMetric CostMetric `json:"asso_func"`
	// Inertia scales the velocity consistency term
	Inertia float64 `json:"inertia"`
	// WAssociationEmb weights embedding similarity when adaptive weighting
	// is off
	WAssociationEmb float64 `json:"w_association_emb"`
	// AlphaFixedEmb is the embedding blend factor for fully trusted
	// detections
	AlphaFixedEmb float64 `json:"alpha_fixed_emb"`
	// AWParam is the bottom ratio of the adaptive embedding weighting
	AWParam float64 `json:"aw_param"`
	// EmbeddingOff disables appearance embeddings entirely
	EmbeddingOff bool `json:"embedding_off"`
	// CMCOff disables camera motion compensation
	CMCOff bool `json:"cmc_off"`
	// AWOff disables adaptive and age weighting of the embedding cost
	AWOff bool `json:"aw_off"`
	// NewKFOff selects the legacy 7 state motion filter
	NewKFOff bool `json:"new_kf_off"`
	// OcclusionThreshold is the IoU above which a track is a candidate
	// occluder of a detection
	OcclusionThreshold float64 `json:"occ_thresh"`
	// AspectRatioThreshold is the minimum aspect alpha for embedding reuse
	AspectRatioThreshold float64 `json:"asp_thresh"`
	// AngleThreshold is in degrees
	AngleThreshold float64 `json:"ang_thresh"`
	// EmbeddingDim is the expected length of embedding vectors
	EmbeddingDim int `json:"embedding_dim"`
	// Solver is the assignment solver
	Solver Solver `json:"solver"`
	// PosNoise, VelNoise and MeasNoise are the fractional noise
	// coefficients of the size dependent motion filter
	PosNoise  float64 `json:"pos_noise"`
	VelNoise  float64 `json:"vel_noise"`
	MeasNoise float64 `json:"meas_noise"`
}

// DefaultParams returns the default tracker parameters
func DefaultParams() Params {
	return Params{
		DetThresh:            0.6,
		MaxAge:               30,
		MinHits:              3,
		IoUThreshold:         0.3,
		DeltaT:               3,
		AssoMetric:           MetricIoU,
		Inertia:              0.2,
		WAssociationEmb:      0.75,
		AlphaFixedEmb:        0.95,
		AWParam:              0.5,
		OcclusionThreshold:   0.2,
		AspectRatioThreshold: 0.65,
		AngleThreshold:       45,
		EmbeddingDim:         512,
		Solver:               SolverLAPJV,
		PosNoise:             1.0 / 20,
		VelNoise:             1.0 / 160,
		MeasNoise:            1.0 / 20,
	}
}

// Validate checks the parameters are usable
func (p Params) Validate() error {

	var problems []string

	if p.DetThresh < 0 || p.DetThresh >= 1 {
		problems = append(problems, fmt.Sprintf("det_thresh %v must be in [0,1)", p.DetThresh))
	}
	if p.MaxAge < 0 {
		problems = append(problems, fmt.Sprintf("max_age %d must be >= 0", p.MaxAge))
	}
	if p.MinHits < 0 {
		problems = append(problems, fmt.Sprintf("min_hits %d must be >= 0", p.MinHits))
	}
	if p.IoUThreshold < 0 || p.IoUThreshold > 1 {
		problems = append(problems, fmt.Sprintf("iou_threshold %v must be in [0,1]", p.IoUThreshold))
	}
	if p.DeltaT < 1 {
		problems = append(problems, fmt.Sprintf("delta_t %d must be >= 1", p.DeltaT))
	}
	if _, ok := metricNames[p.AssoMetric]; !ok {
		problems = append(problems, fmt.Sprintf("unknown asso_func %v", p.AssoMetric))
	}
	if p.AlphaFixedEmb < 0 || p.AlphaFixedEmb > 1 {
		problems = append(problems, fmt.Sprintf("alpha_fixed_emb %v must be in [0,1]", p.AlphaFixedEmb))
	}
	if p.AWParam < 0 || p.AWParam >= 1 {
		problems = append(problems, fmt.Sprintf("aw_param %v must be in [0,1)", p.AWParam))
	}
	if p.OcclusionThreshold < 0 || p.OcclusionThreshold >= 1 {
		problems = append(problems, fmt.Sprintf("occ_thresh %v must be in [0,1)", p.OcclusionThreshold))
	}
	if p.AngleThreshold < 0 || p.AngleThreshold > 180 {
		problems = append(problems, fmt.Sprintf("ang_thresh %v must be in [0,180] degrees", p.AngleThreshold))
	}
	if !p.EmbeddingOff && p.EmbeddingDim <= 0 {
		problems = append(problems, fmt.Sprintf("embedding_dim %d must be > 0", p.EmbeddingDim))
	}
	if p.Solver != SolverLAPJV && p.Solver != SolverHungarian {
		problems = append(problems, fmt.Sprintf("unknown solver %q", p.Solver))
	}
	if !p.NewKFOff && (p.PosNoise <= 0 || p.VelNoise <= 0 || p.MeasNoise <= 0) {
		problems = append(problems, "pos_noise, vel_noise and meas_noise must be > 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(problems, "; "))
	}

	return nil
}

// angleThresholdRad returns the angle threshold in radians
func (p Params) angleThresholdRad() float64 {
	return p.AngleThreshold * math.Pi / 180
}

// maxParamsFileSize caps the size of a parameters file
const maxParamsFileSize = 1 * 1024 * 1024

// paramsFile mirrors Params with pointer fields so a file only needs to set
// the values it overrides
type paramsFile struct {
	DetThresh            *float64    `json:"det_thresh,omitempty"`
	MaxAge               *int        `json:"max_age,omitempty"`
	MinHits              *int        `json:"min_hits,omitempty"`
	IoUThreshold         *float64    `json:"iou_threshold,omitempty"`
	DeltaT               *int        `json:"delta_t,omitempty"`
	AssoMetric           *CostMetric `json:"asso_func,omitempty"`
	Inertia              *float64    `json:"inertia,omitempty"`
	WAssociationEmb      *float64    `json:"w_association_emb,omitempty"`
	AlphaFixedEmb        *float64    `json:"alpha_fixed_emb,omitempty"`
	AWParam              *float64    `json:"aw_param,omitempty"`
	EmbeddingOff         *bool       `json:"embedding_off,omitempty"`
	CMCOff               *bool       `json:"cmc_off,omitempty"`
	AWOff                *bool       `json:"aw_off,omitempty"`
	NewKFOff             *bool       `json:"new_kf_off,omitempty"`
	OcclusionThreshold   *float64    `json:"occ_thresh,omitempty"`
	AspectRatioThreshold *float64    `json:"asp_thresh,omitempty"`
	AngleThreshold       *float64    `json:"ang_thresh,omitempty"`
	EmbeddingDim         *int        `json:"embedding_dim,omitempty"`
	Solver               *Solver     `json:"solver,omitempty"`
	PosNoise             *float64    `json:"pos_noise,omitempty"`
	VelNoise             *float64    `json:"vel_noise,omitempty"`
	MeasNoise            *float64    `json:"meas_noise,omitempty"`
}

// LoadParams reads a JSON parameters file and overlays the values it sets
// onto DefaultParams.  The result is validated.
func LoadParams(path string) (Params, error) {

	p := DefaultParams()

	cleanPath := filepath.Clean(path)

	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return p, fmt.Errorf("params file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return p, fmt.Errorf("failed to stat params file: %w", err)
	}

	if info.Size() > maxParamsFileSize {
		return p, fmt.Errorf("params file too large: %d bytes (max %d)", info.Size(), maxParamsFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return p, fmt.Errorf("failed to read params file: %w", err)
	}

	var f paramsFile

	if err := json.Unmarshal(data, &f); err != nil {
		return p, fmt.Errorf("failed to parse params file: %w", err)
	}

	f.apply(&p)

	if err := p.Validate(); err != nil {
		return p, err
	}

	return p, nil
}

// apply copies every set field onto p
func (f *paramsFile) apply(p *Params) {
	setFloat(&p.DetThresh, f.DetThresh)
	setInt(&p.MaxAge, f.MaxAge)
	setInt(&p.MinHits, f.MinHits)
	setFloat(&p.IoUThreshold, f.IoUThreshold)
	setInt(&p.DeltaT, f.DeltaT)
	if f.AssoMetric != nil {
		p.AssoMetric = *f.AssoMetric
	}
	setFloat(&p.Inertia, f.Inertia)
	setFloat(&p.WAssociationEmb, f.WAssociationEmb)
	setFloat(&p.AlphaFixedEmb, f.AlphaFixedEmb)
	setFloat(&p.AWParam, f.AWParam)
	setBool(&p.EmbeddingOff, f.EmbeddingOff)
	setBool(&p.CMCOff, f.CMCOff)
	setBool(&p.AWOff, f.AWOff)
	setBool(&p.NewKFOff, f.NewKFOff)
	setFloat(&p.OcclusionThreshold, f.OcclusionThreshold)
	setFloat(&p.AspectRatioThreshold, f.AspectRatioThreshold)
	setFloat(&p.AngleThreshold, f.AngleThreshold)
	setInt(&p.EmbeddingDim, f.EmbeddingDim)
	if f.Solver != nil {
		p.Solver = *f.Solver
	}
	setFloat(&p.PosNoise, f.PosNoise)
	setFloat(&p.VelNoise, f.VelNoise)
	setFloat(&p.MeasNoise, f.MeasNoise)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
