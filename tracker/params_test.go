package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParamsValid(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
}

func TestParamsValidate(t *testing.T) {

	p := DefaultParams()
	p.DetThresh = 1.5
	p.DeltaT = 0
	p.Solver = "simplex"

	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "det_thresh")
	assert.Contains(t, err.Error(), "delta_t")
	assert.Contains(t, err.Error(), "simplex")

	// embedding dimension is only checked when embeddings are used
	p = DefaultParams()
	p.EmbeddingDim = 0
	assert.Error(t, p.Validate())
	p.EmbeddingOff = true
	assert.NoError(t, p.Validate())
}

func writeParams(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadParams(t *testing.T) {

	path := writeParams(t, "tracker.json", `{
		"det_thresh": 0.4,
		"max_age": 12,
		"asso_func": "giou",
		"embedding_off": true,
		"solver": "hungarian"
	}`)

	p, err := LoadParams(path)
	require.NoError(t, err)

	want := DefaultParams()
	want.DetThresh = 0.4
	want.MaxAge = 12
	want.AssoMetric = MetricGIoU
	want.EmbeddingOff = true
	want.Solver = SolverHungarian

	assert.Equal(t, want, p)
}

func TestLoadParamsErrors(t *testing.T) {

	_, err := LoadParams(writeParams(t, "tracker.yaml", `{}`))
	assert.ErrorContains(t, err, ".json")

	_, err = LoadParams(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadParams(writeParams(t, "bad.json", `{"max_age": "ten"}`))
	assert.ErrorContains(t, err, "parse")

	_, err = LoadParams(writeParams(t, "metric.json", `{"asso_func": "l2"}`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = LoadParams(writeParams(t, "range.json", `{"iou_threshold": 2}`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}
