package embedding

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Model is an appearance re-identification network.  Implementations are
// not required to be safe for concurrent use, the Computer hands each model
// to one goroutine at a time through a Pool.
type Model interface {
	// InputSize returns the width and height crops are resized to before
	// being passed to Embed
	InputSize() image.Point
	// Embed returns one feature vector per crop, in order
	Embed(crops []gocv.Mat) ([][]float32, error)
	// Close frees the model
	Close() error
}

// NetConfig defines the preprocessing applied to crops for a NetModel
type NetConfig struct {
	// Size is the network input width and height
	Size image.Point
	// Scale multiplies pixel values, eg: 1/255
	Scale float64
	// Mean is subtracted from each channel before scaling
	Mean gocv.Scalar
	// SwapRB converts the BGR crops to RGB
	SwapRB bool
	// Output is the name of the embedding layer, empty for the last layer
	Output string
}

// OSNetConfig returns the preprocessing for the common 128x256 person ReID
// networks exported to ONNX
func OSNetConfig() NetConfig {
	return NetConfig{
		Size:   image.Pt(128, 256),
		Scale:  1.0 / 255,
		Mean:   gocv.NewScalar(0, 0, 0, 0),
		SwapRB: true,
	}
}

// NetModel runs a ReID network through the OpenCV DNN module
type NetModel struct {
	net gocv.Net
	cfg NetConfig
}

// NewNetModel loads a network file in any format supported by OpenCV DNN,
// eg: ONNX
func NewNetModel(modelFile string, cfg NetConfig) (*NetModel, error) {

	if cfg.Size.X <= 0 || cfg.Size.Y <= 0 {
		return nil, fmt.Errorf("invalid network input size %v", cfg.Size)
	}

	net := gocv.ReadNet(modelFile, "")

	if net.Empty() {
		return nil, fmt.Errorf("failed to load reid model %s", modelFile)
	}

	return &NetModel{net: net, cfg: cfg}, nil
}

// InputSize implements Model
func (m *NetModel) InputSize() image.Point {
	return m.cfg.Size
}

// Embed implements Model
func (m *NetModel) Embed(crops []gocv.Mat) ([][]float32, error) {

	if len(crops) == 0 {
		return nil, nil
	}

	blob := gocv.NewMat()
	defer blob.Close()

	gocv.BlobFromImages(crops, &blob, m.cfg.Scale, m.cfg.Size, m.cfg.Mean,
		m.cfg.SwapRB, false, gocv.MatTypeCV32F)

	m.net.SetInput(blob, "")

	out := m.net.Forward(m.cfg.Output)
	defer out.Close()

	if out.Empty() {
		return nil, errors.New("reid model produced no output")
	}

	data, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error reading reid output: %w", err)
	}

	return splitFeatures(data, len(crops))
}

// Close implements Model
func (m *NetModel) Close() error {
	return m.net.Close()
}

// splitFeatures copies the flat output of a batch into one vector per item
func splitFeatures(data []float32, n int) ([][]float32, error) {

	if n <= 0 || len(data)%n != 0 || len(data) == 0 {
		return nil, fmt.Errorf("output of %d values does not split into %d features", len(data), n)
	}

	dim := len(data) / n
	feats := make([][]float32, n)

	for i := range feats {
		feats[i] = append([]float32(nil), data[i*dim:(i+1)*dim]...)
	}

	return feats, nil
}
