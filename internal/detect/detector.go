package detect

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Options configures a Detector.
type Options struct {
	// Model is the network graph definition (Caffe .prototxt or TensorFlow
	// .pbtxt). Empty for ONNX models.
	Model string
	// Weights is the trained parameter file (.caffemodel, .pb or .onnx).
	Weights string
	// Framework selects the loader. Auto-detected from the weights file
	// extension when empty.
	Framework Framework

	// InputWidth and InputHeight are the network input geometry.
	// Default 300x300, the standard SSD input size.
	InputWidth  int
	InputHeight int

	// MeanValue is a comma-separated per-channel mean, subtracted from the
	// input. MeanFile reads the same from a text file; the two are mutually
	// exclusive.
	MeanValue string
	MeanFile  string

	// Scale multiplies pixel values after mean subtraction. Default 1.0.
	Scale float64
	// SwapRB swaps the blue and red channels (BGR-trained vs RGB models).
	SwapRB bool

	// Threshold drops detections below this confidence. NMSThreshold
	// enables per-class non-max suppression when > 0.
	Threshold    float64
	NMSThreshold float64

	// Labels maps class IDs to names. Optional.
	Labels *LabelTable
}

// Detector wraps an SSD network loaded through the OpenCV DNN module.
// Detect is safe for concurrent use.
type Detector struct {
	mu   sync.Mutex
	net  gocv.Net
	opts Options
	mean gocv.Scalar
	size image.Point
}

// DetectFramework guesses the framework from the weights file extension.
func DetectFramework(weights string) (Framework, error) {
	switch strings.ToLower(filepath.Ext(weights)) {
	case ".caffemodel":
		return FrameworkCaffe, nil
	case ".pb":
		return FrameworkTensorFlow, nil
	case ".onnx":
		return FrameworkONNX, nil
	default:
		return "", fmt.Errorf("cannot detect framework from weights file %q", weights)
	}
}

// NewDetector loads the network and prepares the preprocessing parameters.
func NewDetector(opts Options) (*Detector, error) {
	if opts.Weights == "" {
		return nil, fmt.Errorf("weights file is required")
	}
	if _, err := os.Stat(opts.Weights); err != nil {
		return nil, fmt.Errorf("weights file: %w", err)
	}
	if opts.Framework == "" {
		fw, err := DetectFramework(opts.Weights)
		if err != nil {
			return nil, err
		}
		opts.Framework = fw
	}
	if opts.InputWidth <= 0 {
		opts.InputWidth = 300
	}
	if opts.InputHeight <= 0 {
		opts.InputHeight = 300
	}
	if opts.Scale == 0 {
		opts.Scale = 1.0
	}
	if opts.MeanValue != "" && opts.MeanFile != "" {
		return nil, fmt.Errorf("cannot specify mean file and mean value at the same time")
	}

	var mean []float64
	var err error
	switch {
	case opts.MeanFile != "":
		mean, err = LoadMeanFile(opts.MeanFile, 3)
	case opts.MeanValue != "":
		mean, err = ParseMean(opts.MeanValue, 3)
	default:
		mean = []float64{0, 0, 0}
	}
	if err != nil {
		return nil, err
	}

	var net gocv.Net
	switch opts.Framework {
	case FrameworkCaffe:
		if opts.Model == "" {
			return nil, fmt.Errorf("caffe models require a prototxt model file")
		}
		net = gocv.ReadNetFromCaffe(opts.Model, opts.Weights)
	case FrameworkTensorFlow:
		net = gocv.ReadNet(opts.Weights, opts.Model)
	case FrameworkONNX:
		net = gocv.ReadNetFromONNX(opts.Weights)
	default:
		return nil, fmt.Errorf("unsupported framework: %s", opts.Framework)
	}
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", opts.Weights)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN target: %w", err)
	}

	return &Detector{
		net:  net,
		opts: opts,
		mean: gocv.NewScalar(mean[0], mean[1], mean[2], 0),
		size: image.Pt(opts.InputWidth, opts.InputHeight),
	}, nil
}

// Options returns the detector configuration.
func (d *Detector) Options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// SetThreshold updates the confidence threshold for subsequent frames.
func (d *Detector) SetThreshold(threshold float64) {
	d.mu.Lock()
	d.opts.Threshold = threshold
	d.mu.Unlock()
}

// Detect preprocesses the frame, runs the forward pass and decodes the
// output blob.
func (d *Detector) Detect(img gocv.Mat) (*Result, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty input frame")
	}

	start := time.Now()

	blob := gocv.BlobFromImage(img, d.opts.Scale, d.size, d.mean, d.opts.SwapRB, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	threshold := d.opts.Threshold
	nmsThreshold := d.opts.NMSThreshold
	labels := d.opts.Labels
	d.mu.Unlock()
	defer prob.Close()

	total := prob.Total()
	raw := make([]float32, total)
	for i := 0; i < total; i++ {
		raw[i] = prob.GetFloatAt(0, i)
	}

	detections, err := Decode(raw, threshold)
	if err != nil {
		return nil, err
	}
	if nmsThreshold > 0 {
		detections = NMS(detections, nmsThreshold)
	}
	if labels != nil {
		labels.Apply(detections)
	}

	now := time.Now()
	for i := range detections {
		detections[i].Timestamp = now
	}

	size := img.Size()
	return &Result{
		Width:       size[1],
		Height:      size[0],
		Detections:  detections,
		InferenceMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:   now,
	}, nil
}

// DetectBytes decodes an encoded image (JPEG, PNG) and runs detection on it.
func (d *Detector) DetectBytes(data []byte) (*Result, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("failed to decode image")
	}
	return d.Detect(img)
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
