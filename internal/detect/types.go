// Package detect runs SSD object detection through the OpenCV DNN module
// and decodes its fixed-layout output into detection records.
package detect

import "time"

// Framework identifies the serialization format of a loaded network.
type Framework string

const (
	FrameworkCaffe      Framework = "caffe"
	FrameworkTensorFlow Framework = "tensorflow"
	FrameworkONNX       Framework = "onnx"
)

// BoundingBox is an axis-aligned box with normalized (0-1) coordinates.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Width returns the normalized width of the box.
func (b BoundingBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the normalized height of the box.
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Center returns the center point of the box.
func (b BoundingBox) Center() (float64, float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// Area returns the normalized area of the box.
func (b BoundingBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU calculates Intersection over Union with another box.
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := max(b.XMin, other.XMin)
	y1 := max(b.YMin, other.YMin)
	x2 := min(b.XMax, other.XMax)
	y2 := min(b.YMax, other.YMax)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection

	if union == 0 {
		return 0
	}

	return intersection / union
}

// PixelRect scales the normalized box to pixel coordinates, clamped to the
// frame bounds.
func (b BoundingBox) PixelRect(width, height int) (x1, y1, x2, y2 int) {
	x1 = clamp(int(b.XMin*float64(width)), 0, width)
	y1 = clamp(int(b.YMin*float64(height)), 0, height)
	x2 = clamp(int(b.XMax*float64(width)), 0, width)
	y2 = clamp(int(b.YMax*float64(height)), 0, height)
	return
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Detection is a single decoded detection.
type Detection struct {
	ImageID     int         `json:"image_id"`
	ClassID     int         `json:"class_id"`
	Label       string      `json:"label,omitempty"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
	TrackID     string      `json:"track_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp,omitempty"`
}

// Result is the outcome of running the detector over one frame.
type Result struct {
	Source      string      `json:"source"`
	FrameID     int64       `json:"frame_id,omitempty"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Detections  []Detection `json:"detections"`
	InferenceMs float64     `json:"inference_ms"`
	Timestamp   time.Time   `json:"timestamp"`
}
