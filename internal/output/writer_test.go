package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ssdwatch/ssdwatch/internal/detect"
)

func sampleResult() *detect.Result {
	return &detect.Result{
		Width:  640,
		Height: 480,
		Detections: []detect.Detection{
			{
				ClassID:     15,
				Label:       "person",
				Confidence:  0.92,
				BoundingBox: detect.BoundingBox{XMin: 0.25, YMin: 0.25, XMax: 0.5, YMax: 0.75},
			},
			{
				ClassID:     7,
				Confidence:  0.4,
				BoundingBox: detect.BoundingBox{XMin: 0, YMin: 0, XMax: 0.1, YMax: 0.1},
			},
		},
	}
}

func TestTextWriterImage(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf)

	if err := w.WriteResult("images/cat.jpg", 0, false, sampleResult()); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	if lines[0] != "images/cat.jpg person 0.92 160 120 320 360" {
		t.Errorf("Unexpected first line: %q", lines[0])
	}
	// Unlabeled detections fall back to the numeric class ID
	if lines[1] != "images/cat.jpg 7 0.4 0 0 64 48" {
		t.Errorf("Unexpected second line: %q", lines[1])
	}
}

func TestTextWriterVideoFrameNaming(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf)

	if err := w.WriteResult("clip.mp4", 42, true, sampleResult()); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}

	if !strings.HasPrefix(buf.String(), "clip.mp4_000042 ") {
		t.Errorf("Expected frame-suffixed name, got %q", buf.String())
	}
}

func TestTextWriterEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf)

	res := &detect.Result{Width: 100, Height: 100}
	if err := w.WriteResult("empty.jpg", 0, false, res); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output for empty result, got %q", buf.String())
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	if err := w.WriteResult("clip.mp4", 3, true, sampleResult()); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}

	var frame struct {
		Source     string             `json:"source"`
		FrameID    *int64             `json:"frame_id"`
		Width      int                `json:"width"`
		Detections []detect.Detection `json:"detections"`
	}
	if err := json.Unmarshal(buf.Bytes(), &frame); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if frame.Source != "clip.mp4" {
		t.Errorf("source = %q", frame.Source)
	}
	if frame.FrameID == nil || *frame.FrameID != 3 {
		t.Errorf("frame_id = %v, want 3", frame.FrameID)
	}
	if len(frame.Detections) != 2 {
		t.Errorf("Expected 2 detections, got %d", len(frame.Detections))
	}
}

func TestJSONWriterImageOmitsFrameID(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	if err := w.WriteResult("cat.jpg", 0, false, sampleResult()); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if _, ok := raw["frame_id"]; ok {
		t.Error("frame_id should be omitted for image results")
	}
}

func TestJSONWriterEmptyDetections(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	res := &detect.Result{Width: 100, Height: 100}
	if err := w.WriteResult("cat.jpg", 0, false, res); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}

	if !strings.Contains(buf.String(), `"detections":[]`) {
		t.Errorf("Expected empty detections array, got %q", buf.String())
	}
}

func TestNewUnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, Format("xml")); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNewDefaultsToText(t *testing.T) {
	w, err := New(&bytes.Buffer{}, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := w.(*TextWriter); !ok {
		t.Errorf("Expected TextWriter for empty format, got %T", w)
	}
}
