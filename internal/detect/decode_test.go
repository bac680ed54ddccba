package detect

import (
	"testing"
)

// record builds one raw 7-float detection record.
func record(imageID, label, score, x1, y1, x2, y2 float32) []float32 {
	return []float32{imageID, label, score, x1, y1, x2, y2}
}

func TestDecode(t *testing.T) {
	raw := append(
		record(0, 15, 0.92, 0.1, 0.2, 0.5, 0.8),
		record(0, 7, 0.40, 0.3, 0.3, 0.6, 0.7)...,
	)

	detections, err := Decode(raw, 0.01)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(detections))
	}

	d := detections[0]
	if d.ClassID != 15 {
		t.Errorf("Expected class 15, got %d", d.ClassID)
	}
	if d.Confidence < 0.919 || d.Confidence > 0.921 {
		t.Errorf("Expected confidence 0.92, got %g", d.Confidence)
	}
	if d.BoundingBox.XMin != float64(float32(0.1)) || d.BoundingBox.YMax != float64(float32(0.8)) {
		t.Errorf("Unexpected bounding box: %+v", d.BoundingBox)
	}
}

func TestDecodeThreshold(t *testing.T) {
	raw := append(
		record(0, 15, 0.92, 0.1, 0.2, 0.5, 0.8),
		record(0, 7, 0.05, 0.3, 0.3, 0.6, 0.7)...,
	)

	detections, err := Decode(raw, 0.5)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection above threshold, got %d", len(detections))
	}
	if detections[0].ClassID != 15 {
		t.Errorf("Wrong detection kept: %+v", detections[0])
	}
}

func TestDecodeSkipsSentinel(t *testing.T) {
	raw := append(
		record(-1, 0, 0, 0, 0, 0, 0),
		record(0, 3, 0.7, 0.1, 0.1, 0.2, 0.2)...,
	)

	detections, err := Decode(raw, 0.01)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(detections) != 1 {
		t.Fatalf("Sentinel record should be skipped, got %d detections", len(detections))
	}
	if detections[0].ImageID != 0 {
		t.Errorf("Expected image ID 0, got %d", detections[0].ImageID)
	}
}

func TestDecodeEmpty(t *testing.T) {
	detections, err := Decode(nil, 0.01)
	if err != nil {
		t.Fatalf("Decode failed on empty input: %v", err)
	}
	if len(detections) != 0 {
		t.Errorf("Expected no detections, got %d", len(detections))
	}
}

func TestDecodeBadLength(t *testing.T) {
	_, err := Decode([]float32{0, 1, 0.5}, 0.01)
	if err == nil {
		t.Error("Expected error for truncated record")
	}
}

func TestNMS(t *testing.T) {
	detections := []Detection{
		{ClassID: 1, Confidence: 0.9, BoundingBox: BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5}},
		// Heavy overlap with the first, lower confidence: suppressed
		{ClassID: 1, Confidence: 0.6, BoundingBox: BoundingBox{XMin: 0.12, YMin: 0.12, XMax: 0.52, YMax: 0.52}},
		// Different class, same box: kept
		{ClassID: 2, Confidence: 0.5, BoundingBox: BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5}},
		// Same class, no overlap: kept
		{ClassID: 1, Confidence: 0.4, BoundingBox: BoundingBox{XMin: 0.7, YMin: 0.7, XMax: 0.9, YMax: 0.9}},
	}

	kept := NMS(detections, 0.45)

	if len(kept) != 3 {
		t.Fatalf("Expected 3 detections after NMS, got %d", len(kept))
	}

	for _, d := range kept {
		if d.ClassID == 1 && d.Confidence > 0.5 && d.Confidence < 0.7 {
			t.Errorf("Overlapping detection should have been suppressed: %+v", d)
		}
	}
}

func TestNMSKeepsHighestConfidence(t *testing.T) {
	detections := []Detection{
		{ClassID: 1, Confidence: 0.3, BoundingBox: BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5}},
		{ClassID: 1, Confidence: 0.9, BoundingBox: BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5}},
	}

	kept := NMS(detections, 0.45)
	if len(kept) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(kept))
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("Expected the highest confidence detection to survive, got %g", kept[0].Confidence)
	}
}
