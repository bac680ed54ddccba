package detect

import (
	"fmt"
	"sort"
)

// RecordSize is the length of one detection record in the SSD output blob:
// [image_id, label, score, xmin, ymin, xmax, ymax].
const RecordSize = 7

// sentinelImageID marks an invalid/padding record to be skipped.
const sentinelImageID = -1

// Decode parses a flat SSD output blob into detections, dropping padding
// records and everything below the confidence threshold. The input length
// must be a multiple of RecordSize.
func Decode(raw []float32, threshold float64) ([]Detection, error) {
	if len(raw)%RecordSize != 0 {
		return nil, fmt.Errorf("output blob length %d is not a multiple of %d", len(raw), RecordSize)
	}

	var detections []Detection
	for i := 0; i < len(raw); i += RecordSize {
		rec := raw[i : i+RecordSize]
		if int(rec[0]) == sentinelImageID {
			continue
		}

		score := float64(rec[2])
		if score < threshold {
			continue
		}

		detections = append(detections, Detection{
			ImageID:    int(rec[0]),
			ClassID:    int(rec[1]),
			Confidence: score,
			BoundingBox: BoundingBox{
				XMin: float64(rec[3]),
				YMin: float64(rec[4]),
				XMax: float64(rec[5]),
				YMax: float64(rec[6]),
			},
		})
	}

	return detections, nil
}

// NMS applies greedy non-max suppression per class, keeping the highest
// scoring box of each overlapping cluster. Detections are returned ordered
// by descending confidence.
func NMS(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])

		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if sorted[i].BoundingBox.IoU(sorted[j].BoundingBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}
