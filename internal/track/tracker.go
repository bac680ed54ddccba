// Package track assigns stable track IDs to detections across frames using
// greedy IoU matching.
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssdwatch/ssdwatch/internal/detect"
)

// Track is an object followed across frames.
type Track struct {
	ID          string             `json:"id"`
	ClassID     int                `json:"class_id"`
	Label       string             `json:"label,omitempty"`
	FirstSeen   time.Time          `json:"first_seen"`
	LastSeen    time.Time          `json:"last_seen"`
	BoundingBox detect.BoundingBox `json:"bounding_box"`
	Hits        int                `json:"hits"`
	Missed      int                `json:"missed"`
}

// Tracker matches detections to existing tracks by IoU. A track that goes
// unmatched for more than maxMissed consecutive updates is dropped.
type Tracker struct {
	mu           sync.Mutex
	tracks       map[string]*Track
	iouThreshold float64
	maxMissed    int
}

// NewTracker creates a tracker. iouThreshold defaults to 0.3 and maxMissed
// to 5 when zero.
func NewTracker(iouThreshold float64, maxMissed int) *Tracker {
	if iouThreshold <= 0 {
		iouThreshold = 0.3
	}
	if maxMissed <= 0 {
		maxMissed = 5
	}
	return &Tracker{
		tracks:       make(map[string]*Track),
		iouThreshold: iouThreshold,
		maxMissed:    maxMissed,
	}
}

// Update matches the frame's detections against active tracks, creates new
// tracks for unmatched detections and expires stale tracks. The returned
// detections carry their assigned track IDs.
func (t *Tracker) Update(detections []detect.Detection, timestamp time.Time) []detect.Detection {
	t.mu.Lock()
	defer t.mu.Unlock()

	matched := make(map[string]bool, len(t.tracks))

	// Highest confidence detections claim tracks first.
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	for _, i := range order {
		det := &detections[i]

		var best *Track
		bestIoU := t.iouThreshold
		for _, tr := range t.tracks {
			if matched[tr.ID] || tr.ClassID != det.ClassID {
				continue
			}
			if iou := tr.BoundingBox.IoU(det.BoundingBox); iou >= bestIoU {
				best = tr
				bestIoU = iou
			}
		}

		if best == nil {
			best = &Track{
				ID:        uuid.New().String(),
				ClassID:   det.ClassID,
				Label:     det.Label,
				FirstSeen: timestamp,
			}
			t.tracks[best.ID] = best
		}

		best.BoundingBox = det.BoundingBox
		best.LastSeen = timestamp
		best.Hits++
		best.Missed = 0
		matched[best.ID] = true

		det.TrackID = best.ID
	}

	// Age out tracks nothing claimed this frame.
	for id, tr := range t.tracks {
		if matched[id] {
			continue
		}
		tr.Missed++
		if tr.Missed > t.maxMissed {
			delete(t.tracks, id)
		}
	}

	return detections
}

// Tracks returns a snapshot of the active tracks.
func (t *Tracker) Tracks() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// Get returns a track by ID.
func (t *Tracker) Get(id string) (*Track, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.tracks[id]
	if !ok {
		return nil, false
	}
	cp := *tr
	return &cp, true
}

// Reset drops all tracks.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[string]*Track)
}
