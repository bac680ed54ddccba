// Package events persists and distributes detection events.
package events

import (
	"encoding/json"
	"time"

	"github.com/ssdwatch/ssdwatch/internal/detect"
)

// Event is one stored detection.
type Event struct {
	ID          string             `json:"id"`
	Source      string             `json:"source"`
	FrameID     int64              `json:"frame_id"`
	ClassID     int                `json:"class_id"`
	Label       string             `json:"label,omitempty"`
	Confidence  float64            `json:"confidence"`
	BoundingBox detect.BoundingBox `json:"bounding_box"`
	TrackID     string             `json:"track_id,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    json.RawMessage    `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// FromDetection builds an event from a single detection in a frame result.
func FromDetection(source string, frameID int64, d detect.Detection) *Event {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Event{
		Source:      source,
		FrameID:     frameID,
		ClassID:     d.ClassID,
		Label:       d.Label,
		Confidence:  d.Confidence,
		BoundingBox: d.BoundingBox,
		TrackID:     d.TrackID,
		Timestamp:   ts,
	}
}

// ListOptions filters event queries.
type ListOptions struct {
	Source        string    `json:"source,omitempty"`
	Label         string    `json:"label,omitempty"`
	TrackID       string    `json:"track_id,omitempty"`
	MinConfidence float64   `json:"min_confidence,omitempty"`
	StartTime     time.Time `json:"start_time,omitempty"`
	EndTime       time.Time `json:"end_time,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}
