package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssdwatch/ssdwatch/internal/database"
	"github.com/ssdwatch/ssdwatch/internal/detect"
	"github.com/ssdwatch/ssdwatch/internal/events"
)

func newTestEventService(t *testing.T) *events.Service {
	t.Helper()

	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	return events.NewService(db)
}

func TestEventSinkStoresDetections(t *testing.T) {
	svc := newTestEventService(t)
	sink := NewEventSink(svc)

	res := &detect.Result{
		Width:  640,
		Height: 480,
		Detections: []detect.Detection{
			{ClassID: 15, Label: "person", Confidence: 0.9, Timestamp: time.Now()},
			{ClassID: 7, Label: "car", Confidence: 0.5, Timestamp: time.Now()},
		},
	}

	sink.OnResult("cam1", 3, true, res)

	evts, total, err := svc.List(context.Background(), events.ListOptions{Source: "cam1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("Expected 2 stored events, got %d", total)
	}
	for _, ev := range evts {
		if ev.FrameID != 3 {
			t.Errorf("FrameID = %d, want 3", ev.FrameID)
		}
	}
}

func TestEventSinkSkipsEmptyFrames(t *testing.T) {
	svc := newTestEventService(t)
	sink := NewEventSink(svc)

	sink.OnResult("cam1", 0, true, &detect.Result{Width: 100, Height: 100})

	_, total, err := svc.List(context.Background(), events.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Empty frame stored %d events", total)
	}
}

func TestSinkFunc(t *testing.T) {
	var gotSource string
	var gotFrame int64

	sink := SinkFunc(func(src string, frameID int64, hasFrame bool, res *detect.Result) {
		gotSource = src
		gotFrame = frameID
	})

	sink.OnResult("cam9", 77, true, &detect.Result{})

	if gotSource != "cam9" || gotFrame != 77 {
		t.Errorf("SinkFunc got (%s, %d)", gotSource, gotFrame)
	}
}
