package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/ssdwatch/ssdwatch/internal/api"
	"github.com/ssdwatch/ssdwatch/internal/bus"
	"github.com/ssdwatch/ssdwatch/internal/detect"
	"github.com/ssdwatch/ssdwatch/internal/events"
)

// NewEventSink persists every detection of a frame to the event store.
func NewEventSink(svc *events.Service) Sink {
	logger := slog.Default().With("component", "event_sink")

	return SinkFunc(func(src string, frameID int64, hasFrame bool, res *detect.Result) {
		if len(res.Detections) == 0 {
			return
		}

		evts := make([]*events.Event, 0, len(res.Detections))
		for _, d := range res.Detections {
			evts = append(evts, events.FromDetection(src, frameID, d))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := svc.CreateBatch(ctx, evts); err != nil {
			logger.Error("Failed to store events", "source", src, "error", err)
		}
	})
}

// NewBusSink publishes frame results on the NATS bus, one message per frame
// on the source's detection subject.
func NewBusSink(eb *bus.EventBus) Sink {
	logger := slog.Default().With("component", "bus_sink")

	return SinkFunc(func(src string, frameID int64, hasFrame bool, res *detect.Result) {
		if len(res.Detections) == 0 {
			return
		}
		if err := eb.Publish(bus.DetectionSubject(src), res); err != nil {
			logger.Error("Failed to publish detections", "source", src, "error", err)
		}
	})
}

// NewHubSink broadcasts frame results to WebSocket clients subscribed to the
// source. Empty frames are sent too so overlays clear.
func NewHubSink(hub *api.Hub) Sink {
	return SinkFunc(func(src string, frameID int64, hasFrame bool, res *detect.Result) {
		hub.BroadcastToSource(src, api.DetectionMessage(src, frameID, res))
	})
}
