// Package runner drives detection over images, video files and RTSP streams
// and fans results out to the output writer and any attached sinks.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ssdwatch/ssdwatch/internal/detect"
	"github.com/ssdwatch/ssdwatch/internal/output"
	"github.com/ssdwatch/ssdwatch/internal/source"
	"github.com/ssdwatch/ssdwatch/internal/track"
)

// Sink receives every frame result after filtering and tracking.
type Sink interface {
	OnResult(src string, frameID int64, hasFrame bool, res *detect.Result)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(src string, frameID int64, hasFrame bool, res *detect.Result)

func (f SinkFunc) OnResult(src string, frameID int64, hasFrame bool, res *detect.Result) {
	f(src, frameID, hasFrame, res)
}

// Options configures a Runner.
type Options struct {
	// Classes restricts reported detections to these labels. Empty keeps all.
	Classes []string
	// Tracker assigns track IDs on stream sources when set.
	Tracker *track.Tracker
	// RTSP controls stream capture and reconnection.
	RTSP source.RTSPOptions
}

// Runner runs the detector over entries and writes results.
type Runner struct {
	detector *detect.Detector
	writer   output.Writer
	opts     Options
	sinks    []Sink
	logger   *slog.Logger

	mu      sync.RWMutex
	classes map[string]bool
}

// New creates a runner. The writer may be nil when results only go to sinks.
func New(detector *detect.Detector, writer output.Writer, opts Options) *Runner {
	return &Runner{
		detector: detector,
		writer:   writer,
		opts:     opts,
		classes:  buildClassSet(opts.Classes),
		logger:   slog.Default().With("component", "runner"),
	}
}

func buildClassSet(classes []string) map[string]bool {
	if len(classes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return set
}

// SetClasses replaces the class filter. Safe to call while Run is active.
func (r *Runner) SetClasses(classes []string) {
	set := buildClassSet(classes)
	r.mu.Lock()
	r.classes = set
	r.mu.Unlock()
}

// AddSink attaches a result sink. Not safe to call once Run has started.
func (r *Runner) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Run processes every entry in order. Stream entries run until the context
// is cancelled.
func (r *Runner) Run(ctx context.Context, entries []source.Entry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch entry.Kind {
		case source.KindImage:
			err = r.runImage(entry.Path)
		case source.KindVideo:
			err = r.runVideo(ctx, entry.Path)
		case source.KindRTSP:
			err = r.RunStream(ctx, entry.Path, entry.Path)
		default:
			err = fmt.Errorf("unknown source kind: %s", entry.Kind)
		}
		if err != nil {
			return fmt.Errorf("source %s: %w", entry.Path, err)
		}
	}
	return nil
}

func (r *Runner) runImage(path string) error {
	img, err := source.ReadImage(path)
	if err != nil {
		return err
	}
	defer img.Close()

	return r.process(path, 0, false, false, img)
}

func (r *Runner) runVideo(ctx context.Context, path string) error {
	start := time.Now()
	frames, err := source.StreamVideo(ctx, path, func(frameID int64, img gocv.Mat) error {
		return r.process(path, frameID, true, false, img)
	})
	if err != nil {
		return err
	}

	r.logger.Info("Video processed", "path", path, "frames", frames, "duration", time.Since(start))
	return nil
}

// RunStream captures an RTSP stream under the given source ID until the
// context is cancelled. Tracking applies on streams.
func (r *Runner) RunStream(ctx context.Context, id, url string) error {
	err := source.StreamRTSP(ctx, url, r.opts.RTSP, func(frameID int64, img gocv.Mat) error {
		return r.process(id, frameID, true, true, img)
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

func (r *Runner) process(src string, frameID int64, hasFrame, stream bool, img gocv.Mat) error {
	res, err := r.detector.Detect(img)
	if err != nil {
		return err
	}
	res.Source = src
	res.FrameID = frameID

	res.Detections = r.filterClasses(res.Detections)

	if stream && r.opts.Tracker != nil {
		res.Detections = r.opts.Tracker.Update(res.Detections, res.Timestamp)
	}

	if r.writer != nil {
		if err := r.writer.WriteResult(src, frameID, hasFrame, res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}

	for _, s := range r.sinks {
		s.OnResult(src, frameID, hasFrame, res)
	}

	return nil
}

// filterClasses keeps detections named in the class filter. Entries match on
// the label when a table is loaded and on the numeric class ID either way, so
// a filter works without label names configured.
func (r *Runner) filterClasses(detections []detect.Detection) []detect.Detection {
	r.mu.RLock()
	classes := r.classes
	r.mu.RUnlock()

	if classes == nil {
		return detections
	}

	kept := detections[:0]
	for _, d := range detections {
		if classes[d.Label] || classes[strconv.Itoa(d.ClassID)] {
			kept = append(kept, d)
		}
	}
	return kept
}
