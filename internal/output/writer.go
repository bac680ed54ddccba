// Package output writes detection results to a file or stdout, in the
// classic space-separated detector format or as JSON lines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ssdwatch/ssdwatch/internal/detect"
)

// Format selects a result encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Writer emits detection results for frames.
type Writer interface {
	// WriteResult writes all detections of one frame. hasFrame selects the
	// video naming convention (source_%06d) over the plain source name.
	WriteResult(source string, frameID int64, hasFrame bool, res *detect.Result) error
}

// Open returns the output destination: the named file, or stdout when the
// path is empty.
func Open(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// New builds a writer for the format.
func New(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatText, "":
		return &TextWriter{w: w}, nil
	case FormatJSON:
		return &JSONWriter{enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// TextWriter prints one line per detection:
//
//	source class score xmin ymin xmax ymax
//
// with pixel coordinates, and source_%06d identifiers for video frames.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter creates a plain-text writer.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

func (t *TextWriter) WriteResult(source string, frameID int64, hasFrame bool, res *detect.Result) error {
	name := source
	if hasFrame {
		name = fmt.Sprintf("%s_%06d", source, frameID)
	}

	for _, d := range res.Detections {
		x1, y1, x2, y2 := d.BoundingBox.PixelRect(res.Width, res.Height)
		label := d.Label
		if label == "" {
			label = fmt.Sprintf("%d", d.ClassID)
		}
		if _, err := fmt.Fprintf(t.w, "%s %s %g %d %d %d %d\n",
			name, label, d.Confidence, x1, y1, x2, y2); err != nil {
			return err
		}
	}
	return nil
}

// JSONWriter emits one JSON object per frame with its detections.
type JSONWriter struct {
	enc *json.Encoder
}

// NewJSONWriter creates a JSON-lines writer.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

type jsonFrame struct {
	Source     string             `json:"source"`
	FrameID    *int64             `json:"frame_id,omitempty"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Detections []detect.Detection `json:"detections"`
}

func (j *JSONWriter) WriteResult(source string, frameID int64, hasFrame bool, res *detect.Result) error {
	frame := jsonFrame{
		Source:     source,
		Width:      res.Width,
		Height:     res.Height,
		Detections: res.Detections,
	}
	if hasFrame {
		frame.FrameID = &frameID
	}
	if frame.Detections == nil {
		frame.Detections = []detect.Detection{}
	}
	return j.enc.Encode(frame)
}
