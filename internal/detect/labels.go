package detect

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// VOCLabels are the 20 PASCAL VOC classes plus background at index 0, the
// class table the original Caffe SSD models were trained on.
var VOCLabels = []string{
	"background",
	"aeroplane", "bicycle", "bird", "boat", "bottle",
	"bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person",
	"pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

// COCOLabels are the 80 COCO classes plus background at index 0, used by the
// MobileNet-SSD family of models.
var COCOLabels = []string{
	"background",
	"person", "bicycle", "car", "motorcycle", "airplane",
	"bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird",
	"cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat",
	"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed",
	"dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "book", "clock",
	"vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// LabelTable maps class IDs from the output records to human names.
type LabelTable struct {
	labels []string
}

// NewLabelTable wraps a class name slice indexed by class ID.
func NewLabelTable(labels []string) *LabelTable {
	return &LabelTable{labels: labels}
}

// ResolveLabels returns one of the builtin tables for the names "voc" and
// "coco", and otherwise loads a label file from the given path.
func ResolveLabels(nameOrPath string) (*LabelTable, error) {
	switch strings.ToLower(nameOrPath) {
	case "voc":
		return NewLabelTable(VOCLabels), nil
	case "coco":
		return NewLabelTable(COCOLabels), nil
	}
	return LoadLabelTable(nameOrPath)
}

// LoadLabelTable reads a label file with one class name per line. Blank lines
// and lines starting with '#' are skipped.
func LoadLabelTable(path string) (*LabelTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file %s contains no labels", path)
	}

	return &LabelTable{labels: labels}, nil
}

// Name returns the class name for an ID, or "class_<id>" when the ID is
// outside the table.
func (t *LabelTable) Name(classID int) string {
	if t == nil || classID < 0 || classID >= len(t.labels) {
		return fmt.Sprintf("class_%d", classID)
	}
	return t.labels[classID]
}

// Len returns the number of known classes.
func (t *LabelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.labels)
}

// Apply fills the Label field of each detection from the table.
func (t *LabelTable) Apply(detections []Detection) {
	for i := range detections {
		detections[i].Label = t.Name(detections[i].ClassID)
	}
}
