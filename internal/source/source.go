// Package source dispatches over detection input sources: still images,
// video files and RTSP camera streams.
package source

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Kind identifies the type of an input entry.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindRTSP  Kind = "rtsp"
)

// ParseKind validates a file type string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	case KindRTSP:
		return KindRTSP, nil
	default:
		return "", fmt.Errorf("unknown file type: %s", s)
	}
}

// Entry is one input to feed through the detector.
type Entry struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// KindOf classifies an entry. Anything with an rtsp scheme is a stream
// regardless of the configured file type; everything else uses fileType.
func KindOf(entry string, fileType Kind) Kind {
	if strings.HasPrefix(strings.ToLower(entry), "rtsp:") {
		return KindRTSP
	}
	return fileType
}

// ReadListFile reads a list file with one path or URL per line. Blank lines
// and '#' comments are skipped.
func ReadListFile(path string, fileType Kind) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, Entry{
			Path: line,
			Kind: KindOf(line, fileType),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list file: %w", err)
	}

	return entries, nil
}
