package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LegacyAlgConf is the ad hoc "key = value" algorithm configuration file
// carried over from older deployments. Unknown keys are ignored.
type LegacyAlgConf struct {
	Threshold float64
	FileType  string
	Model     string
	Weights   string
	ListFile  string
}

// ParseAlgConf reads a legacy algorithm conf file. Recognized keys:
// threshold, type, model, data, listfile.
func ParseAlgConf(path string) (*LegacyAlgConf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open conf file: %w", err)
	}
	defer f.Close()

	conf := &LegacyAlgConf{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case "threshold":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid threshold %q: %w", value, err)
			}
			conf.Threshold = v
		case "type":
			conf.FileType = value
		case "model":
			conf.Model = value
		case "data":
			conf.Weights = value
		case "listfile":
			conf.ListFile = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conf file: %w", err)
	}

	return conf, nil
}

// legacyStreamPath is the camera path appended to legacy credential confs.
const legacyStreamPath = "/h264/ch1/sub/av_stream"

// ParseStreamConf reads the legacy whitespace-separated stream credentials
// file (username, password, host) and builds an RTSP URL from it.
func ParseStreamConf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open stream conf: %w", err)
	}
	defer f.Close()

	var fields []string
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() && len(fields) < 3 {
		fields = append(fields, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stream conf: %w", err)
	}
	if len(fields) < 3 {
		return "", fmt.Errorf("stream conf %s: want username, password and host, got %d fields", path, len(fields))
	}

	return fmt.Sprintf("rtsp://%s:%s@%s%s", fields[0], fields[1], fields[2], legacyStreamPath), nil
}
