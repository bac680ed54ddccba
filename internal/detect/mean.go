package detect

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseMean parses a comma-separated mean value string. Either a single
// value applied to every channel or exactly one value per channel is
// accepted.
func ParseMean(meanValue string, channels int) ([]float64, error) {
	parts := strings.Split(meanValue, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mean value %q: %w", p, err)
		}
		values = append(values, v)
	}

	switch len(values) {
	case 1:
		mean := make([]float64, channels)
		for i := range mean {
			mean[i] = values[0]
		}
		return mean, nil
	case channels:
		return values, nil
	default:
		return nil, fmt.Errorf("specify either 1 mean value or %d (one per channel), got %d", channels, len(values))
	}
}

// LoadMeanFile reads per-channel means from a plain text file containing
// comma or whitespace separated floats.
func LoadMeanFile(path string, channels int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mean file: %w", err)
	}

	normalized := strings.NewReplacer(",", " ", "\n", " ", "\t", " ").Replace(string(data))
	return ParseMean(strings.Join(strings.Fields(normalized), ","), channels)
}
