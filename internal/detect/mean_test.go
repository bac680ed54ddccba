package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMean(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float64
		wantErr bool
	}{
		{
			name:  "single value broadcast",
			input: "127.5",
			want:  []float64{127.5, 127.5, 127.5},
		},
		{
			name:  "per channel",
			input: "104,117,123",
			want:  []float64{104, 117, 123},
		},
		{
			name:  "whitespace tolerated",
			input: " 104 , 117 , 123 ",
			want:  []float64{104, 117, 123},
		},
		{
			name:    "wrong count",
			input:   "104,117",
			wantErr: true,
		},
		{
			name:    "not a number",
			input:   "104,x,123",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMean(tt.input, 3)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMean(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMean(%q) failed: %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseMean(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseMean(%q)[%d] = %g, want %g", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadMeanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mean.txt")
	if err := os.WriteFile(path, []byte("104\n117\t123\n"), 0644); err != nil {
		t.Fatalf("Failed to write mean file: %v", err)
	}

	mean, err := LoadMeanFile(path, 3)
	if err != nil {
		t.Fatalf("LoadMeanFile failed: %v", err)
	}

	want := []float64{104, 117, 123}
	for i := range want {
		if mean[i] != want[i] {
			t.Errorf("mean[%d] = %g, want %g", i, mean[i], want[i])
		}
	}
}

func TestLoadMeanFileMissing(t *testing.T) {
	if _, err := LoadMeanFile(filepath.Join(t.TempDir(), "nope.txt"), 3); err == nil {
		t.Error("Expected error for missing mean file")
	}
}
