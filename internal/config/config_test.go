package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	if cfg.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", cfg.Version)
	}
	if cfg.Model.InputWidth != 300 || cfg.Model.InputHeight != 300 {
		t.Errorf("Input size = %dx%d, want 300x300", cfg.Model.InputWidth, cfg.Model.InputHeight)
	}
	if cfg.Model.Scale != 1.0 {
		t.Errorf("Scale = %g, want 1.0", cfg.Model.Scale)
	}
	if cfg.Detection.ConfidenceThreshold != 0.01 {
		t.Errorf("ConfidenceThreshold = %g, want 0.01", cfg.Detection.ConfidenceThreshold)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("Output format = %q, want text", cfg.Output.Format)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.NATSPort != 12001 {
		t.Errorf("NATS port = %d, want 12001", cfg.Server.NATSPort)
	}
	if cfg.System.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.System.RetentionDays)
	}
}

func TestListSources(t *testing.T) {
	cfg := New()
	cfg.Sources = []SourceConfig{
		{ID: "cam1", URL: "rtsp://10.0.0.5/stream", Username: "admin", Password: "secret"},
		{ID: "cam2", URL: "/videos/clip.mp4"},
	}

	got := cfg.ListSources()
	if len(got) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(got))
	}
	if got[0].Password != "" {
		t.Error("ListSources leaked a password")
	}
	// The copy must not alias the config's slice
	got[0].ID = "changed"
	if cfg.Sources[0].ID != "cam1" {
		t.Error("ListSources returned a live reference")
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := New()
	cfg.SetPath(path)
	cfg.System.Name = "garage"
	cfg.Model.Weights = "/models/ssd.caffemodel"
	cfg.Model.Graph = "/models/deploy.prototxt"
	cfg.Detection.ConfidenceThreshold = 0.5
	cfg.Sources = []SourceConfig{
		{ID: "cam1", Enabled: true, URL: "rtsp://10.0.0.5/stream", Username: "admin", Password: "secret"},
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.System.Name != "garage" {
		t.Errorf("Name = %q, want garage", loaded.System.Name)
	}
	if loaded.Model.Weights != "/models/ssd.caffemodel" {
		t.Errorf("Weights = %q", loaded.Model.Weights)
	}
	if loaded.Detection.ConfidenceThreshold != 0.5 {
		t.Errorf("Threshold = %g, want 0.5", loaded.Detection.ConfidenceThreshold)
	}
	if len(loaded.Sources) != 1 {
		t.Fatalf("Expected 1 source, got %d", len(loaded.Sources))
	}
	// Password round-trips through encryption
	if loaded.Sources[0].Password != "secret" {
		t.Errorf("Password = %q, want secret", loaded.Sources[0].Password)
	}
}

func TestSaveEncryptsPasswords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := New()
	cfg.SetPath(path)
	cfg.Sources = []SourceConfig{
		{ID: "cam1", URL: "rtsp://10.0.0.5/stream", Password: "hunter2"},
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}

	if strings.Contains(string(data), "hunter2") {
		t.Error("Plaintext password written to config file")
	}
	if !strings.Contains(string(data), "encrypted:") {
		t.Error("Expected encrypted password marker in config file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name string
		src  SourceConfig
		want string
	}{
		{
			name: "no credentials",
			src:  SourceConfig{URL: "rtsp://10.0.0.5/stream"},
			want: "rtsp://10.0.0.5/stream",
		},
		{
			name: "credentials injected",
			src:  SourceConfig{URL: "rtsp://10.0.0.5/stream", Username: "admin", Password: "pw"},
			want: "rtsp://admin:pw@10.0.0.5/stream",
		},
		{
			name: "credentials already in URL",
			src:  SourceConfig{URL: "rtsp://a:b@10.0.0.5/stream", Username: "admin", Password: "pw"},
			want: "rtsp://a:b@10.0.0.5/stream",
		},
		{
			name: "non rtsp untouched",
			src:  SourceConfig{URL: "/videos/clip.mp4", Username: "admin"},
			want: "/videos/clip.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.StreamURL(); got != tt.want {
				t.Errorf("StreamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpsertAndRemoveSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := New()
	cfg.SetPath(path)

	if err := cfg.UpsertSource(SourceConfig{ID: "cam1", URL: "rtsp://a/1", Enabled: true}); err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}
	if err := cfg.UpsertSource(SourceConfig{ID: "cam2", URL: "rtsp://a/2", Enabled: true}); err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}

	// Update in place
	if err := cfg.UpsertSource(SourceConfig{ID: "cam1", URL: "rtsp://b/1", Enabled: false}); err != nil {
		t.Fatalf("UpsertSource update failed: %v", err)
	}

	src := cfg.GetSource("cam1")
	if src == nil {
		t.Fatal("GetSource returned nil for cam1")
	}
	if src.URL != "rtsp://b/1" || src.Enabled {
		t.Errorf("Source not updated: %+v", src)
	}

	if err := cfg.RemoveSource("cam2"); err != nil {
		t.Fatalf("RemoveSource failed: %v", err)
	}
	if cfg.GetSource("cam2") != nil {
		t.Error("cam2 still present after removal")
	}

	if err := cfg.RemoveSource("ghost"); err == nil {
		t.Error("Expected error removing unknown source")
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := getEncryptionKey()

	ciphertext, err := encrypt(key, "top secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if ciphertext == "top secret" {
		t.Error("Ciphertext equals plaintext")
	}

	plaintext, err := decrypt(key, ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plaintext != "top secret" {
		t.Errorf("Roundtrip = %q, want top secret", plaintext)
	}
}

func TestDecryptGarbage(t *testing.T) {
	if _, err := decrypt(getEncryptionKey(), "not base64 at all!!!"); err == nil {
		t.Error("Expected error decrypting garbage")
	}
}
