// Package config provides configuration management for the detector
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main detector configuration
type Config struct {
	Version   string          `yaml:"version"`
	System    SystemConfig    `yaml:"system"`
	Model     ModelConfig     `yaml:"model"`
	Detection DetectionConfig `yaml:"detection"`
	Sources   []SourceConfig  `yaml:"sources"`
	Output    OutputConfig    `yaml:"output"`
	Server    ServerConfig    `yaml:"server"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name     string        `yaml:"name"`
	DataPath string        `yaml:"data_path"`
	Logging  LoggingConfig `yaml:"logging"`
	// RetentionDays is how long stored detection events are kept.
	RetentionDays int `yaml:"retention_days,omitempty"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig holds the network files and preprocessing parameters
type ModelConfig struct {
	// Graph is the network definition (prototxt/pbtxt); empty for ONNX.
	Graph string `yaml:"graph,omitempty"`
	// Weights is the trained parameter file.
	Weights string `yaml:"weights"`
	// Framework is caffe, tensorflow or onnx; auto-detected when empty.
	Framework   string  `yaml:"framework,omitempty"`
	InputWidth  int     `yaml:"input_width,omitempty"`
	InputHeight int     `yaml:"input_height,omitempty"`
	MeanValue   string  `yaml:"mean_value,omitempty"`
	MeanFile    string  `yaml:"mean_file,omitempty"`
	Scale       float64 `yaml:"scale,omitempty"`
	SwapRB      bool    `yaml:"swap_rb,omitempty"`
	// Labels is a label file path, or the builtin "voc" / "coco" tables.
	Labels string `yaml:"labels,omitempty"`
}

// DetectionConfig holds thresholds and filters
type DetectionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	NMSThreshold        float64 `yaml:"nms_threshold,omitempty"`
	// FPS throttles stream detection. 0 processes every frame.
	FPS int `yaml:"fps,omitempty"`
	// Classes restricts reported detections to these labels.
	Classes []string `yaml:"classes,omitempty"`
	// Tracking enables IoU track ID assignment on streams.
	Tracking bool `yaml:"tracking,omitempty"`
}

// SourceConfig holds one input source
type SourceConfig struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// URL is a file path or rtsp:// URL.
	URL string `yaml:"url" json:"url"`
	// Type is image, video or rtsp; rtsp URLs are detected automatically.
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// StreamURL returns the source URL with credentials injected for RTSP
// sources configured with a separate username and password.
func (s SourceConfig) StreamURL() string {
	if s.Username == "" || !strings.HasPrefix(strings.ToLower(s.URL), "rtsp://") {
		return s.URL
	}
	rest := s.URL[len("rtsp://"):]
	if strings.Contains(strings.SplitN(rest, "/", 2)[0], "@") {
		return s.URL // credentials already present
	}
	return fmt.Sprintf("rtsp://%s:%s@%s", s.Username, s.Password, rest)
}

// OutputConfig holds result output settings
type OutputConfig struct {
	// File receives results; stdout when empty.
	File string `yaml:"file,omitempty"`
	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// ServerConfig holds the serve-mode HTTP settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	// NATSPort is the embedded event bus port.
	NATSPort int `yaml:"nats_port,omitempty"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.encKey = getEncryptionKey()

	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// New returns a config populated with defaults only.
func New() *Config {
	cfg := &Config{encKey: getEncryptionKey()}
	cfg.setDefaults()
	return cfg
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	// Copy without the mutex so the copy can be marshaled
	cfgCopy := &Config{
		Version:   c.Version,
		System:    c.System,
		Model:     c.Model,
		Detection: c.Detection,
		Sources:   append([]SourceConfig(nil), c.Sources...),
		Output:    c.Output,
		Server:    c.Server,
		path:      c.path,
		encKey:    c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# SSD detector configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Model = newCfg.Model
	c.Detection = newCfg.Detection
	c.Sources = newCfg.Sources
	c.Output = newCfg.Output
	c.Server = newCfg.Server
	c.encKey = newCfg.encKey
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// ListSources returns a copy of the configured sources with passwords
// blanked, safe to expose over the API.
func (c *Config) ListSources() []SourceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SourceConfig, len(c.Sources))
	copy(out, c.Sources)
	for i := range out {
		out[i].Password = ""
	}
	return out
}

// GetSource returns a source by ID
func (c *Config) GetSource(id string) *SourceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// UpsertSource adds or updates a source
func (c *Config) UpsertSource(src SourceConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sources {
		if c.Sources[i].ID == src.ID {
			c.Sources[i] = src
			return c.saveUnlocked()
		}
	}

	c.Sources = append(c.Sources, src)
	return c.saveUnlocked()
}

// RemoveSource removes a source by ID
func (c *Config) RemoveSource(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sources {
		if c.Sources[i].ID == id {
			c.Sources = append(c.Sources[:i], c.Sources[i+1:]...)
			return c.saveUnlocked()
		}
	}

	return fmt.Errorf("source not found: %s", id)
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.DataPath == "" {
		c.System.DataPath = "/data"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.RetentionDays == 0 {
		c.System.RetentionDays = 30
	}
	if c.Model.InputWidth == 0 {
		c.Model.InputWidth = 300
	}
	if c.Model.InputHeight == 0 {
		c.Model.InputHeight = 300
	}
	if c.Model.Scale == 0 {
		c.Model.Scale = 1.0
	}
	if c.Detection.ConfidenceThreshold == 0 {
		c.Detection.ConfidenceThreshold = 0.01
	}
	if c.Output.Format == "" {
		c.Output.Format = "text"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.NATSPort == 0 {
		c.Server.NATSPort = 12001
	}
}

// encryptSecrets encrypts sensitive fields
func (c *Config) encryptSecrets() error {
	for i := range c.Sources {
		if c.Sources[i].Password != "" && !strings.HasPrefix(c.Sources[i].Password, "encrypted:") {
			encrypted, err := encrypt(c.encKey, c.Sources[i].Password)
			if err != nil {
				return err
			}
			c.Sources[i].Password = "encrypted:" + encrypted
		}
	}
	return nil
}

// decryptSecrets decrypts sensitive fields
func (c *Config) decryptSecrets() error {
	for i := range c.Sources {
		if strings.HasPrefix(c.Sources[i].Password, "encrypted:") {
			encrypted := strings.TrimPrefix(c.Sources[i].Password, "encrypted:")
			decrypted, err := decrypt(c.encKey, encrypted)
			if err != nil {
				return err
			}
			c.Sources[i].Password = decrypted
		}
	}
	return nil
}

// getEncryptionKey returns the encryption key from environment or a default
func getEncryptionKey() []byte {
	keyStr := os.Getenv("SSDWATCH_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
	}

	// Default key (should be replaced in production)
	// Must be exactly 32 bytes for AES-256
	return []byte("ssdwatch-default-key-change-it!!")
}

// encrypt encrypts a string using AES-GCM
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string using AES-GCM
func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
