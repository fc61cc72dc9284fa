package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/types"
)

//go:embed config.example.toml
var exampleConf []byte

// Config holds the application configuration
type Config struct {
	Editor  EditorConfig  `toml:"editor"`
	Output  OutputConfig  `toml:"output"`
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Storage StorageConfig `toml:"storage"`
	Vision  VisionConfig  `toml:"vision"`
	Log     LogConfig     `toml:"log"`
}

// EditorConfig holds the crop controller limits and preview settings
type EditorConfig struct {
	MinCropSize     float64  `toml:"min_crop_size"`
	DefaultFraction float64  `toml:"default_fraction"`
	MinScale        float64  `toml:"min_scale"`
	MaxScale        float64  `toml:"max_scale"`
	Debounce        Duration `toml:"debounce"`
	DefaultAspect   string   `toml:"default_aspect"`
	PreviewMaxDim   int      `toml:"preview_max_dim"`
}

// OutputConfig holds encoder settings for saved thumbnails
type OutputConfig struct {
	Format   string `toml:"format"`
	Quality  int    `toml:"quality"`
	Lossless bool   `toml:"lossless"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	MaxUploadMB  int      `toml:"max_upload_mb"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// AuthConfig holds the admin credential and upload token settings
type AuthConfig struct {
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	TokenSecret string   `toml:"token_secret"`
	TokenTTL    Duration `toml:"token_ttl"`
	TokenRate   float64  `toml:"token_rate"`
	TokenBurst  int      `toml:"token_burst"`
}

// StorageConfig holds metadata and blob storage locations
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	BlobDir      string `toml:"blob_dir"`
	BaseURL      string `toml:"base_url"`
}

// VisionConfig holds settings for subject-aware auto crop
type VisionConfig struct {
	Enabled       bool     `toml:"enabled"`
	Backend       string   `toml:"backend"`
	URL           string   `toml:"url"`
	Model         string   `toml:"model"`
	Timeout       Duration `toml:"timeout"`
	MinConfidence float64  `toml:"min_confidence"`
}

// Vision backends
const (
	VisionOllama   = "ollama"
	VisionLlamaCpp = "llamacpp"
)

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "100ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration with default values taken from the
// embedded example config
func Default() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// LoadFromFile loads configuration from a TOML file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it exists and falls back to defaults otherwise
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFromFile(filename)
}

// SaveToFile saves configuration to a TOML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateConfigFile writes the commented example config to path. It refuses
// to overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Editor.MinCropSize <= 0 {
		return fmt.Errorf("editor.min_crop_size must be positive")
	}

	if c.Editor.DefaultFraction <= 0 || c.Editor.DefaultFraction > 1 {
		return fmt.Errorf("editor.default_fraction must be in (0, 1]")
	}

	if c.Editor.MinScale <= 0 || c.Editor.MaxScale < c.Editor.MinScale {
		return fmt.Errorf("editor.min_scale must be positive and not above editor.max_scale")
	}

	if c.Editor.Debounce.Duration < 0 {
		return fmt.Errorf("editor.debounce must not be negative")
	}

	if _, err := cropper.ParseAspect(c.Editor.DefaultAspect); err != nil {
		return fmt.Errorf("editor.default_aspect: %w", err)
	}

	if _, err := processing.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	if c.Auth.Username == "" || c.Auth.Password == "" {
		return fmt.Errorf("auth.username and auth.password are required")
	}

	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required")
	}

	if c.Auth.TokenTTL.Duration <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Storage.DatabasePath == "" || c.Storage.BlobDir == "" {
		return fmt.Errorf("storage.database_path and storage.blob_dir are required")
	}

	if c.Vision.Enabled && (c.Vision.URL == "" || c.Vision.Model == "") {
		return fmt.Errorf("vision.url and vision.model are required when vision is enabled")
	}

	switch c.Vision.Backend {
	case VisionOllama, VisionLlamaCpp:
	default:
		return fmt.Errorf("vision.backend must be %q or %q", VisionOllama, VisionLlamaCpp)
	}

	return nil
}

// ControllerConfig converts the editor section for the crop controller
func (c *Config) ControllerConfig() cropper.Config {
	return cropper.Config{
		MinCropSize:     c.Editor.MinCropSize,
		DefaultFraction: c.Editor.DefaultFraction,
		MinScale:        c.Editor.MinScale,
		MaxScale:        c.Editor.MaxScale,
	}
}

// Aspect returns the configured default aspect, or 16:9 if it is invalid
func (c *Config) Aspect() cropper.AspectRatio {
	a, err := cropper.ParseAspect(c.Editor.DefaultAspect)
	if err != nil {
		return cropper.Widescreen
	}
	return a
}

// OutputOptions converts the output section for the render pipeline
func (c *Config) OutputOptions() types.OutputOptions {
	format, err := processing.ParseFormat(c.Output.Format)
	if err != nil {
		format = types.FormatPNG
	}
	return types.OutputOptions{
		Format:   format,
		Quality:  c.Output.Quality,
		Lossless: c.Output.Lossless,
	}
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.toml"
	}
	return filepath.Join(home, ".config", "audioshelf", "config.toml")
}
