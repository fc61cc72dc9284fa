package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/types"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50.0, cfg.Editor.MinCropSize)
	assert.Equal(t, 0.9, cfg.Editor.DefaultFraction)
	assert.Equal(t, 0.1, cfg.Editor.MinScale)
	assert.Equal(t, 3.0, cfg.Editor.MaxScale)
	assert.Equal(t, 100*time.Millisecond, cfg.Editor.Debounce.Duration)
	assert.Equal(t, cropper.Widescreen, cfg.Aspect())
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "superadmin", cfg.Auth.Username)
	assert.Equal(t, "superadmin", cfg.Auth.Password)
	assert.Equal(t, 10*time.Minute, cfg.Auth.TokenTTL.Duration)
	assert.Equal(t, "./audioshelf.db", cfg.Storage.DatabasePath)
	assert.False(t, cfg.Vision.Enabled)
	assert.Equal(t, VisionOllama, cfg.Vision.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[server]
port = 8080

[editor]
default_aspect = "square"
debounce = "250ms"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, cropper.Square, cfg.Aspect())
	assert.Equal(t, 250*time.Millisecond, cfg.Editor.Debounce.Duration)
	assert.Equal(t, 0.9, cfg.Editor.DefaultFraction)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[editor]\ndebounce = \"soon\"\n"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestLoadMissingFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Output.Format = "webp"
	cfg.Auth.TokenTTL = Duration{5 * time.Minute}
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCreateConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, CreateConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# audioshelf configuration"))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Error(t, CreateConfigFile(path), "creating config file again should fail")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"min crop", func(c *Config) { c.Editor.MinCropSize = 0 }, "min_crop_size"},
		{"fraction", func(c *Config) { c.Editor.DefaultFraction = 1.5 }, "default_fraction"},
		{"scale range", func(c *Config) { c.Editor.MaxScale = 0.05 }, "min_scale"},
		{"aspect", func(c *Config) { c.Editor.DefaultAspect = "wide" }, "default_aspect"},
		{"format", func(c *Config) { c.Output.Format = "gif" }, "output.format"},
		{"quality", func(c *Config) { c.Output.Quality = 101 }, "output.quality"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"credential", func(c *Config) { c.Auth.Password = "" }, "auth.username"},
		{"secret", func(c *Config) { c.Auth.TokenSecret = "" }, "token_secret"},
		{"ttl", func(c *Config) { c.Auth.TokenTTL = Duration{} }, "token_ttl"},
		{"storage", func(c *Config) { c.Storage.BlobDir = "" }, "storage"},
		{"vision", func(c *Config) { c.Vision.Enabled = true; c.Vision.Model = "" }, "vision"},
		{"backend", func(c *Config) { c.Vision.Backend = "openai" }, "vision.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Output.Format = "jpg"
	cfg.Output.Quality = 80

	assert.Equal(t, types.OutputOptions{Format: types.FormatJPEG, Quality: 80}, cfg.OutputOptions())
	assert.Equal(t, cropper.Config{MinCropSize: 50, DefaultFraction: 0.9, MinScale: 0.1, MaxScale: 3}, cfg.ControllerConfig())
	assert.Equal(t, "127.0.0.1:3000", cfg.Address())
}

func TestGetConfigPath(t *testing.T) {
	assert.True(t, strings.HasSuffix(GetConfigPath(), "config.toml"))
}
