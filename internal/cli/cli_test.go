package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/audioshelf/pkg/detection"
	"github.com/menta2k/audioshelf/pkg/types"
	"github.com/menta2k/audioshelf/pkg/vision"
)

// run executes the CLI with a config file inside dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", filepath.Join(dir, "config.toml")}, args...)
	err := Execute(context.Background(), &stdout, &stderr, full)
	return stdout.String(), err
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func decodePNGSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.0.0", "abc123", "2024-01-01")
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, "abc123", commit)
	assert.Equal(t, "2024-01-01", date)

	// Empty versions keep the previous value
	SetVersion("", "", "")
	assert.Equal(t, "1.0.0", version)
}

func TestEditCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cover.png")
	writePNG(t, in, 200, 100)
	outDir := filepath.Join(dir, "out")

	stdout, err := run(t, dir, "edit", in, "--aspect", "1:1", "--out", outDir)
	require.NoError(t, err)

	outPath := filepath.Join(outDir, "cover.png")
	assert.Contains(t, stdout, outPath)
	w, h := decodePNGSize(t, outPath)
	assert.Equal(t, 90, w)
	assert.Equal(t, 90, h)
}

func TestEditCommandJSONAndGuide(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "art.png")
	writePNG(t, in, 300, 300)
	outDir := filepath.Join(dir, "out")

	stdout, err := run(t, dir, "edit", in,
		"--aspect", "free",
		"--crop", "10,20,100,120",
		"--scale", "1.5",
		"--rotate", "-90",
		"--format", "jpeg",
		"--quality", "0.8",
		"--out", outDir,
		"--debug",
		"--json")
	require.NoError(t, err)

	var result editResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, filepath.Join(outDir, "art.jpg"), result.Output)
	assert.Equal(t, "image/jpeg", result.MIMEType)
	assert.Equal(t, 100, result.Width)
	assert.Equal(t, 120, result.Height)
	assert.Equal(t, 270, result.Transform.Rotation)
	assert.Equal(t, 1.5, result.Transform.Scale)
	require.NotNil(t, result.Crop)
	assert.Equal(t, types.CropRegion{Unit: types.UnitPixels, X: 10, Y: 20, Width: 100, Height: 120}, *result.Crop)

	assert.FileExists(t, result.Output)
	assert.Equal(t, filepath.Join(outDir, "art_guide.png"), result.Guide)
	w, h := decodePNGSize(t, result.Guide)
	assert.Equal(t, 300, w)
	assert.Equal(t, 300, h)
}

func TestEditCommandDisplaySize(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "big.png")
	writePNG(t, in, 400, 400)

	stdout, err := run(t, dir, "edit", in, "--display", "200x200", "--crop", "0,0,50,50", "--out", dir, "--json")
	require.NoError(t, err)

	var result editResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 100, result.Width)
}

func TestEditCommandErrors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cover.png")
	writePNG(t, in, 100, 100)

	tests := map[string][]string{
		"missing file":   {"edit", filepath.Join(dir, "nope.png")},
		"bad crop":       {"edit", in, "--crop", "1,2,3"},
		"bad display":    {"edit", in, "--display", "wide"},
		"bad aspect":     {"edit", in, "--aspect", "tall"},
		"bad format":     {"edit", in, "--format", "gif"},
		"no input":       {"edit"},
		"bad vision url": {"edit", in, "--auto", "--vision-url", "localhost"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, dir, args...)
			assert.Error(t, err)
		})
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[editor]\ndefault_fraction = 2.0\n")

	_, err := run(t, dir, "config", "path")
	assert.ErrorContains(t, err, "default_fraction")
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	stdout, err := run(t, dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	_, err = run(t, dir, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	other := filepath.Join(dir, "nested", "other.toml")
	_, err = run(t, dir, "config", "init", other)
	require.NoError(t, err)
	assert.FileExists(t, other)

	stdout, err = run(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[editor]")
	assert.Contains(t, stdout, "min_crop_size")

	stdout, err = run(t, dir, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml")+"\n", stdout)
}

func TestMigrateCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.ToSlash(filepath.Join(dir, "shelf.db"))
	writeConfig(t, dir, "[storage]\ndatabase_path = \""+dbPath+"\"\n")

	stdout, err := run(t, dir, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, stdout, "schema version 1 (1 applied)")

	stdout, err = run(t, dir, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, stdout, "(0 applied)")

	stdout, err = run(t, dir, "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "schema version 1")

	stdout, err = run(t, dir, "migrate", "down")
	require.NoError(t, err)
	assert.Contains(t, stdout, "rolled back version 1")

	_, err = run(t, dir, "migrate", "down")
	assert.Error(t, err)
}

func TestParseCrop(t *testing.T) {
	c, err := parseCrop(" 1, 2.5,30,40 ", types.UnitPercent)
	require.NoError(t, err)
	assert.Equal(t, types.CropRegion{Unit: types.UnitPercent, X: 1, Y: 2.5, Width: 30, Height: 40}, *c)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "1,2,3,4,5"} {
		_, err := parseCrop(bad, types.UnitPixels)
		assert.Error(t, err, bad)
	}
}

func TestParseSize(t *testing.T) {
	w, h, err := parseSize("800X600")
	require.NoError(t, err)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)

	for _, bad := range []string{"", "800", "0x10", "10x-1", "axb"} {
		_, _, err := parseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestEditCommandAutoUsesSaliency(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "subject.png")

	img := image.NewNRGBA(image.Rect(0, 0, 300, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			c := color.NRGBA{30, 30, 40, 255}
			if x >= 230 && x < 290 && y >= 60 && y < 140 {
				c = color.NRGBA{255, 250, 240, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	stdout, err := run(t, dir, "edit", in, "--aspect", "1:1", "--auto", "--out", dir, "--json")
	require.NoError(t, err)

	var result editResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.NotNil(t, result.Crop)
	assert.Greater(t, result.Crop.X, 60.0, "crop should move toward the bright subject")
	assert.InDelta(t, 180, result.Crop.Width, 0.001)
}

func TestSuggesterSelection(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[vision]\nbackend = \"llamacpp\"\nurl = \"http://127.0.0.1:8080\"\n")

	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	c.configPath = filepath.Join(dir, "config.toml")
	root := c.RootCommand()
	require.NoError(t, c.setup(root))

	s, err := c.suggester("", "")
	require.NoError(t, err)
	_, local := s.(*vision.SubjectDetector)
	assert.True(t, local, "local saliency is used while vision is disabled")

	s, err = c.suggester("http://127.0.0.1:8080", "llava")
	require.NoError(t, err)
	_, remote := s.(*detection.Detector)
	assert.True(t, remote, "an explicit URL selects the vision model")

	c.config.Vision.Enabled = true
	s, err = c.suggester("", "")
	require.NoError(t, err)
	_, remote = s.(*detection.Detector)
	assert.True(t, remote)
}
