package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/audioshelf/internal/logging"
	"github.com/menta2k/audioshelf/internal/utils"
	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/editor"
	"github.com/menta2k/audioshelf/pkg/loader"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/types"
)

type editOptions struct {
	outDir   string
	aspect   string
	crop     string
	percent  bool
	display  string
	scale    float64
	rotate   int
	format   string
	quality  float64
	lossless bool
	auto     bool
	url      string
	model    string
	debug    bool
	json     bool
}

type editResult struct {
	Output    string            `json:"output"`
	Guide     string            `json:"guide,omitempty"`
	MIMEType  string            `json:"mimeType"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Aspect    string            `json:"aspect"`
	Crop      *types.CropRegion `json:"crop"`
	Transform types.Transform   `json:"transform"`
}

func (c *CLI) editCommand() *cobra.Command {
	opts := &editOptions{}

	cmd := &cobra.Command{
		Use:   "edit <image|url>",
		Short: "Crop, zoom and rotate a cover image into a thumbnail",
		Long: `Edit applies a crop, zoom and rotation to an image and writes the result.

Without --crop the crop is centered at 90% of the largest region of the
chosen aspect. --auto asks the configured vision model where the subject is
and centers the crop on it, or falls back to a local saliency search when
no model is enabled.`,
		Example: `  audioshelf edit cover.jpg --aspect 1:1 --format webp
  audioshelf edit cover.jpg --crop 100,50,400,400 --scale 1.2 --rotate 90
  audioshelf edit https://example.com/cover.png --auto --debug`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runEdit(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.outDir, "out", "o", "out", "output directory")
	f.StringVarP(&opts.aspect, "aspect", "a", "", "aspect ratio: 16:9, 4:3, 1:1, free or W:H (default editor.default_aspect)")
	f.StringVar(&opts.crop, "crop", "", "crop region x,y,width,height in displayed pixels")
	f.BoolVar(&opts.percent, "percent", false, "interpret --crop as percentages of the displayed size")
	f.StringVar(&opts.display, "display", "", "size the image was displayed at while choosing the crop, WxH")
	f.Float64Var(&opts.scale, "scale", 0, "zoom factor (clamped to editor.min_scale..editor.max_scale)")
	f.IntVar(&opts.rotate, "rotate", 0, "rotation in degrees")
	f.StringVarP(&opts.format, "format", "f", "", "output format: png, jpeg or webp (default output.format)")
	f.Float64VarP(&opts.quality, "quality", "q", 0, "JPEG/WebP quality, 0-1 or 1-100 (default output.quality)")
	f.BoolVar(&opts.lossless, "lossless", false, "WebP lossless mode")
	f.BoolVar(&opts.auto, "auto", false, "center the crop on the detected subject (vision model when enabled, local saliency otherwise)")
	f.StringVar(&opts.url, "vision-url", "", "vision server URL (default vision.url)")
	f.StringVar(&opts.model, "model", "", "vision model (default vision.model)")
	f.BoolVar(&opts.debug, "debug", false, "also write a crop guide overlay")
	f.BoolVar(&opts.json, "json", false, "print the result as JSON")

	return cmd
}

func (c *CLI) runEdit(cmd *cobra.Command, input string, opts *editOptions) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)
	progress := logging.NewProgress(logger)

	src, err := loadSource(input)
	if err != nil {
		return err
	}
	if opts.display != "" {
		w, h, err := parseSize(opts.display)
		if err != nil {
			return err
		}
		src = src.WithDisplaySize(w, h)
	}

	aspect := c.config.Aspect()
	if opts.aspect != "" {
		if aspect, err = cropper.ParseAspect(opts.aspect); err != nil {
			return err
		}
	}

	output := c.config.OutputOptions()
	if opts.format != "" {
		if output.Format, err = processing.ParseFormat(opts.format); err != nil {
			return err
		}
	}
	if opts.quality > 0 {
		output.Quality = processing.NormalizeQuality(opts.quality)
	}
	if cmd.Flags().Changed("lossless") {
		output.Lossless = opts.lossless
	}

	edit := editor.Edit{Aspect: aspect, Scale: opts.scale, Rotation: opts.rotate}
	if opts.crop != "" {
		unit := types.UnitPixels
		if opts.percent {
			unit = types.UnitPercent
		}
		if edit.Crop, err = parseCrop(opts.crop, unit); err != nil {
			return err
		}
	}
	if opts.auto {
		if edit.Suggester, err = c.suggester(opts.url, opts.model); err != nil {
			return err
		}
	}

	processor := processing.NewProcessor()
	out, state, err := editor.Apply(ctx, src, edit, editor.Options{
		Controller: c.config.ControllerConfig(),
		Output:     output,
		Processor:  processor,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if err := utils.EnsureDir(opts.outDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outPath := filepath.Join(opts.outDir, out.Filename)
	if err := os.WriteFile(outPath, out.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	progress.Done(fmt.Sprintf("wrote %s (%dx%d, %s)", outPath, out.Width, out.Height, utils.FormatFileSize(int64(len(out.Data)))))

	result := editResult{
		Output:    outPath,
		MIMEType:  out.MIMEType,
		Width:     out.Width,
		Height:    out.Height,
		Aspect:    state.Aspect.String(),
		Crop:      state.Crop,
		Transform: state.Transform,
	}

	if opts.debug && state.Crop != nil {
		guide, err := processor.CropGuide(src, *state.Crop)
		if err != nil {
			return err
		}
		data, _, err := processor.Encode(guide, types.OutputOptions{Format: types.FormatPNG})
		if err != nil {
			return err
		}
		base := strings.TrimSuffix(out.Filename, filepath.Ext(out.Filename))
		result.Guide = filepath.Join(opts.outDir, base+"_guide.png")
		if err := os.WriteFile(result.Guide, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", result.Guide, err)
		}
		logger.Info("wrote crop guide", "path", result.Guide)
	}

	if opts.json {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(c.stdout, outPath)
	return nil
}

// loadSource reads a local file or, for http(s) inputs, downloads it.
func loadSource(input string) (types.SourceImage, error) {
	l := loader.New()
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return l.LoadURL(input)
	}
	return l.LoadFile(input)
}

// parseCrop parses "x,y,width,height".
func parseCrop(s string, unit types.Unit) (*types.CropRegion, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid crop %q: want x,y,width,height", s)
	}
	var v [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid crop %q: %w", s, err)
		}
		v[i] = n
	}
	return &types.CropRegion{Unit: unit, X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// parseSize parses "WxH".
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: want WxH", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return w, h, nil
}
