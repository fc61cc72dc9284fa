package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/audioshelf/internal/blob"
	"github.com/menta2k/audioshelf/internal/config"
	"github.com/menta2k/audioshelf/internal/logging"
	"github.com/menta2k/audioshelf/internal/server"
	"github.com/menta2k/audioshelf/internal/store"
	"github.com/menta2k/audioshelf/internal/upload"
	"github.com/menta2k/audioshelf/pkg/client"
	"github.com/menta2k/audioshelf/pkg/detection"
	"github.com/menta2k/audioshelf/pkg/editor"
	"github.com/menta2k/audioshelf/pkg/llamacpp"
	"github.com/menta2k/audioshelf/pkg/loader"
	"github.com/menta2k/audioshelf/pkg/ollama"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/vision"
)

const defaultTokenSecret = "change-me"

func (c *CLI) serveCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				c.config.Server.Host = host
			}
			if port != 0 {
				c.config.Server.Port = port
			}
			return c.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func (c *CLI) runServe(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	cfg := c.config

	if cfg.Auth.TokenSecret == defaultTokenSecret {
		logger.Warn("auth.token_secret is the example value, set a private secret")
	}
	if cfg.Auth.Username == "superadmin" && cfg.Auth.Password == "superadmin" {
		logger.Warn("admin credentials are the defaults, change auth.username and auth.password")
	}

	db, err := store.NewDatabase(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.MigrateUp(db)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if applied > 0 {
		logger.Info("applied migrations", "count", applied)
	}

	blobs, err := blob.New(cfg.Storage.BlobDir, cfg.Storage.BaseURL)
	if err != nil {
		return err
	}

	uploads, err := upload.NewAuthorizer(upload.Config{
		Secret: []byte(cfg.Auth.TokenSecret),
		TTL:    cfg.Auth.TokenTTL.Duration,
		Rate:   cfg.Auth.TokenRate,
		Burst:  cfg.Auth.TokenBurst,
	})
	if err != nil {
		return err
	}

	deps := server.Deps{
		Audios:    store.NewAudioRepository(db),
		Blobs:     blobs,
		Uploads:   uploads,
		Loader:    loader.New(),
		Processor: processing.NewProcessorWithConfig(processing.Config{PreviewMaxDim: cfg.Editor.PreviewMaxDim}),
		Logger:    logger,
	}

	if deps.Suggester, err = c.suggester("", ""); err != nil {
		return err
	}
	if detector, ok := deps.Suggester.(*detection.Detector); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := detector.Ping(pingCtx); err != nil {
			logger.Warn("vision backend is not reachable, auto crop will fall back to center", "url", cfg.Vision.URL, "err", err)
		}
		cancel()
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		return err
	}

	logger.Info("starting audioshelf", "version", version, "addr", cfg.Address(), "db", cfg.Storage.DatabasePath, "blobs", blobs.Root())
	return srv.Run(ctx)
}

// suggester picks the auto crop backend: the vision model when it is enabled
// or a URL is given, local saliency otherwise.
func (c *CLI) suggester(url, model string) (editor.Suggester, error) {
	if url == "" && !c.config.Vision.Enabled {
		return vision.New(), nil
	}
	return c.newDetector(url, model)
}

// newDetector builds the vision-backed focus detector. Empty arguments use
// the configured URL and model.
func (c *CLI) newDetector(url, model string) (*detection.Detector, error) {
	if url == "" {
		url = c.config.Vision.URL
	}
	if model == "" {
		model = c.config.Vision.Model
	}
	var vc client.VisionClient
	var err error
	switch c.config.Vision.Backend {
	case config.VisionLlamaCpp:
		vc, err = llamacpp.NewClient(url, c.config.Vision.Timeout.Duration)
	default:
		vc, err = ollama.NewClient(url, c.config.Vision.Timeout.Duration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return detection.NewDetector(vc, detection.Config{
		Model:         model,
		MinConfidence: c.config.Vision.MinConfidence,
		Logger:        c.logger,
	}), nil
}
