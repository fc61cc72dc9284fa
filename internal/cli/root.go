// Package cli implements the audioshelf command line: the HTTP service, a
// one-shot thumbnail editor and database and config maintenance.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/menta2k/audioshelf/internal/config"
	"github.com/menta2k/audioshelf/internal/logging"
)

var (
	version = "dev"
	commit  string
	date    string
)

// SetVersion sets the version information displayed by --version. It is
// called from main with values injected via ldflags.
func SetVersion(v, c, d string) {
	if v != "" {
		version = v
	}
	commit = c
	date = d
}

// CLI holds state shared by all commands.
type CLI struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool

	config *config.Config
	logger *log.Logger
}

// New creates a CLI writing command output to stdout and logs to stderr.
func New(stdout, stderr io.Writer) *CLI {
	return &CLI{
		stdout: stdout,
		stderr: stderr,
		logger: logging.NewLogger(stderr, log.InfoLevel),
	}
}

// RootCommand builds the command tree.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "audioshelf",
		Short:         "Share audio clips with cropped cover thumbnails",
		Long:          `audioshelf serves an audio clip library over HTTP and edits cover thumbnails with crop, zoom and rotation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.SetVersionTemplate(fmt.Sprintf("audioshelf %s\ncommit: %s\nbuilt: %s\n", version, commit, date))

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default "+config.GetConfigPath()+")")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.editCommand())
	root.AddCommand(c.migrateCommand())
	root.AddCommand(c.configCommand())

	return root
}

// setup loads the config and attaches a logger to the command context.
func (c *CLI) setup(cmd *cobra.Command) error {
	path := c.configFile()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	c.config = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if c.verbose {
		level = log.DebugLevel
	}
	c.logger = logging.NewLogger(c.stderr, level)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, c.logger))
	c.logger.Debug("config loaded", "path", path)
	return nil
}

// Execute runs the CLI with ctx and the given arguments.
func Execute(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := New(stdout, stderr).RootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
