// Command auralyze is the entry point for the Auralyze audio analysis server
// and its offline tools.
//
// Usage:
//
//	auralyze [--config config.yaml] <command> [args]
//
// Commands:
//
//	serve     - run the HTTP and streaming server
//	classify  - analyse audio files locally and print the JSON result
//	features  - print the feature extractor catalog
//	enroll    - store labelled exemplars for the knn classifier
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/auralyze/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "auralyze: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "auralyze",
		Short: "Streaming audio classification server",
		Long: `auralyze classifies audio by extracting MFCC features from fixed-size
windows and passing them to a configurable classifier.

Run 'auralyze serve' to accept file uploads and websocket streams, or use the
offline commands to analyse files and manage exemplars.

Examples:
  auralyze serve --config config.yaml
  auralyze classify recording.wav
  auralyze enroll --label typical samples/*.wav`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newServeCmd(opts),
		newClassifyCmd(opts),
		newFeaturesCmd(opts),
		newEnrollCmd(opts),
	)
	return root
}

// loadConfig loads the configuration file named by opts. A missing file is
// only an error when the path was given explicitly; otherwise defaults plus
// environment overrides are used.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if cmd.Flags().Changed("config") {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", opts.configPath)
	}

	cfg = &config.Config{}
	config.ApplyEnv(cfg, os.LookupEnv)
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	slog.Debug("no config file, using defaults", "path", opts.configPath)
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
