package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/auralyze/internal/analysis"
	"github.com/MrWong99/auralyze/internal/app"
	"github.com/MrWong99/auralyze/pkg/features"
	"github.com/MrWong99/auralyze/pkg/store"
)

// fileReport is one line of classify output.
type fileReport struct {
	File string `json:"file"`
	analysis.Report
}

func newClassifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file>...",
		Short: "Analyse audio files and print the aggregated result",
		Long: `Analyse audio files with the configured classifier and print one JSON
object per file. WAV files are resampled to audio.sample_rate; any other file
is read as raw PCM in audio.sample_format.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := offlineApp(cmd, opts)
			if err != nil {
				return err
			}
			defer shutdownOffline(a)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			var failed int
			for _, path := range args {
				rep, err := classifyFile(cmd.Context(), a.Analyzer(), path)
				if err != nil {
					slog.Error("classify failed", "file", path, "err", err)
					failed++
					continue
				}
				if err := enc.Encode(fileReport{File: path, Report: rep}); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func classifyFile(ctx context.Context, an *analysis.Analyzer, path string) (analysis.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return analysis.Report{}, err
	}
	defer f.Close()
	return an.AnalyzeFile(ctx, f)
}

func newFeaturesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Print the feature extractor catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(features.Catalog(cfg.Audio.Features()))
		},
	}
}

func newEnrollCmd(opts *globalOptions) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "enroll --label <label> <file>...",
		Short: "Store labelled exemplars for the knn classifier",
		Long: `Extract window features from each file and store every window as a
labelled exemplar in PostgreSQL. Requires storage.postgres_dsn.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := offlineApp(cmd, opts)
			if err != nil {
				return err
			}
			defer shutdownOffline(a)

			index := a.Exemplars()
			if index == nil {
				return errors.New("enroll requires storage.postgres_dsn")
			}
			var total int
			for _, path := range args {
				n, err := enrollFile(cmd.Context(), a.Analyzer(), index, label, path)
				if err != nil {
					return fmt.Errorf("enroll %s: %w", path, err)
				}
				slog.Info("enrolled", "file", path, "label", label, "exemplars", n)
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d exemplars labelled %q\n", total, label)
			return nil
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "label of the enrolled recordings")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func enrollFile(ctx context.Context, an *analysis.Analyzer, index store.ExemplarIndex, label, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	vectors, _, err := an.Features(ctx, data)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, v := range vectors {
		err := index.AddExemplar(ctx, store.Exemplar{
			ID:        uuid.NewString(),
			Label:     label,
			Vector:    v.Float32(),
			Source:    filepath.Base(path),
			CreatedAt: now,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(vectors), nil
}

// offlineApp builds the application for a one-shot command. Logs go to
// stderr at warn level unless --verbose is set.
func offlineApp(cmd *cobra.Command, opts *globalOptions) (*app.App, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	if opts.verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), level))

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, app.WithLevelVar(level))
}

func shutdownOffline(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
}
