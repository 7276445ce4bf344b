// CLI for tempo, beat and meter analysis and the web visualization server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nzoschke/tempolab/pkg/analysis"
	"github.com/nzoschke/tempolab/pkg/server"
)

var rootCmd = &cobra.Command{
	Use:           "app",
	Short:         "Tempo, beat and meter analysis and visualization",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <directory>",
	Short: "Analyze audio files and create JSON sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runAnalyze(cmd, args[0], force)
	},
}

var tempoCmd = &cobra.Command{
	Use:   "tempo <file>",
	Short: "Analyze one audio file and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTempo(cmd, args[0])
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().Float64("min-bpm", 0, "Override the lowest tempo considered")
	rootCmd.PersistentFlags().Float64("max-bpm", 0, "Override the highest tempo considered")
	rootCmd.PersistentFlags().Float64("tightness", 0, "Override how strictly beats follow the tempo curve")
	rootCmd.PersistentFlags().Bool("no-downbeats", false, "Fit one meter to the whole track instead of tracking downbeats")

	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if JSON exists")
	tempoCmd.Flags().Bool("waveform", false, "Include waveform data in the output")
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("music", "music", "Music library directory")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(tempoCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newAnalyzer loads the config file, applies flag overrides and validates.
func newAnalyzer(cmd *cobra.Command) (*analysis.Analyzer, error) {
	cfg := analysis.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = analysis.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("min-bpm") {
		cfg.MinBPM, _ = flags.GetFloat64("min-bpm")
	}
	if flags.Changed("max-bpm") {
		cfg.MaxBPM, _ = flags.GetFloat64("max-bpm")
	}
	if flags.Changed("tightness") {
		cfg.Tightness, _ = flags.GetFloat64("tightness")
	}
	if off, _ := flags.GetBool("no-downbeats"); off {
		cfg.DetectDownbeats = false
	}

	analyzer, err := analysis.New(cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	return analyzer, nil
}

func runAnalyze(cmd *cobra.Command, dir string, force bool) error {
	analyzer, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := analyzer.AnalyzeDir(ctx, dir, force)
	slog.Info("done", "analyzed", res.Analyzed, "skipped", res.Skipped, "failed", res.Failed)
	return err
}

func runTempo(cmd *cobra.Command, path string) error {
	analyzer, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	ta, err := analyzer.AnalyzeFile(path)
	if err != nil {
		return err
	}
	if full, _ := cmd.Flags().GetBool("waveform"); !full {
		ta.Waveform = nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ta)
}

func runServe(cmd *cobra.Command) error {
	analyzer, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	opts := server.DefaultOptions()
	opts.MusicDir, _ = cmd.Flags().GetString("music")
	addr, _ := cmd.Flags().GetString("addr")
	return server.Run(addr, analyzer, opts, slog.Default())
}
