package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/naokikimura/carp-streamer/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// skipConfigCommands lists commands that run without configuration.
var skipConfigCommands = map[string]bool{
	"carp-streamer version": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "carp-streamer",
		Short:   "Upload-only directory sync to a cloud content service",
		Long:    "Mirrors local directory trees into a remote folder, creating folders and uploading new or changed files.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands. Flags are
// only passed on when the user explicitly set them.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	flags := cmd.Flags()

	if flags.Changed("dry-run") {
		v, _ := flags.GetBool("dry-run")
		cli.DryRun = &v
	}

	if flags.Changed("concurrency") {
		v, _ := flags.GetInt("concurrency")
		cli.Concurrency = &v
	}

	if flags.Changed("exclude") {
		cli.Excludes, _ = flags.GetStringArray("exclude")
	}

	if flags.Changed("cache-file") {
		v, _ := flags.GetString("cache-file")
		cli.CacheFile = &v
	}

	if flags.Changed("cache-max-entries") {
		v, _ := flags.GetInt("cache-max-entries")
		cli.CacheMaxEntries = &v
	}

	if flags.Changed("cache-max-age") {
		v, _ := flags.GetString("cache-max-age")
		cli.CacheMaxAge = &v
	}

	if flags.Changed("revalidate") {
		v, _ := flags.GetBool("revalidate")
		cli.Revalidate = &v
	}

	if flags.Changed("metrics-addr") {
		v, _ := flags.GetString("metrics-addr")
		cli.MetricsAddr = &v
	}

	switch {
	case flagVerbose:
		level := "debug"
		cli.LogLevel = &level
	case flagQuiet:
		level := "error"
		cli.LogLevel = &level
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. --verbose and --quiet override the configured level. With
// log_format "auto", output is text on a terminal and JSON otherwise.
func buildLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "carp-streamer", version)
		},
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
