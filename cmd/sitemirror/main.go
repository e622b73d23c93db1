package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sitemirror/internal/config"
	"sitemirror/internal/crawler"
	"sitemirror/internal/errors"
	"sitemirror/internal/fetch"
	"sitemirror/internal/folder"
	"sitemirror/internal/logger"
	"sitemirror/internal/page"
	"sitemirror/internal/storage"
	"sitemirror/internal/telemetry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// loaderShutdown bounds how long the process waits for the browser to exit
const loaderShutdown = 10 * time.Second

var flagMappings = map[string]string{
	"seed":                    "seeds",
	"allow":                   "allowed_domains",
	"output":                  "output",
	"timestamped":             "timestamped",
	"tree-file":               "tree_file",
	"workers":                 "workers",
	"timeout":                 "timeout",
	"validate-timeout":        "validate_timeout",
	"retries":                 "retries",
	"retry-delay":             "retry_delay",
	"rps":                     "requests_per_second",
	"user-agent":              "user_agent",
	"ext":                     "extensions",
	"skip":                    "skip_patterns",
	"renderer":                "renderer",
	"respect-robots":          "respect_robots",
	"folder-endpoint":         "folder_endpoint",
	"folder":                  "folders",
	"log-level":               "log_level",
	"log-output":              "log_output",
	"log-file-path":           "log_file_path",
	"log-structured":          "log_structured",
	"log-no-color":            "log_no_color",
	"telemetry-enabled":       "telemetry_enabled",
	"telemetry-collector-url": "telemetry_collector_url",
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "sitemirror [flags] [seed-url...]",
		Short: "Sitemirror mirrors the downloadable files of a website",
		Long: `Sitemirror crawls pages under allow-listed URL prefixes, downloads every linked
file with a known extension into a local tree that mirrors the remote paths,
and skips files that are already present so re-runs only fetch what is missing.`,
		Example: `  sitemirror -s https://example.com/docs -a https://example.com/docs -o ./mirror
  sitemirror --config mirror.yaml --timestamped`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.BindFlags(v, cmd, flagMappings); err != nil {
				return errors.Wrap(err, errors.ConfigurationError, "failed to bind flags")
			}

			cfg, err := config.LoadConfigWithViper(v, configFile)
			if err != nil {
				return errors.HandleError(err)
			}
			cfg.Seeds = append(cfg.Seeds, args...)

			appLogger, err := newLogger(cfg)
			if err != nil {
				return errors.HandleError(err)
			}
			defer appLogger.Close()

			if err := cfg.Validate(); err != nil {
				return errors.HandleError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, appLogger)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a config file (default config/config.yaml)")

	cmd.Flags().StringSliceP("seed", "s", nil, "Seed URL to start crawling from (repeatable)")
	cmd.Flags().StringSliceP("allow", "a", nil, "URL prefix pages must start with to be crawled (repeatable)")
	cmd.Flags().StringP("output", "o", "mirror", "Destination folder of the mirror")
	cmd.Flags().Bool("timestamped", false, "Write into a new YYYY-MM-DD_HH-MM-SS folder under the output")
	cmd.Flags().String("tree-file", "file_tree.json", "Name of the file tree written into the run folder")

	cmd.Flags().IntP("workers", "w", 6, "Maximum number of concurrent downloads")
	cmd.Flags().Int("timeout", 30, "Timeout for page loads and response headers in seconds")
	cmd.Flags().Int("validate-timeout", 10, "Timeout for the pre-download check in seconds")
	cmd.Flags().Int("retries", 2, "Retries for transient download failures")
	cmd.Flags().Duration("retry-delay", time.Second, "Delay before the first retry, doubled for each further one")
	cmd.Flags().Float64("rps", 0, "Maximum requests per second, 0 for unlimited")
	cmd.Flags().String("user-agent", "", "User agent sent with every request")
	cmd.Flags().StringSlice("ext", nil, "File extensions to download (default pdf,doc,docx,...)")
	cmd.Flags().StringSlice("skip", nil, "Skip links containing any of these substrings (default /search)")
	cmd.Flags().String("renderer", config.RendererHTTP, "Page renderer: http or chrome")
	cmd.Flags().Bool("respect-robots", false, "Do not crawl pages disallowed by robots.txt")

	cmd.Flags().String("folder-endpoint", "", "Base URL of the cloud folder API")
	cmd.Flags().StringSlice("folder", nil, "Cloud folder id to download (repeatable)")

	cmd.Flags().String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().String("log-output", "console", "Log output (console, file, both)")
	cmd.Flags().String("log-file-path", "sitemirror.log", "Path to log file")
	cmd.Flags().Bool("log-structured", false, "Write JSON logs to the console")
	cmd.Flags().Bool("log-no-color", false, "Disable colored console logs")

	cmd.Flags().Bool("telemetry-enabled", false, "Export metrics over OTLP/HTTP")
	cmd.Flags().String("telemetry-collector-url", "", "OTLP/HTTP collector endpoint (host:port)")

	cmd.AddCommand(newTreeCmd(), newInitConfigCmd())
	return cmd
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "invalid log level")
	}
	output, err := logger.ParseOutput(cfg.LogOutput)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "invalid log output")
	}

	l, err := logger.NewLogger(logger.LoggerConfig{
		Level:      level,
		Output:     output,
		FilePath:   cfg.LogFilePath,
		Structured: cfg.LogStructured,
		NoColor:    cfg.LogNoColor,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "failed to initialize logger")
	}
	return l, nil
}

func newLoader(cfg *config.Config, client *fetch.Client, appLogger *logger.Logger) (page.Loader, error) {
	if cfg.Renderer == config.RendererChrome {
		return page.NewChromeLoader(cfg.UserAgent, cfg.RequestTimeout(), appLogger)
	}
	return page.NewHTTPLoader(client, cfg.RequestTimeout()), nil
}

// run performs one mirror run. Only setup problems are returned; per-file
// failures are part of the logged summary.
func run(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) error {
	runID := uuid.NewString()

	runDir, err := storage.PrepareRunDir(cfg.Output, cfg.Timestamped, time.Now())
	if err != nil {
		return errors.HandleError(err)
	}
	store, err := storage.NewStorage(runDir, appLogger)
	if err != nil {
		return errors.HandleError(err)
	}

	metrics, err := telemetry.SetupMetrics(ctx, cfg, runID, appLogger)
	if err != nil {
		return errors.HandleError(err)
	}
	defer metrics.Close()

	client := fetch.NewClient(cfg, appLogger)
	loader, err := newLoader(cfg, client, appLogger)
	if err != nil {
		return errors.HandleError(err)
	}
	defer func() {
		select {
		case <-loader.Close():
		case <-time.After(loaderShutdown):
			appLogger.Warn("Page renderer still shutting down", map[string]interface{}{"waited": loaderShutdown.String()})
		}
	}()

	opts := []crawler.Option{crawler.WithRunID(runID), crawler.WithMetrics(metrics)}
	if len(cfg.Folders) > 0 {
		opts = append(opts, crawler.WithFolderSource(folder.NewHTTPLister(cfg.FolderEndpoint, client)))
	}

	appLogger.Info("Starting sitemirror", map[string]interface{}{
		"run_id":   runID,
		"seeds":    cfg.Seeds,
		"allowed":  cfg.AllowedDomains,
		"output":   runDir,
		"renderer": cfg.Renderer,
		"workers":  cfg.Workers,
	})

	c := crawler.NewCrawler(cfg, appLogger, client, loader, store, opts...)
	summary, err := c.Run(ctx)
	if errors.IsCanceled(err) {
		appLogger.Warn("Run stopped before completion", map[string]interface{}{
			"run_id":   runID,
			"missing":  len(summary.Missing),
			"failures": len(summary.Failures),
		})
		return nil
	}
	return err
}

// exitCode maps a command error to the process status: 2 for setup defects
// in configuration or input, 1 for anything else
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsFatal(err):
		return 2
	default:
		return 1
	}
}

func newTreeCmd() *cobra.Command {
	var showMissing bool

	cmd := &cobra.Command{
		Use:   "tree <file-tree.json | run-folder>",
		Short: "Report how much of a persisted file tree is present on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, config.DefaultConfig().TreeFile)
			}

			report, err := storage.ReadFileTree(path)
			if err != nil {
				return err
			}
			status := report.Check()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "folders: %d\n", status.Folders)
			fmt.Fprintf(out, "files:   %d\n", status.Files)
			fmt.Fprintf(out, "present: %d (%d bytes)\n", status.Present, status.Bytes)
			fmt.Fprintf(out, "missing: %d\n", len(status.Missing))
			if showMissing {
				for _, m := range status.Missing {
					fmt.Fprintf(out, "  %s\n", m)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showMissing, "missing", "m", false, "List the missing files")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a config file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join("config", "config.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefaultConfigFile(path); err != nil {
				return errors.Wrap(err, errors.ConfigurationError, "failed to write config file")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", path)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI '%s'\n", err)
		os.Exit(exitCode(err))
	}
}
