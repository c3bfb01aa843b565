// Package main provides the pdfcbz command line entrypoint.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

const version = "1.0.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	logLevel   string

	cfg      *config.Config
	logger   *observability.Logger
	ui       *UI
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "pdfcbz",
	Short: "Convert PDFs to comic book archives and back",
	Long: `pdfcbz converts PDF documents to CBZ archives, one image per page, and
CBZ/CBR archives back to PDF.

Pages that are a single embedded image are extracted without re-rendering;
all other pages are rendered at the requested DPI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Observability.LogLevel = logLevel
		}

		var out io.Writer
		out, closeLog, err = observability.OpenOutput(cfg.Observability.LogOutput)
		if err != nil {
			return err
		}
		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      logFormat,
			Output:      out,
			ServiceName: "pdfcbz",
		})
		ui = NewUI(outputJSON, noColor)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: defaults and PDFCBZ_* env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPdfToCbzCmd())
	rootCmd.AddCommand(newCbzToPdfCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newSmokeRenderCmd())
	rootCmd.AddCommand(newPreviewCmd())
	rootCmd.AddCommand(newBenchmarkCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, stopping after the current page...")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ui == nil {
			ui = NewUI(false, noColor)
		}
		msg := domain.UserMessage(err)
		if domain.TypeOf(err) == "" {
			msg = err.Error()
		}
		ui.Error("%s", msg)
		if logger != nil {
			logger.Debug().Err(err).Str("type", string(domain.TypeOf(err))).Msg("command failed")
		}
		os.Exit(1)
	}
}

// newApp wires the conversion stack for a command.
func newApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), cfg, logger, app.ModeCLI, app.Options{})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return ui.JSON(map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
			}
			fmt.Printf("pdfcbz v%s (%s)\n", version, runtime.Version())
			return nil
		},
	}
}
