// Package cli is the command-line driving adapter.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/app"
	"github.com/custodia-labs/sercha-rag/internal/config"
)

// version is set at build time with -ldflags "-X .../cli.version=..."
var version = "dev"

var configPath string

// loadConfig is replaced in tests
var loadConfig = config.Load

var rootCmd = &cobra.Command{
	Use:   "sercha-rag",
	Short: "Document ingestion and question answering over your files",
	Long: `sercha-rag ingests documents (PDF, Word, Excel, PowerPoint, Markdown, text)
into a vector index through a job queue and answers questions about them
using the most similar passages as context.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion overrides the reported version
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("config file (default %s when present)", config.DefaultPath))
}

// openStack loads configuration, installs the configured logger and opens
// the backends. The caller closes the returned app.
func openStack(ctx context.Context, cmd *cobra.Command, checkProviders bool) (*app.App, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a, err := app.Open(ctx, cfg, app.Options{Logger: logger, CheckProviders: checkProviders})
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return a, nil
}

// commandContext is the command's context, or Background when run outside Execute
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func closeStack(a *app.App) {
	if err := a.Close(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Warn("close failed", "error", err)
	}
}
