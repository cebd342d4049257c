package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/custodia-labs/sercha-rag/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-rag/internal/app"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// Run modes
const (
	modeAPI    = "api"
	modeWorker = "worker"
	modeAll    = "all"
)

var serveCmd = &cobra.Command{
	Use:   "serve [api|worker|all]",
	Short: "Run the HTTP API, the ingestion worker pool, or both",
	Long: `Runs the service until interrupted.

  api     HTTP upload and chat endpoints only
  worker  ingestion workers only
  all     both in one process (default, required for the memory queue)

The mode can also be set with RUN_MODE.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{modeAPI, modeWorker, modeAll},
	RunE:      runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	mode := os.Getenv("RUN_MODE")
	if len(args) > 0 {
		mode = args[0]
	}
	if mode == "" {
		mode = modeAll
	}
	switch mode {
	case modeAPI, modeWorker, modeAll:
	default:
		return fmt.Errorf("unknown mode %q (use: api, worker, or all)", mode)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openStack(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer closeStack(a)

	if mode != modeAll && a.Config.Queue.Backend == config.BackendMemory {
		a.Logger.Warn("the memory queue is not shared between processes, use serve all or a redis/postgres queue",
			"mode", mode)
	}
	a.Logger.Info("sercha-rag starting", "version", version, "mode", mode)

	g, ctx := errgroup.WithContext(ctx)
	if mode == modeWorker || mode == modeAll {
		g.Go(func() error { return runWorker(ctx, a) })
	}
	if mode == modeAPI || mode == modeAll {
		g.Go(func() error { return newServer(a).Run(ctx) })
	}
	return g.Wait()
}

// runWorker processes jobs until ctx is cancelled, then drains in-flight jobs
func runWorker(ctx context.Context, a *app.App) error {
	w := a.NewWorker()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()

	a.Logger.Info("stopping worker")
	w.Stop()
	return nil
}

func newServer(a *app.App) *httpadapter.Server {
	cfg := a.Config.Server
	return httpadapter.NewServer(httpadapter.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Version:         version,
		UploadDir:       cfg.UploadDir,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          a.Logger,
	}, a.Ingestion, a.Chat, readinessChecks(a))
}

func readinessChecks(a *app.App) map[string]httpadapter.Check {
	return map[string]httpadapter.Check{
		"queue": a.Queue.Ping,
		"index": a.Index.HealthCheck,
		"embedding": func(ctx context.Context) error {
			e := a.Services.Embedder()
			if e == nil {
				return fmt.Errorf("%w: not configured", domain.ErrEmbeddingUnavailable)
			}
			return e.HealthCheck(ctx)
		},
		"generator": func(context.Context) error {
			if a.Services.Generator() == nil {
				return fmt.Errorf("%w: not configured", domain.ErrGenerationUnavailable)
			}
			return nil
		},
	}
}
