package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driving/watch"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

var (
	watchExisting bool
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Queue files as they change in watched directories",
	Long: `Watches directories recursively and queues an ingestion job for every
supported file that is created or modified. Hidden files and directories are
skipped. Deleting a file does not remove its chunks from the index.

With the in-process memory queue an ingestion worker runs alongside the
watcher.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "queue files already present at start")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period before a changed file is queued")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	if a.Config.Queue.Backend == config.BackendMemory {
		w := a.NewWorker()
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer w.Stop()
	}

	watcher := watch.New(a.Ingestion, watch.Config{
		Dirs:           args,
		Debounce:       watchDebounce,
		IngestExisting: watchExisting,
		OnSubmit: func(job *domain.IngestionJob) {
			cmd.Printf("queued %s as %s\n", job.OriginalName, job.ID)
		},
		Logger: a.Logger,
	})
	return watcher.Run(ctx)
}
