package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/app"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

var (
	ingestWait         bool
	ingestPollInterval = 250 * time.Millisecond
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Queue documents for ingestion",
	Long: `Queues one ingestion job per file. With a redis or postgres queue a
running worker (serve worker) picks the jobs up; --wait blocks until they
finish. The in-process memory queue always runs the jobs before returning.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "wait for the jobs to finish")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	jobs := make([]*domain.IngestionJob, 0, len(args))
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		job, err := a.Ingestion.Submit(ctx, path, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("ingest %s: %w", arg, err)
		}
		cmd.Printf("queued %s as %s\n", job.OriginalName, job.ID)
		jobs = append(jobs, job)
	}

	inProcess := a.Config.Queue.Backend == config.BackendMemory
	if !ingestWait && !inProcess {
		return nil
	}

	if inProcess {
		w := a.NewWorker()
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer w.Stop()
	}

	return waitForJobs(ctx, cmd, a, jobs)
}

// waitForJobs polls until every job is terminal and reports the outcome
func waitForJobs(ctx context.Context, cmd *cobra.Command, a *app.App, jobs []*domain.IngestionJob) error {
	ticker := time.NewTicker(ingestPollInterval)
	defer ticker.Stop()

	failed := 0
	for _, job := range jobs {
		for {
			current, err := a.Ingestion.GetJob(ctx, job.ID)
			if err != nil {
				return fmt.Errorf("get job %s: %w", job.ID, err)
			}
			if current.Status.IsTerminal() {
				if current.Status == domain.JobStatusFailed {
					failed++
					cmd.Printf("failed    %s: %s\n", current.OriginalName, current.Error)
				} else {
					cmd.Printf("completed %s (%d chunks)\n", current.OriginalName, current.ChunkCount)
				}
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}
