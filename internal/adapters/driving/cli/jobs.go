package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsOffset int
	jobsJSON   bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and maintain ingestion jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove finished jobs older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runJobsPurge,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	Args:  cobra.NoArgs,
	RunE:  runJobsStats,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (pending, processing, completed, failed)")
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "maximum number of jobs")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "number of jobs to skip")
	jobsCmd.PersistentFlags().BoolVar(&jobsJSON, "json", false, "output as JSON")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsPurgeCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	status := domain.JobStatus(jobsStatus)
	switch status {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, jobsStatus)
	}

	ctx := commandContext(cmd)
	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	jobs, err := a.Ingestion.ListJobs(ctx, driven.JobFilter{Status: status, Limit: jobsLimit, Offset: jobsOffset})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if jobsJSON {
		return printJSON(cmd, jobs)
	}
	if len(jobs) == 0 {
		cmd.Println("No jobs found.")
		return nil
	}
	for _, job := range jobs {
		cmd.Printf("%s  %-10s %-12s %d/%d  %s\n",
			job.ID, job.Status, job.Stage, job.Attempts, job.MaxAttempts, job.SourceRef())
	}
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	job, err := a.Ingestion.GetJob(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if jobsJSON {
		return printJSON(cmd, job)
	}

	cmd.Printf("ID:        %s\n", job.ID)
	cmd.Printf("Source:    %s\n", job.SourceRef())
	cmd.Printf("Status:    %s\n", job.Status)
	cmd.Printf("Stage:     %s\n", job.Stage)
	cmd.Printf("Attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
	cmd.Printf("Received:  %s\n", job.ReceivedAt.Format("2006-01-02 15:04:05"))
	if job.ChunkCount > 0 {
		cmd.Printf("Chunks:    %d\n", job.ChunkCount)
	}
	if job.Error != "" {
		cmd.Printf("Error:     %s\n", job.Error)
	}
	return nil
}

func runJobsPurge(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	n, err := a.Ingestion.PurgeJobs(ctx)
	if err != nil {
		return fmt.Errorf("purge jobs: %w", err)
	}
	if jobsJSON {
		return printJSON(cmd, map[string]int{"purged": n})
	}
	cmd.Printf("Purged %d jobs\n", n)
	return nil
}

func runJobsStats(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	stats, err := a.Ingestion.Stats(ctx)
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}
	if jobsJSON {
		return printJSON(cmd, stats)
	}
	cmd.Printf("Pending:    %d\n", stats.PendingCount)
	cmd.Printf("Processing: %d\n", stats.ProcessingCount)
	cmd.Printf("Completed:  %d\n", stats.CompletedCount)
	cmd.Printf("Failed:     %d\n", stats.FailedCount)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
