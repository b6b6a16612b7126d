package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lindqvist/mapfold/internal/client"
	"github.com/lindqvist/mapfold/internal/models"
)

var (
	jobsConversation string
	jobsStatus       string
	jobsLimit        int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect query jobs",
	Long: `List your query jobs or inspect a specific job by ID.

Examples:
  mapfold jobs                      # List recent jobs
  mapfold jobs --status processing  # Only running jobs
  mapfold jobs job:abc123           # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsConversation, "conversation", "", "filter by conversation ID")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (queued, processing, completed, failed, cancelled)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 0, "maximum number of jobs to list")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx, client.ListJobsOptions{
		ConversationID: jobsConversation,
		Status:         jobsStatus,
		Limit:          jobsLimit,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-14s %-22s %-12s %-10s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "STARTED")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.TotalBatches > 0 {
			progress = fmt.Sprintf("%d/%d", job.ProcessedBatches, job.TotalBatches)
		}
		started := job.StartedAt.Format("15:04:05")
		fmt.Printf("%-14s %-22s %-12s %-10s %s\n",
			models.MustRecordIDString(job.ID), job.JobType, job.Status, progress, started)
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", models.MustRecordIDString(job.ID))
	fmt.Printf("  Type: %s\n", job.JobType)
	fmt.Printf("  Query: %s\n", job.Query)
	fmt.Printf("  Status: %s (%s)\n", job.Status, job.Phase)
	fmt.Printf("  Progress: %.0f%%\n", job.Progress*100)
	if job.TotalBatches > 0 {
		fmt.Printf("  Batches: %d/%d", job.ProcessedBatches, job.TotalBatches)
		if job.FailedBatches > 0 {
			fmt.Printf(" (%d failed)", job.FailedBatches)
		}
		fmt.Println()
		fmt.Printf("  Items: %d/%d\n", job.ProcessedItems, job.TotalItems)
	}
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.ActualSeconds != nil {
		fmt.Printf("  Duration: %.1fs (estimated %.1fs)\n", *job.ActualSeconds, job.EstimatedSeconds)
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		kind := ""
		if job.ErrorKind != nil {
			kind = " [" + *job.ErrorKind + "]"
		}
		fmt.Printf("  Error%s: %s\n", kind, *job.ErrorMessage)
	}

	printJobResult(job)
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.CancelJob(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Cancellation requested for %s\n", args[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Watch a running job's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.GetJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job.Status.Terminal() {
			return showJob(context.Background(), args[0])
		}

		final, err := RunJobProgress(apiClient, job)
		if err != nil {
			return err
		}
		if final != nil {
			printJobResult(final)
		}
		return nil
	},
}
