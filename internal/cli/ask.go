package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lindqvist/mapfold/internal/client"
	"github.com/lindqvist/mapfold/internal/models"
	"github.com/lindqvist/mapfold/internal/service"
)

var (
	askConversation string
	askScopes       []string
	askNoWait       bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over your knowledge base",
	Long: `Ask a question. Quick questions are answered immediately; aggregations
and whole-scope summaries run as a background job with a live progress bar.

Examples:
  mapfold ask "what color was the car in the accident report?"
  mapfold ask --scope receipts "what is the total of all invoices?"
  mapfold ask --no-wait "summarize everything in this folder"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "conversation ID (a new one is created when omitted)")
	askCmd.Flags().StringSliceVarP(&askScopes, "scope", "s", nil, "scope IDs to query (default: all scopes)")
	askCmd.Flags().BoolVar(&askNoWait, "no-wait", false, "don't wait for async jobs, print the job ID and return")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	question := strings.Join(args, " ")

	conversationID := askConversation
	if conversationID == "" {
		conv, err := apiClient.CreateConversation(ctx, "")
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		conversationID = models.MustRecordIDString(conv.ID)
	}

	resp, err := apiClient.Ask(ctx, client.AskInput{
		ConversationID: conversationID,
		Query:          question,
		ScopeIDs:       askScopes,
	})
	if err != nil {
		return err
	}

	if !resp.Async {
		fmt.Println(resp.Answer)
		printQuickSources(resp.Sources)
		return nil
	}

	jobID := models.MustRecordIDString(resp.Job.ID)
	fmt.Printf("Processing %d items in the background (estimated %.0fs)...\n",
		resp.Intent.EstimatedItems, resp.Job.EstimatedSeconds)

	if askNoWait {
		fmt.Printf("Job %s started. Use 'mapfold watch %s' to follow it.\n", jobID, jobID)
		return nil
	}

	job, err := RunJobProgress(apiClient, resp.Job)
	if err != nil {
		return err
	}
	if job != nil {
		printJobResult(job)
	}
	return nil
}

func printQuickSources(sources []service.SourceRef) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, s := range sources {
		fmt.Printf("  • %s (%.0f%%)\n", s.Title, s.Similarity*100)
	}
}

func printJobResult(job *models.QueryJob) {
	if job.Result == nil {
		return
	}
	fmt.Printf("\n%s\n", job.Result.Response)

	if d := job.AggregationDetails; d != nil {
		p := d.Processing
		fmt.Printf("\nProcessed %d of %d items in %d batches", p.ItemsProcessed, p.TotalItemsInScope, p.BatchesProcessed)
		if p.BatchesFailed > 0 {
			fmt.Printf(" (%d batches failed)", p.BatchesFailed)
		}
		fmt.Printf(", confidence %.0f%%\n", d.Confidence*100)
	}
	if len(job.Result.Sources) > 0 {
		fmt.Println("\nTop sources:")
		for _, s := range job.Result.Sources {
			line := fmt.Sprintf("  • %s: %g", s.Source, s.Value)
			if s.Unit != "" {
				line += " " + s.Unit
			}
			if s.Date != "" {
				line += " (" + s.Date + ")"
			}
			fmt.Println(line)
		}
	}
}
