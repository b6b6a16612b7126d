// Package db provides SurrealDB query functions for job records.
package db

import (
	"context"
	"fmt"

	"github.com/lindqvist/mapfold/internal/models"
)

// CreateJob persists a new job record and returns it with the assigned ID.
func (c *Client) CreateJob(ctx context.Context, job *models.QueryJob) (*models.QueryJob, error) {
	scopeIDs := job.ScopeIDs
	if scopeIDs == nil {
		scopeIDs = []string{}
	}

	sql := `
		CREATE job SET
			user_id = $user_id,
			conversation_id = $conversation_id,
			message_id = $message_id,
			job_type = $job_type,
			intent = $intent,
			query = $query,
			scope_ids = $scope_ids,
			status = $status,
			phase = $phase,
			progress = $progress,
			estimated_seconds = $estimated_seconds
		RETURN AFTER
	`

	rows, err := queryRows[models.QueryJob](ctx, c, sql, map[string]any{
		"user_id":           job.UserID,
		"conversation_id":   job.ConversationID,
		"message_id":        job.MessageID,
		"job_type":          job.JobType,
		"intent":            job.Intent,
		"query":             job.Query,
		"scope_ids":         scopeIDs,
		"status":            job.Status,
		"phase":             job.Phase,
		"progress":          job.Progress,
		"estimated_seconds": job.EstimatedSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create job: no result returned")
	}
	return &rows[0], nil
}

// GetJob retrieves a job by ID, scoped to its owner. Returns ErrNotFound for
// missing jobs and for jobs owned by another user, indistinguishably.
func (c *Client) GetJob(ctx context.Context, id, userID string) (*models.QueryJob, error) {
	rows, err := queryRows[models.QueryJob](ctx, c, `
		SELECT * FROM type::record("job", $id) WHERE user_id = $user_id
	`, map[string]any{"id": id, "user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	return &rows[0], nil
}

// ListJobsOptions narrows a job listing.
type ListJobsOptions struct {
	ConversationID *string
	Status         *models.JobStatus
	Limit          int
}

// ListJobs returns the user's jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, userID string, opts ListJobsOptions) ([]models.QueryJob, error) {
	filterClause := ""
	vars := map[string]any{"user_id": userID, "limit": opts.Limit}
	if opts.Limit <= 0 {
		vars["limit"] = 50
	}
	if opts.ConversationID != nil {
		filterClause += " AND conversation_id = $conversation_id"
		vars["conversation_id"] = *opts.ConversationID
	}
	if opts.Status != nil {
		filterClause += " AND status = $status"
		vars["status"] = *opts.Status
	}

	sql := fmt.Sprintf(`
		SELECT * FROM job WHERE user_id = $user_id %s
		ORDER BY started_at DESC
		LIMIT $limit
	`, filterClause)

	rows, err := queryRows[models.QueryJob](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if rows == nil {
		rows = []models.QueryJob{}
	}
	return rows, nil
}

// UpdateJobStatus transitions status, phase and progress in one write.
func (c *Client) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, phase models.JobPhase, progress float64) error {
	err := c.exec(ctx, `
		UPDATE type::record("job", $id) SET
			status = $status,
			phase = $phase,
			progress = $progress
	`, map[string]any{"id": id, "status": status, "phase": phase, "progress": progress})
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// SetJobPlan records the batch plan once the map phase is laid out.
func (c *Client) SetJobPlan(ctx context.Context, id string, totalBatches, totalItems int) error {
	err := c.exec(ctx, `
		UPDATE type::record("job", $id) SET
			total_batches = $total_batches,
			total_items = $total_items
	`, map[string]any{"id": id, "total_batches": totalBatches, "total_items": totalItems})
	if err != nil {
		return fmt.Errorf("set job plan: %w", err)
	}
	return nil
}

// ApplyJobProgress atomically increments the batch counters and sets the
// current progress fraction. Deltas accumulate server-side so concurrent
// workers never lose counts.
func (c *Client) ApplyJobProgress(ctx context.Context, id string, progress float64, batchDelta, itemDelta, failedDelta int) error {
	err := c.exec(ctx, `
		UPDATE type::record("job", $id) SET
			processed_batches += $batches,
			processed_items += $items,
			failed_batches += $failed,
			progress = $progress
	`, map[string]any{
		"id":       id,
		"batches":  batchDelta,
		"items":    itemDelta,
		"failed":   failedDelta,
		"progress": progress,
	})
	if err != nil {
		return fmt.Errorf("apply job progress: %w", err)
	}
	return nil
}

// CompleteJob marks the job completed with its result payloads.
func (c *Client) CompleteJob(
	ctx context.Context,
	id string,
	result *models.JobResult,
	details *models.AggregationDetails,
	mapResults []models.MapResult,
	actualSeconds float64,
) error {
	err := c.exec(ctx, `
		UPDATE type::record("job", $id) SET
			status = $status,
			phase = $phase,
			progress = 1.0,
			result = $result,
			aggregation_details = $details,
			map_results = $map_results,
			completed_at = time::now(),
			actual_seconds = $actual_seconds
	`, map[string]any{
		"id":             id,
		"status":         models.JobStatusCompleted,
		"phase":          models.PhaseComplete,
		"result":         result,
		"details":        details,
		"map_results":    mapResults,
		"actual_seconds": actualSeconds,
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks the job failed with a machine-readable error kind and a
// human-readable message.
func (c *Client) FailJob(ctx context.Context, id, errorKind, errorMessage string, actualSeconds float64) error {
	err := c.exec(ctx, `
		UPDATE type::record("job", $id) SET
			status = $status,
			error_kind = $error_kind,
			error_message = $error_message,
			completed_at = time::now(),
			actual_seconds = $actual_seconds
	`, map[string]any{
		"id":             id,
		"status":         models.JobStatusFailed,
		"error_kind":     errorKind,
		"error_message":  errorMessage,
		"actual_seconds": actualSeconds,
	})
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// CancelJob marks the job cancelled. The WHERE guard makes the terminal
// check atomic with the write: a job that completed or failed in the
// meantime is never overwritten, and ErrJobNotCancellable is returned
// instead. Partial progress counters are left as they were when
// cancellation hit.
func (c *Client) CancelJob(ctx context.Context, id string, actualSeconds float64) error {
	rows, err := queryRows[models.QueryJob](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = $status,
			completed_at = time::now(),
			actual_seconds = $actual_seconds
		WHERE status IN [$queued, $processing]
		RETURN AFTER
	`, map[string]any{
		"id":             id,
		"status":         models.JobStatusCancelled,
		"queued":         models.JobStatusQueued,
		"processing":     models.JobStatusProcessing,
		"actual_seconds": actualSeconds,
	})
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("cancel job %s: %w", id, ErrJobNotCancellable)
	}
	return nil
}
