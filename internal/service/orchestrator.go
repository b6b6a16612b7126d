package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lindqvist/mapfold/internal/config"
	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/mapreduce"
	"github.com/lindqvist/mapfold/internal/metrics"
	"github.com/lindqvist/mapfold/internal/models"
)

// ErrJobNotCancellable is returned when cancelling a job that already
// reached a terminal state. Aliased from db so the store's guarded cancel
// and the orchestrator's own check are indistinguishable to callers.
var ErrJobNotCancellable = db.ErrJobNotCancellable

// Persist progress every N resolved batches instead of on each one, to
// bound write amplification while keeping polling responsive.
const progressPersistEvery = 5

const emptyScopeAnswer = "The specified scope appears to be empty or has no processed items yet."

// Sources returned on the job result are a subset of the top items.
const resultSourcesCap = 10

// JobStore is the persistence surface the orchestrator drives.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.QueryJob) (*models.QueryJob, error)
	GetJob(ctx context.Context, id, userID string) (*models.QueryJob, error)
	ListJobs(ctx context.Context, userID string, opts db.ListJobsOptions) ([]models.QueryJob, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, phase models.JobPhase, progress float64) error
	SetJobPlan(ctx context.Context, id string, totalBatches, totalItems int) error
	ApplyJobProgress(ctx context.Context, id string, progress float64, batchDelta, itemDelta, failedDelta int) error
	CompleteJob(ctx context.Context, id string, result *models.JobResult, details *models.AggregationDetails, mapResults []models.MapResult, actualSeconds float64) error
	FailJob(ctx context.Context, id, errorKind, errorMessage string, actualSeconds float64) error
	CancelJob(ctx context.Context, id string, actualSeconds float64) error
}

// ScopeStore reads the scoped content the pipeline processes.
type ScopeStore interface {
	CountScopeItems(ctx context.Context, userID string, scopeIDs []string) (int, error)
	FetchItemsWithChunks(ctx context.Context, userID string, scopeIDs []string) ([]models.Item, error)
	SearchChunks(ctx context.Context, userID string, scopeIDs []string, embedding []float32, limit int) ([]db.ChunkHit, error)
}

// MessageStore posts answers into conversations.
type MessageStore interface {
	CreateMessage(ctx context.Context, input db.MessageInput) (*models.Message, error)
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Orchestrator owns the async job lifecycle: it creates jobs, drives the
// map-reduce pipeline in a background coordinator per job, persists progress
// and converts every failure mode into a terminal job state.
type Orchestrator struct {
	store    JobStore
	scope    ScopeStore
	messages MessageStore
	executor *mapreduce.Executor
	synth    *mapreduce.Synthesizer
	embedder Embedder
	jobs     *JobManager
	engine   config.Engine
}

// NewOrchestrator wires the pipeline components around the stores.
func NewOrchestrator(
	store JobStore,
	scope ScopeStore,
	messages MessageStore,
	model mapreduce.Completer,
	embedder Embedder,
	jobs *JobManager,
	engine config.Engine,
	collector *metrics.Collector,
) *Orchestrator {
	policy := mapreduce.Policy{MaxAttempts: engine.MapRetryAttempts, Delay: engine.MapRetryDelay}
	return &Orchestrator{
		store:    store,
		scope:    scope,
		messages: messages,
		executor: mapreduce.NewExecutor(model, policy, engine.MapWorkers, collector),
		synth:    mapreduce.NewSynthesizer(model),
		embedder: embedder,
		jobs:     jobs,
		engine:   engine,
	}
}

// CreateAsyncJob persists a queued job, starts its background coordinator
// and returns immediately. Idempotent within the dedup window: a duplicate
// request in the same conversation returns the in-flight job.
func (o *Orchestrator) CreateAsyncJob(
	ctx context.Context,
	userID, conversationID string,
	messageID *string,
	query string,
	scopeIDs []string,
	intent models.IntentDecision,
) (*models.QueryJob, error) {
	if existingID, ok := o.jobs.Reuse(conversationID, query); ok {
		existing, err := o.store.GetJob(ctx, existingID, userID)
		if err == nil {
			slog.Info("reusing in-flight job for duplicate query", "job_id", existingID, "conversation_id", conversationID)
			return existing, nil
		}
		slog.Warn("dedup hit but job lookup failed, creating new job", "job_id", existingID, "error", err)
	}

	job := &models.QueryJob{
		UserID:           userID,
		ConversationID:   conversationID,
		MessageID:        messageID,
		JobType:          intent.Type.JobType(),
		Intent:           intent,
		Query:            query,
		ScopeIDs:         scopeIDs,
		Status:           models.JobStatusQueued,
		Phase:            models.PhaseInitialization,
		EstimatedSeconds: intent.EstimatedSeconds,
	}

	created, err := o.store.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create async job: %w", err)
	}
	jobID := models.MustRecordIDString(created.ID)

	runCtx, cancel := context.WithTimeout(context.Background(), o.engine.JobTimeout)
	o.jobs.Track(jobID, userID, conversationID, query, cancel)

	go func() {
		defer cancel()
		defer o.jobs.Finish(jobID)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("job coordinator panicked", "job_id", jobID, "panic", r)
				_ = o.store.FailJob(context.Background(), jobID, models.ErrorKindSetup,
					fmt.Sprintf("internal panic: %v", r), time.Since(created.StartedAt).Seconds())
			}
		}()
		o.run(runCtx, jobID, created)
	}()

	slog.Info("async job created",
		"job_id", jobID,
		"job_type", created.JobType,
		"conversation_id", conversationID,
		"estimated_seconds", created.EstimatedSeconds)
	return created, nil
}

// GetJobStatus returns the persisted job for polling.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID, userID string) (*models.QueryJob, error) {
	return o.store.GetJob(ctx, jobID, userID)
}

// ListJobs returns the user's jobs with optional filters.
func (o *Orchestrator) ListJobs(ctx context.Context, userID string, opts db.ListJobsOptions) ([]models.QueryJob, error) {
	return o.store.ListJobs(ctx, userID, opts)
}

// CancelJob requests cooperative cancellation of a queued or processing job.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID, userID string) error {
	job, err := o.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobNotCancellable
	}

	// The coordinator observes the cancelled context at its next dispatch
	// boundary and persists the terminal state itself.
	if o.jobs.Cancel(jobID, userID) {
		slog.Info("job cancellation requested", "job_id", jobID)
		return nil
	}

	// No live coordinator (e.g. process restarted mid-job): persist directly.
	return o.store.CancelJob(ctx, jobID, time.Since(job.StartedAt).Seconds())
}

// run drives one job through the pipeline. Every exit path leaves the job in
// a terminal state. Terminal writes use a fresh context because the run
// context may already be cancelled or expired.
func (o *Orchestrator) run(ctx context.Context, jobID string, job *models.QueryJob) {
	start := time.Now()
	logg := slog.With("job_id", jobID)

	if err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing, models.PhaseInitialization, 0.0); err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}

	items, err := o.scope.FetchItemsWithChunks(ctx, job.UserID, job.ScopeIDs)
	if err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}
	if len(items) == 0 {
		o.completeTrivially(jobID, job, start, logg)
		return
	}

	ptrs := make([]*models.Item, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}

	// Optional semantic pre-filter before batching.
	if filter := job.Intent.Filter.SemanticFilter; filter != "" {
		filterEmbedding, err := o.embedder.Embed(ctx, filter)
		if err != nil {
			o.finishWithError(jobID, start, logg, err)
			return
		}
		threshold := job.Intent.Filter.Threshold
		if threshold <= 0 {
			threshold = 0.3
		}
		scored := mapreduce.FilterItems(ptrs, filterEmbedding, threshold)
		ptrs = mapreduce.Items(scored)
		logg.Info("semantic filter applied", "filter", filter, "items_remaining", len(ptrs))

		if len(ptrs) == 0 {
			o.completeTrivially(jobID, job, start, logg)
			return
		}
	}

	batches := mapreduce.Plan(ptrs, o.engine.TargetChunksPerBatch)
	if err := o.store.SetJobPlan(ctx, jobID, len(batches), len(ptrs)); err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}
	if err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing, models.PhaseMap, 0.1); err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}
	logg.Info("map phase started", "batches", len(batches), "items", len(ptrs))

	mapResults, failedBatches, err := o.executor.MapAll(ctx, batches, job.Query, job.Intent, o.progressSink(ctx, jobID, len(batches), logg))
	if err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}
	if failedBatches > 0 {
		logg.Warn("map phase finished with failed batches", "failed", failedBatches, "total", len(batches))
	}

	if err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing, models.PhaseReduce, 0.85); err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}
	summary := mapreduce.Aggregate(mapResults, job.Intent.Type)

	if err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing, models.PhaseSynthesis, 0.95); err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}
	answer, err := o.synth.Synthesize(ctx, job.Query, summary, job.Intent.Type)
	if err != nil {
		o.finishWithError(jobID, start, logg, err)
		return
	}

	details := mapreduce.BuildDetails(mapResults, summary, len(ptrs), job.JobType)
	sources := summary.TopItems
	if len(sources) > resultSourcesCap {
		sources = sources[:resultSourcesCap]
	}
	result := &models.JobResult{
		Response:     answer,
		Sources:      sources,
		ContextCount: len(ptrs),
	}

	actual := time.Since(start).Seconds()
	if err := o.store.CompleteJob(context.Background(), jobID, result, &details, mapResults, actual); err != nil {
		logg.Error("failed to persist job completion", "error", err)
		return
	}

	o.postAnswer(jobID, job, result, summary.Confidence, logg)
	logg.Info("job completed",
		"batches", len(batches),
		"failed_batches", failedBatches,
		"confidence", summary.Confidence,
		"actual_seconds", actual)
}

// progressSink returns the per-batch completion callback: it accumulates
// counter deltas and persists them every few batches. The store write stays
// under the lock so flushes reach the store in resolution order and the
// persisted progress fraction never regresses.
func (o *Orchestrator) progressSink(ctx context.Context, jobID string, totalBatches int, logg *slog.Logger) func(models.MapResult) {
	var mu sync.Mutex
	resolved := 0
	pendingBatches, pendingItems, pendingFailed := 0, 0, 0

	return func(res models.MapResult) {
		mu.Lock()
		defer mu.Unlock()

		resolved++
		pendingBatches++
		pendingItems += res.ItemsInBatch
		if res.Failed() {
			pendingFailed++
		}
		if resolved%progressPersistEvery != 0 && resolved != totalBatches {
			return
		}

		progress := 0.1 + 0.75*(float64(resolved)/float64(totalBatches))
		if err := o.store.ApplyJobProgress(ctx, jobID, progress, pendingBatches, pendingItems, pendingFailed); err != nil {
			logg.Warn("failed to persist job progress", "error", err)
		}
		pendingBatches, pendingItems, pendingFailed = 0, 0, 0
	}
}

// completeTrivially finishes a job whose scope is empty (before or after
// filtering) with a zero-cost result.
func (o *Orchestrator) completeTrivially(jobID string, job *models.QueryJob, start time.Time, logg *slog.Logger) {
	details := mapreduce.BuildDetails(nil, models.AggregationSummary{}, 0, job.JobType)
	result := &models.JobResult{Response: emptyScopeAnswer, Sources: []models.ExtractedRecord{}, ContextCount: 0}

	if err := o.store.CompleteJob(context.Background(), jobID, result, &details, nil, time.Since(start).Seconds()); err != nil {
		logg.Error("failed to persist trivial completion", "error", err)
		return
	}
	o.postAnswer(jobID, job, result, 0, logg)
	logg.Info("job completed trivially: empty scope")
}

// finishWithError converts a pipeline error into the matching terminal state.
func (o *Orchestrator) finishWithError(jobID string, start time.Time, logg *slog.Logger, err error) {
	actual := time.Since(start).Seconds()
	bg := context.Background()

	switch {
	case errors.Is(err, context.Canceled):
		if dbErr := o.store.CancelJob(bg, jobID, actual); dbErr != nil {
			logg.Error("failed to persist cancellation", "error", dbErr)
		}
		logg.Info("job cancelled", "actual_seconds", actual)

	case errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("job exceeded its %s budget", o.engine.JobTimeout)
		if dbErr := o.store.FailJob(bg, jobID, models.ErrorKindTimeout, msg, actual); dbErr != nil {
			logg.Error("failed to persist timeout failure", "error", dbErr)
		}
		logg.Error("job timed out", "budget", o.engine.JobTimeout)

	case errors.Is(err, mapreduce.ErrAllBatchesFailed):
		if dbErr := o.store.FailJob(bg, jobID, models.ErrorKindAllBatchesFailed, err.Error(), actual); dbErr != nil {
			logg.Error("failed to persist failure", "error", dbErr)
		}
		logg.Error("job failed: no batch produced a result")

	default:
		if dbErr := o.store.FailJob(bg, jobID, models.ErrorKindSetup, err.Error(), actual); dbErr != nil {
			logg.Error("failed to persist failure", "error", dbErr)
		}
		logg.Error("job failed", "error", err)
	}
}

// postAnswer writes the final answer into the conversation as an assistant
// message. Best effort: the job result is already persisted.
func (o *Orchestrator) postAnswer(jobID string, job *models.QueryJob, result *models.JobResult, confidence float64, logg *slog.Logger) {
	_, err := o.messages.CreateMessage(context.Background(), db.MessageInput{
		ConversationID: job.ConversationID,
		UserID:         job.UserID,
		Role:           models.RoleAssistant,
		Content:        result.Response,
		Metadata: map[string]any{
			"sources":       result.Sources,
			"context_count": result.ContextCount,
			"confidence":    confidence,
		},
		JobID: &jobID,
	})
	if err != nil {
		logg.Warn("failed to post answer message", "error", err)
	}
}
