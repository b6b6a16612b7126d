package mapreduce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lindqvist/mapfold/internal/metrics"
	"github.com/lindqvist/mapfold/internal/models"
	"golang.org/x/sync/errgroup"
)

// ErrAllBatchesFailed signals a pipeline-level failure: no batch produced a
// usable result, so aggregation is not attempted.
var ErrAllBatchesFailed = errors.New("all batches failed to process")

const (
	mapMaxTokens   = 1000
	mapTemperature = 0.1
)

// Completer is the text-generation round trip the map and synthesis phases
// depend on.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Executor runs the map phase: one extraction call per batch on a bounded
// worker pool with per-batch retries and failure isolation.
type Executor struct {
	model     Completer
	policy    Policy
	workers   int
	collector *metrics.Collector
}

// NewExecutor creates a map executor. workers bounds the pool width.
func NewExecutor(model Completer, policy Policy, workers int, collector *metrics.Collector) *Executor {
	if workers <= 0 {
		workers = 10
	}
	return &Executor{model: model, policy: policy, workers: workers, collector: collector}
}

// MapAll dispatches all batches in planner order on the worker pool and
// waits for completion. onBatchDone is invoked once per resolved batch
// (success or failure) from worker goroutines; it must be safe for
// concurrent use.
//
// A failed batch is recorded and isolated: siblings keep running. Returns
// ErrAllBatchesFailed when nothing succeeded, and the context error when
// cancellation is observed at a dispatch boundary.
func (e *Executor) MapAll(
	ctx context.Context,
	batches []models.Batch,
	query string,
	intent models.IntentDecision,
	onBatchDone func(models.MapResult),
) ([]models.MapResult, int, error) {
	results := make([]models.MapResult, len(batches))

	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	dispatched := 0
	for i, batch := range batches {
		// Cancellation checkpoint: stop dispatching, let in-flight calls
		// drain. Their results are discarded by the caller.
		if ctx.Err() != nil {
			break
		}
		dispatched++

		g.Go(func() error {
			res := e.processBatch(ctx, batch, query, intent)
			results[i] = res
			if onBatchDone != nil {
				onBatchDone(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if dispatched > 0 && failed == dispatched {
		return results, failed, ErrAllBatchesFailed
	}
	return results, failed, nil
}

// processBatch runs one extraction call with retries. Exhausted retries
// yield a failed MapResult, never an error.
func (e *Executor) processBatch(ctx context.Context, batch models.Batch, query string, intent models.IntentDecision) models.MapResult {
	prompt := buildMapPrompt(query, intent.Type, buildBatchContext(batch))
	userPrompt := fmt.Sprintf("Process this batch and extract relevant information for: %s", query)

	start := time.Now()
	var result models.MapResult
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		reply, err := e.model.Complete(ctx, prompt, userPrompt, mapMaxTokens, mapTemperature)
		if err != nil {
			return err
		}
		var parsed models.MapResult
		if err := json.Unmarshal([]byte(stripCodeFences(reply)), &parsed); err != nil {
			return fmt.Errorf("parse map reply: %w", err)
		}
		result = parsed
		return nil
	})
	if e.collector != nil {
		e.collector.RecordTiming(metrics.OpMapBatch, time.Since(start))
	}

	result.BatchIndex = batch.Index
	result.ItemsInBatch = len(batch.Items)
	if err != nil {
		slog.Error("map batch failed permanently", "batch", batch.Index, "items", len(batch.Items), "error", err)
		result.Relevant = false
		result.Error = err.Error()
	}
	return result
}
