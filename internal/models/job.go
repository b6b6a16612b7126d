// Package models defines data structures for the mapfold query engine.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobStatus is the authoritative lifecycle state of a query job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPhase is the informational pipeline phase while a job is processing.
// Status stays authoritative for terminality.
type JobPhase string

const (
	PhaseInitialization JobPhase = "initialization"
	PhaseMap            JobPhase = "map"
	PhaseReduce         JobPhase = "reduce"
	PhaseSynthesis      JobPhase = "synthesis"
	PhaseComplete       JobPhase = "complete"
)

// JobType mirrors the intent that spawned the job.
type JobType string

const (
	JobTypeAggregation         JobType = "aggregation"
	JobTypeFullScopeSummary    JobType = "full_scope_summary"
	JobTypeFilteredAggregation JobType = "filtered_aggregation"
)

// Error kinds recorded on failed jobs.
const (
	ErrorKindAllBatchesFailed = "all_batches_failed"
	ErrorKindTimeout          = "timeout"
	ErrorKindSetup            = "setup"
)

// JobResult is the user-facing outcome of a completed job.
type JobResult struct {
	Response     string            `json:"response"`
	Sources      []ExtractedRecord `json:"sources,omitempty"`
	ContextCount int               `json:"context_count"`
}

// QueryJob is the persisted unit of async map-reduce work.
type QueryJob struct {
	ID             surrealmodels.RecordID `json:"id"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id"`
	MessageID      *string                `json:"message_id,omitempty"`

	JobType  JobType        `json:"job_type"`
	Intent   IntentDecision `json:"intent"`
	Query    string         `json:"query"`
	ScopeIDs []string       `json:"scope_ids,omitempty"`

	Status           JobStatus `json:"status"`
	Phase            JobPhase  `json:"phase"`
	Progress         float64   `json:"progress"`
	TotalBatches     int       `json:"total_batches"`
	ProcessedBatches int       `json:"processed_batches"`
	FailedBatches    int       `json:"failed_batches"`
	TotalItems       int       `json:"total_items"`
	ProcessedItems   int       `json:"processed_items"`

	Result             *JobResult          `json:"result,omitempty"`
	AggregationDetails *AggregationDetails `json:"aggregation_details,omitempty"`
	MapResults         []MapResult         `json:"map_results,omitempty"`
	ErrorKind          *string             `json:"error_kind,omitempty"`
	ErrorMessage       *string             `json:"error_message,omitempty"`

	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	EstimatedSeconds float64    `json:"estimated_seconds"`
	ActualSeconds    *float64   `json:"actual_seconds,omitempty"`
}
