package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/intent"
	"github.com/lindqvist/mapfold/internal/models"
)

// New conversations are titled from their first query, truncated on a word
// boundary.
const titleMaxLen = 80

// AskRequest is one user query against a scope.
type AskRequest struct {
	UserID         string
	ConversationID string
	Query          string
	ScopeIDs       []string
}

// AskResponse is either a synchronous answer or a handle to an async job,
// depending on how the query was routed.
type AskResponse struct {
	Async  bool                  `json:"async"`
	Intent models.IntentDecision `json:"intent"`

	Answer  string      `json:"answer,omitempty"`
	Sources []SourceRef `json:"sources,omitempty"`

	Job *models.QueryJob `json:"job,omitempty"`
}

// QueryService is the front door of the engine: it records the user's
// message, classifies the query and routes it to the quick path or to an
// async map-reduce job.
type QueryService struct {
	scope      ScopeStore
	messages   MessageStore
	classifier *intent.Classifier
	quick      *QuickAnswerer
	orch       *Orchestrator
}

// NewQueryService wires the routing layer.
func NewQueryService(
	scope ScopeStore,
	messages MessageStore,
	classifier *intent.Classifier,
	quick *QuickAnswerer,
	orch *Orchestrator,
) *QueryService {
	return &QueryService{
		scope:      scope,
		messages:   messages,
		classifier: classifier,
		quick:      quick,
		orch:       orch,
	}
}

// Ask handles one query end to end up to the routing decision. Async queries
// return immediately with the queued job; quick queries return the answer.
func (s *QueryService) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("ask: empty query")
	}

	conv, err := s.messages.GetConversation(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.messages.CreateMessage(ctx, db.MessageInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           models.RoleUser,
		Content:        query,
	})
	if err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	if conv.Title == "" {
		title := TruncateTitle(query, titleMaxLen)
		if err := s.messages.UpdateConversationTitle(ctx, req.ConversationID, title); err != nil {
			slog.Warn("failed to auto-title conversation", "conversation_id", req.ConversationID, "error", err)
		}
	}

	scopeCount, err := s.scope.CountScopeItems(ctx, req.UserID, req.ScopeIDs)
	if err != nil {
		return nil, err
	}

	decision := s.classifier.Classify(ctx, query, scopeCount)
	slog.Info("query classified",
		"intent", decision.Type,
		"confidence", decision.Confidence,
		"async", decision.RequiresAsync,
		"estimated_seconds", decision.EstimatedSeconds,
		"scope_items", scopeCount)

	if decision.RequiresAsync {
		messageID := models.MustRecordIDString(userMsg.ID)
		job, err := s.orch.CreateAsyncJob(ctx, req.UserID, req.ConversationID, &messageID, query, req.ScopeIDs, decision)
		if err != nil {
			return nil, err
		}
		return &AskResponse{Async: true, Intent: decision, Job: job}, nil
	}

	answer, sources, err := s.quick.Answer(ctx, req.UserID, req.ScopeIDs, query)
	if err != nil {
		return nil, err
	}

	_, err = s.messages.CreateMessage(ctx, db.MessageInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           models.RoleAssistant,
		Content:        answer,
		Metadata:       map[string]any{"sources": sources},
	})
	if err != nil {
		slog.Warn("failed to store quick answer message", "conversation_id", req.ConversationID, "error", err)
	}

	return &AskResponse{Async: false, Intent: decision, Answer: answer, Sources: sources}, nil
}

// TruncateTitle shortens s to at most max runes, preferring to cut at the
// last word boundary and appending an ellipsis when truncated.
func TruncateTitle(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " .,;:") + "..."
}
