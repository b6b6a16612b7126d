package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/lindqvist/mapfold/internal/config"
	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/models"
)

// fakeJobStore keeps jobs in memory and records every state transition.
type fakeJobStore struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*models.QueryJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.QueryJob)}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *models.QueryJob) (*models.QueryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("j%d", s.seq)
	stored := *job
	stored.ID = surrealmodels.RecordID{Table: "job", ID: id}
	stored.StartedAt = time.Now()
	s.jobs[id] = &stored
	out := stored
	return &out, nil
}

func (s *fakeJobStore) GetJob(_ context.Context, id, userID string) (*models.QueryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return nil, fmt.Errorf("get job %s: %w", id, db.ErrNotFound)
	}
	out := *job
	return &out, nil
}

func (s *fakeJobStore) ListJobs(_ context.Context, userID string, _ db.ListJobsOptions) ([]models.QueryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueryJob
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeJobStore) UpdateJobStatus(_ context.Context, id string, status models.JobStatus, phase models.JobPhase, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = status
	job.Phase = phase
	job.Progress = progress
	return nil
}

func (s *fakeJobStore) SetJobPlan(_ context.Context, id string, totalBatches, totalItems int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].TotalBatches = totalBatches
	s.jobs[id].TotalItems = totalItems
	return nil
}

func (s *fakeJobStore) ApplyJobProgress(_ context.Context, id string, progress float64, batchDelta, itemDelta, failedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.ProcessedBatches += batchDelta
	job.ProcessedItems += itemDelta
	job.FailedBatches += failedDelta
	job.Progress = progress
	return nil
}

func (s *fakeJobStore) CompleteJob(_ context.Context, id string, result *models.JobResult, details *models.AggregationDetails, mapResults []models.MapResult, actualSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = models.JobStatusCompleted
	job.Phase = models.PhaseComplete
	job.Progress = 1.0
	job.Result = result
	job.AggregationDetails = details
	job.MapResults = mapResults
	job.ActualSeconds = &actualSeconds
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (s *fakeJobStore) FailJob(_ context.Context, id, errorKind, errorMessage string, actualSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = models.JobStatusFailed
	job.ErrorKind = &errorKind
	job.ErrorMessage = &errorMessage
	job.ActualSeconds = &actualSeconds
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

// CancelJob mirrors the store's guarded write: terminal jobs are left alone.
func (s *fakeJobStore) CancelJob(_ context.Context, id string, actualSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status.Terminal() {
		return fmt.Errorf("cancel job %s: %w", id, db.ErrJobNotCancellable)
	}
	job.Status = models.JobStatusCancelled
	job.ActualSeconds = &actualSeconds
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (s *fakeJobStore) get(id string) *models.QueryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	out := *job
	return &out
}

type fakeScopeStore struct {
	items []models.Item
	hits  []db.ChunkHit
}

func (s *fakeScopeStore) CountScopeItems(context.Context, string, []string) (int, error) {
	return len(s.items), nil
}

func (s *fakeScopeStore) FetchItemsWithChunks(context.Context, string, []string) ([]models.Item, error) {
	return s.items, nil
}

func (s *fakeScopeStore) SearchChunks(context.Context, string, []string, []float32, int) ([]db.ChunkHit, error) {
	return s.hits, nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	conv     models.Conversation
	messages []db.MessageInput
	titles   []string
}

func (s *fakeMessageStore) CreateMessage(_ context.Context, input db.MessageInput) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, input)
	return &models.Message{
		ID:      surrealmodels.RecordID{Table: "message", ID: fmt.Sprintf("m%d", len(s.messages))},
		UserID:  input.UserID,
		Role:    input.Role,
		Content: input.Content,
	}, nil
}

func (s *fakeMessageStore) GetConversation(_ context.Context, id, userID string) (*models.Conversation, error) {
	if userID != s.conv.UserID {
		return nil, fmt.Errorf("get conversation %s: %w", id, db.ErrNotFound)
	}
	out := s.conv
	return &out, nil
}

func (s *fakeMessageStore) UpdateConversationTitle(_ context.Context, _ string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *fakeMessageStore) byRole(role string) []db.MessageInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.MessageInput
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// fakeServiceModel dispatches on prompt content so one fake can serve the
// classifier, the map phase, synthesis and quick answers.
type fakeServiceModel struct {
	mu       sync.Mutex
	calls    int
	mapReply string
	mapErr   error
	block    chan struct{}
}

const serviceMapReply = `{"relevant": true, "extracted_data": [{"source": "inv", "value": 10, "date": "2024-12-01", "category": "ops"}], "item_count": 2}`

func (m *fakeServiceModel) Complete(ctx context.Context, systemPrompt, userPrompt string, _ int, _ float64) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if strings.Contains(userPrompt, "Generate final response for:") {
		return "The total is 10.", nil
	}
	if m.mapErr != nil {
		return "", m.mapErr
	}
	if m.mapReply != "" {
		return m.mapReply, nil
	}
	return serviceMapReply, nil
}

func scopeItems(n, chunksEach int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{
			ID:      surrealmodels.RecordID{Table: "item", ID: fmt.Sprintf("i%d", i)},
			UserID:  "u1",
			ScopeID: "s1",
			Title:   fmt.Sprintf("item-%d", i),
			Chunks:  make([]models.Chunk, chunksEach),
		}
		for j := range items[i].Chunks {
			items[i].Chunks[j] = models.Chunk{Position: j, Preview: "text", Embedding: []float32{1, 0, 0}}
		}
	}
	return items
}

func testEngine() config.Engine {
	return config.Engine{
		TargetChunksPerBatch: 10,
		MapWorkers:           4,
		MapRetryAttempts:     2,
		MapRetryDelay:        5 * time.Millisecond,
		JobTimeout:           5 * time.Second,
		AsyncThreshold:       5 * time.Second,
		DedupWindow:          30 * time.Second,
	}
}

func newTestOrchestrator(store *fakeJobStore, scope *fakeScopeStore, msgs *fakeMessageStore, model *fakeServiceModel) *Orchestrator {
	return NewOrchestrator(store, scope, msgs, model, fakeEmbedder{}, NewJobManager(30*time.Second), testEngine(), nil)
}

func asyncIntent() models.IntentDecision {
	return models.IntentDecision{
		Type:             models.IntentAggregation,
		Confidence:       0.9,
		RequiresAsync:    true,
		EstimatedItems:   30,
		EstimatedSeconds: 6,
	}
}

func waitTerminal(t *testing.T, store *fakeJobStore, id string) *models.QueryJob {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job := store.get(id); job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func TestCreateAsyncJobRunsToCompletion(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(30, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	o := newTestOrchestrator(store, scope, msgs, &fakeServiceModel{})

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total invoices?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	if created.Status != models.JobStatusQueued {
		t.Fatalf("status = %s, want queued", created.Status)
	}

	job := waitTerminal(t, store, models.MustRecordIDString(created.ID))
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%v), want completed", job.Status, job.ErrorMessage)
	}
	if job.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", job.Progress)
	}
	if job.Phase != models.PhaseComplete {
		t.Errorf("phase = %s, want complete", job.Phase)
	}
	if job.Result == nil || job.Result.Response != "The total is 10." {
		t.Fatalf("unexpected result: %+v", job.Result)
	}
	if job.AggregationDetails == nil {
		t.Fatal("expected aggregation details on completed job")
	}
	if job.TotalBatches != 3 {
		t.Errorf("total batches = %d, want 3", job.TotalBatches)
	}
	if job.ProcessedBatches != 3 {
		t.Errorf("processed batches = %d, want 3", job.ProcessedBatches)
	}
	if job.ProcessedItems != 30 {
		t.Errorf("processed items = %d, want 30", job.ProcessedItems)
	}
	if job.ActualSeconds == nil || job.CompletedAt == nil {
		t.Error("expected actual_seconds and completed_at to be set")
	}

	answers := msgs.byRole(models.RoleAssistant)
	if len(answers) != 1 {
		t.Fatalf("assistant messages = %d, want 1", len(answers))
	}
	if answers[0].JobID == nil {
		t.Error("assistant message should reference the job")
	}
}

func TestEmptyScopeCompletesTrivially(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	model := &fakeServiceModel{}
	o := newTestOrchestrator(store, scope, msgs, model)

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}

	job := waitTerminal(t, store, models.MustRecordIDString(created.ID))
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Result == nil || !strings.Contains(job.Result.Response, "empty") {
		t.Fatalf("unexpected result: %+v", job.Result)
	}
	if job.Result.ContextCount != 0 {
		t.Errorf("context count = %d, want 0", job.Result.ContextCount)
	}
	if model.calls != 0 {
		t.Errorf("model calls = %d, want 0 for an empty scope", model.calls)
	}
}

func TestAllBatchesFailedFailsJob(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(10, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	model := &fakeServiceModel{mapErr: errors.New("backend down")}
	o := newTestOrchestrator(store, scope, msgs, model)

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}

	job := waitTerminal(t, store, models.MustRecordIDString(created.ID))
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.ErrorKind == nil || *job.ErrorKind != models.ErrorKindAllBatchesFailed {
		t.Fatalf("error kind = %v, want %s", job.ErrorKind, models.ErrorKindAllBatchesFailed)
	}
	if job.Result != nil {
		t.Error("failed job must not carry a result")
	}
	if len(msgs.byRole(models.RoleAssistant)) != 0 {
		t.Error("failed job must not post an answer message")
	}
}

func TestCancelRunningJob(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(30, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	model := &fakeServiceModel{block: make(chan struct{})}
	o := newTestOrchestrator(store, scope, msgs, model)

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	jobID := models.MustRecordIDString(created.ID)

	// Wait until the coordinator is in the map phase before cancelling.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job := store.get(jobID); job != nil && job.Phase == models.PhaseMap {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := o.CancelJob(context.Background(), jobID, "u1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	job := waitTerminal(t, store, jobID)
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.Result != nil {
		t.Error("cancelled job must not carry a result")
	}
}

func TestCancelTerminalJobRejected(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(5, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	o := newTestOrchestrator(store, scope, msgs, &fakeServiceModel{})

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	jobID := models.MustRecordIDString(created.ID)
	waitTerminal(t, store, jobID)

	if err := o.CancelJob(context.Background(), jobID, "u1"); !errors.Is(err, ErrJobNotCancellable) {
		t.Fatalf("CancelJob on completed job = %v, want ErrJobNotCancellable", err)
	}
}

func TestCancelJobOwnership(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(30, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	model := &fakeServiceModel{block: make(chan struct{})}
	o := newTestOrchestrator(store, scope, msgs, model)

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	jobID := models.MustRecordIDString(created.ID)

	if err := o.CancelJob(context.Background(), jobID, "intruder"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("foreign cancel = %v, want ErrNotFound", err)
	}

	close(model.block)
	waitTerminal(t, store, jobID)
}

// slowFlushJobStore delays the first progress flush so a later flush would
// overtake it in the store if the writes were not serialized.
type slowFlushJobStore struct {
	*fakeJobStore
	flushMu   sync.Mutex
	delayed   bool
	persisted []float64
}

func (s *slowFlushJobStore) ApplyJobProgress(ctx context.Context, id string, progress float64, batchDelta, itemDelta, failedDelta int) error {
	s.flushMu.Lock()
	first := !s.delayed
	s.delayed = true
	s.flushMu.Unlock()
	if first {
		time.Sleep(50 * time.Millisecond)
	}

	s.flushMu.Lock()
	s.persisted = append(s.persisted, progress)
	s.flushMu.Unlock()
	return s.fakeJobStore.ApplyJobProgress(ctx, id, progress, batchDelta, itemDelta, failedDelta)
}

func TestProgressFlushesNeverRegress(t *testing.T) {
	store := &slowFlushJobStore{fakeJobStore: newFakeJobStore()}
	scope := &fakeScopeStore{items: scopeItems(100, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	o := NewOrchestrator(store, scope, msgs, &fakeServiceModel{}, fakeEmbedder{}, NewJobManager(30*time.Second), testEngine(), nil)

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	job := waitTerminal(t, store.fakeJobStore, models.MustRecordIDString(created.ID))
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%v), want completed", job.Status, job.ErrorMessage)
	}

	store.flushMu.Lock()
	persisted := append([]float64(nil), store.persisted...)
	store.flushMu.Unlock()

	// 100 single-chunk items at target 10 plan into 10 batches, flushing at
	// batch 5 and batch 10.
	if len(persisted) < 2 {
		t.Fatalf("flushes = %d, want at least 2", len(persisted))
	}
	for i := 1; i < len(persisted); i++ {
		if persisted[i] < persisted[i-1] {
			t.Errorf("persisted progress regressed: %v after %v", persisted[i], persisted[i-1])
		}
	}
	if last := persisted[len(persisted)-1]; last != 0.85 {
		t.Errorf("final map-phase progress = %v, want 0.85", last)
	}
}

// staleReadJobStore reports a processing snapshot even after the job
// completed, reproducing a cancel that read status just before the
// coordinator's final write.
type staleReadJobStore struct {
	*fakeJobStore
}

func (s *staleReadJobStore) GetJob(ctx context.Context, id, userID string) (*models.QueryJob, error) {
	job, err := s.fakeJobStore.GetJob(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatusProcessing
	job.Phase = models.PhaseMap
	return job, nil
}

func TestCancelRacingCompletionKeepsCompletedState(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(5, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	o := newTestOrchestrator(store, scope, msgs, &fakeServiceModel{})

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	jobID := models.MustRecordIDString(created.ID)
	waitTerminal(t, store, jobID)

	// With the coordinator gone and the status read stale, the cancel falls
	// through to the store; the guarded write must reject it.
	racing := NewOrchestrator(&staleReadJobStore{store}, scope, msgs, &fakeServiceModel{}, fakeEmbedder{}, NewJobManager(30*time.Second), testEngine(), nil)
	if err := racing.CancelJob(context.Background(), jobID, "u1"); !errors.Is(err, ErrJobNotCancellable) {
		t.Fatalf("cancel racing completion = %v, want ErrJobNotCancellable", err)
	}

	job := store.get(jobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed to survive the late cancel", job.Status)
	}
	if job.Result == nil || job.CompletedAt == nil {
		t.Error("completed job payload must survive the late cancel")
	}
}

func TestDuplicateQueryReusesJob(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(30, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	model := &fakeServiceModel{block: make(chan struct{})}
	o := newTestOrchestrator(store, scope, msgs, model)

	first, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "Total  Invoices?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	// Same query modulo case and whitespace, same conversation.
	second, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total invoices?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("duplicate CreateAsyncJob: %v", err)
	}
	if models.MustRecordIDString(first.ID) != models.MustRecordIDString(second.ID) {
		t.Errorf("duplicate query created a second job: %v vs %v", first.ID, second.ID)
	}

	// A different conversation gets its own job.
	third, err := o.CreateAsyncJob(context.Background(), "u1", "c2", nil, "total invoices?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}
	if models.MustRecordIDString(first.ID) == models.MustRecordIDString(third.ID) {
		t.Error("different conversation should not dedup against the first job")
	}

	close(model.block)
	waitTerminal(t, store, models.MustRecordIDString(first.ID))
	waitTerminal(t, store, models.MustRecordIDString(third.ID))
}

func TestJobTimeoutFails(t *testing.T) {
	store := newFakeJobStore()
	scope := &fakeScopeStore{items: scopeItems(10, 1)}
	msgs := &fakeMessageStore{conv: models.Conversation{UserID: "u1"}}
	model := &fakeServiceModel{block: make(chan struct{})}

	engine := testEngine()
	engine.JobTimeout = 50 * time.Millisecond
	o := NewOrchestrator(store, scope, msgs, model, fakeEmbedder{}, NewJobManager(30*time.Second), engine, nil)

	created, err := o.CreateAsyncJob(context.Background(), "u1", "c1", nil, "total?", nil, asyncIntent())
	if err != nil {
		t.Fatalf("CreateAsyncJob: %v", err)
	}

	job := waitTerminal(t, store, models.MustRecordIDString(created.ID))
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.ErrorKind == nil || *job.ErrorKind != models.ErrorKindTimeout {
		t.Fatalf("error kind = %v, want %s", job.ErrorKind, models.ErrorKindTimeout)
	}
}
