// Package service provides the query engine's business logic: routing,
// job orchestration and the quick answer path.
package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

// JobManager tracks in-flight jobs in memory: their cancellation handles and
// a short-lived dedup index so an identical query in the same conversation
// reuses the running job instead of spawning a second one.
//
// All bookkeeping is serialized under one mutex, which makes duplicate
// creation races resolve first-writer-wins.
type JobManager struct {
	mu      sync.Mutex
	running map[string]*runningJob
	recent  map[string]recentEntry
	window  time.Duration
}

type runningJob struct {
	userID string
	cancel context.CancelFunc
}

type recentEntry struct {
	jobID string
	at    time.Time
}

// NewJobManager creates a job manager with the given dedup window.
func NewJobManager(dedupWindow time.Duration) *JobManager {
	if dedupWindow <= 0 {
		dedupWindow = 30 * time.Second
	}
	return &JobManager{
		running: make(map[string]*runningJob),
		recent:  make(map[string]recentEntry),
		window:  dedupWindow,
	}
}

// dedupKey normalizes the query so near-identical requests collide.
func dedupKey(conversationID, query string) string {
	return conversationID + "\x00" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Reuse returns the ID of an in-flight job for the same conversation and
// query if one was registered within the dedup window.
func (m *JobManager) Reuse(conversationID, query string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey(conversationID, query)
	entry, ok := m.recent[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.at) > m.window {
		delete(m.recent, key)
		return "", false
	}
	if _, stillRunning := m.running[entry.jobID]; !stillRunning {
		return "", false
	}
	return entry.jobID, true
}

// Track registers a started job and its cancellation handle.
func (m *JobManager) Track(jobID, userID, conversationID, query string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running[jobID] = &runningJob{userID: userID, cancel: cancel}
	m.recent[dedupKey(conversationID, query)] = recentEntry{jobID: jobID, at: time.Now()}
	m.prune()
}

// Cancel invokes the job's cancellation handle if it is running and owned by
// the user. Returns false when the job is unknown here (already terminal, or
// started by another process).
func (m *JobManager) Cancel(jobID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.running[jobID]
	if !ok || job.userID != userID {
		return false
	}
	job.cancel()
	return true
}

// Finish removes a job from the running set once its coordinator returns.
func (m *JobManager) Finish(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, jobID)
}

// Running reports whether a job's coordinator is still active.
func (m *JobManager) Running(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[jobID]
	return ok
}

// prune drops expired dedup entries. Caller must hold the mutex.
func (m *JobManager) prune() {
	for key, entry := range m.recent {
		if time.Since(entry.at) > m.window {
			delete(m.recent, key)
		}
	}
}
