package service

import (
	"context"
	"testing"
	"time"
)

func TestJobManagerReuse(t *testing.T) {
	m := NewJobManager(time.Minute)
	m.Track("j1", "u1", "c1", "Total   Invoices?", func() {})

	id, ok := m.Reuse("c1", "total invoices?")
	if !ok || id != "j1" {
		t.Fatalf("Reuse = (%q, %v), want (j1, true)", id, ok)
	}

	if _, ok := m.Reuse("c2", "total invoices?"); ok {
		t.Error("different conversation should not match")
	}
	if _, ok := m.Reuse("c1", "total refunds?"); ok {
		t.Error("different query should not match")
	}

	// Once the coordinator is done the entry no longer dedups.
	m.Finish("j1")
	if _, ok := m.Reuse("c1", "total invoices?"); ok {
		t.Error("finished job should not be reused")
	}
}

func TestJobManagerReuseWindowExpiry(t *testing.T) {
	m := NewJobManager(10 * time.Millisecond)
	m.Track("j1", "u1", "c1", "total?", func() {})

	time.Sleep(20 * time.Millisecond)
	if _, ok := m.Reuse("c1", "total?"); ok {
		t.Error("entry outside the dedup window should not be reused")
	}
}

func TestJobManagerCancel(t *testing.T) {
	m := NewJobManager(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	m.Track("j1", "u1", "c1", "q", cancel)

	if m.Cancel("j1", "intruder") {
		t.Fatal("foreign user must not cancel the job")
	}
	if ctx.Err() != nil {
		t.Fatal("context cancelled by rejected request")
	}

	if !m.Cancel("j1", "u1") {
		t.Fatal("owner cancel should succeed")
	}
	if ctx.Err() == nil {
		t.Fatal("cancel handle was not invoked")
	}

	if m.Cancel("unknown", "u1") {
		t.Error("unknown job should report false")
	}
}

func TestJobManagerRunning(t *testing.T) {
	m := NewJobManager(time.Minute)
	if m.Running("j1") {
		t.Fatal("untracked job reported running")
	}
	m.Track("j1", "u1", "c1", "q", func() {})
	if !m.Running("j1") {
		t.Fatal("tracked job not reported running")
	}
	m.Finish("j1")
	if m.Running("j1") {
		t.Fatal("finished job still reported running")
	}
}
