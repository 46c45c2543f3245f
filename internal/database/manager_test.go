package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	dbconfig "codepair/pkg/database"
	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = ""

	if _, err := NewManager(config); err == nil {
		t.Error("expected error for empty database path")
	}
}

func TestAppendAndGetTranscript(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		sender := types.SenderCandidate
		if i%2 == 0 {
			sender = types.SenderAI
		}
		entry := &types.TranscriptEntry{
			Sequence:  int64(i),
			Sender:    sender,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: time.Now().UTC(),
		}
		if err := manager.AppendTranscriptEntry(ctx, "interview-1", entry); err != nil {
			t.Fatalf("AppendTranscriptEntry failed: %v", err)
		}
	}

	entries, err := manager.GetTranscript(ctx, "interview-1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) {
			t.Errorf("entry %d out of order: sequence %d", i, entry.Sequence)
		}
		if entry.CreatedAt.IsZero() {
			t.Errorf("entry %d lost its timestamp", i)
		}
	}
	if entries[1].Sender != types.SenderAI {
		t.Errorf("expected AI sender on entry 2, got %q", entries[1].Sender)
	}
}

func TestGetTranscript_EmptySession(t *testing.T) {
	manager := newTestManager(t)

	entries, err := manager.GetTranscript(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestAppendTranscriptEntry_RejectsSequenceReuse(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	entry := &types.TranscriptEntry{
		Sequence: 1, Sender: types.SenderCandidate, Content: "first", CreatedAt: time.Now().UTC(),
	}
	if err := manager.AppendTranscriptEntry(ctx, "interview-1", entry); err != nil {
		t.Fatalf("AppendTranscriptEntry failed: %v", err)
	}

	duplicate := &types.TranscriptEntry{
		Sequence: 1, Sender: types.SenderCandidate, Content: "imposter", CreatedAt: time.Now().UTC(),
	}
	if err := manager.AppendTranscriptEntry(ctx, "interview-1", duplicate); err == nil {
		t.Error("expected primary key violation for reused sequence")
	}

	// The same sequence in another session is a different key
	if err := manager.AppendTranscriptEntry(ctx, "interview-2", entry); err != nil {
		t.Errorf("sequence 1 rejected in an unrelated session: %v", err)
	}
}

func TestSaveAndGetDocument(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	document := &types.DocumentState{Content: "x = 1", LanguageTag: "python", Revision: 1}
	if err := manager.SaveDocument(ctx, "interview-1", document); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	loaded, err := manager.GetDocument(ctx, "interview-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if *loaded != *document {
		t.Errorf("loaded document mismatch: got %+v, want %+v", loaded, document)
	}
}

func TestSaveDocument_Upsert(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	if err := manager.SaveDocument(ctx, "interview-1", &types.DocumentState{Content: "v1", LanguageTag: "go", Revision: 1}); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	if err := manager.SaveDocument(ctx, "interview-1", &types.DocumentState{Content: "v2", LanguageTag: "python", Revision: 2}); err != nil {
		t.Fatalf("SaveDocument upsert failed: %v", err)
	}

	loaded, err := manager.GetDocument(ctx, "interview-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if loaded.Content != "v2" || loaded.LanguageTag != "python" || loaded.Revision != 2 {
		t.Errorf("upsert did not replace document: %+v", loaded)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	manager := newTestManager(t)

	if _, err := manager.GetDocument(context.Background(), "never-seen"); err != interfaces.ErrDocumentNotFound {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	entry := &types.TranscriptEntry{Sequence: 1, Sender: types.SenderCandidate, Content: "x", CreatedAt: time.Now().UTC()}
	if err := manager.AppendTranscriptEntry(context.Background(), "interview-1", entry); err == nil {
		t.Error("expected writes to fail after Close")
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if err := manager.SaveDocument(ctx, "interview-1", &types.DocumentState{Content: "persisted", LanguageTag: "go", Revision: 9}); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	entry := &types.TranscriptEntry{Sequence: 1, Sender: types.SenderCandidate, Content: "hello", CreatedAt: time.Now().UTC()}
	if err := manager.AppendTranscriptEntry(ctx, "interview-1", entry); err != nil {
		t.Fatalf("AppendTranscriptEntry failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewManager(config)
	if err != nil {
		t.Fatalf("failed to reopen manager: %v", err)
	}
	defer reopened.Close()

	document, err := reopened.GetDocument(ctx, "interview-1")
	if err != nil {
		t.Fatalf("GetDocument after reopen failed: %v", err)
	}
	if document.Revision != 9 || document.Content != "persisted" {
		t.Errorf("document lost across reopen: %+v", document)
	}
	entries, err := reopened.GetTranscript(ctx, "interview-1")
	if err != nil {
		t.Fatalf("GetTranscript after reopen failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "hello" {
		t.Errorf("transcript lost across reopen: %+v", entries)
	}
}
