package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

// createTestRun creates a solved run with test data.
func createTestRun(runID string) *Run {
	finished := time.Now()
	return &Run{
		ID:         runID,
		Command:    []string{"optbridge", "solve"},
		Solver:     map[string]any{"algorithm": "grid", "space": map[string]any{"x": []any{-1.0, 1.0}}},
		Objective:  "sphere",
		Options:    RunOptions{MaxEvals: 100, Parallel: true},
		Status:     StatusSolved,
		Solution:   map[string]any{"x": 0.0},
		Record:     map[string]any{"solution": map[string]any{"x": 0.0}, "value": 0.25, "evals": 9.0},
		Evals:      9,
		Rounds:     1,
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
	}
}

func TestNewFSStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveRun(t *testing.T) {
	store, tempDir := setupTestStore(t)

	run := createTestRun("test-run-123")
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "runs", run.ID, "run.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Run file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temp file should not exist after save")
	}
	if store.RunDir(run.ID) != filepath.Dir(expectedPath) {
		t.Errorf("RunDir mismatch: %s", store.RunDir(run.ID))
	}
}

func TestSaveRun_Invalid(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveRun(nil); err == nil {
		t.Error("Expected error for nil run")
	}

	run := createTestRun("")
	err := store.SaveRun(run)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "ID" {
		t.Errorf("Expected ValidationError on ID, got %v", err)
	}
}

func TestSaveRun_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	first := createTestRun("overwrite")
	first.Evals = 5
	second := createTestRun("overwrite")
	second.Evals = 50

	if err := store.SaveRun(first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.SaveRun(second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadRun("overwrite")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Evals != 50 {
		t.Errorf("Expected Evals=50, got %d", loaded.Evals)
	}
}

func TestLoadRun(t *testing.T) {
	store, _ := setupTestStore(t)

	original := createTestRun("test-run-load")
	if err := store.SaveRun(original); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.LoadRun(original.ID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}

	if loaded.ID != original.ID {
		t.Errorf("ID mismatch: expected %s, got %s", original.ID, loaded.ID)
	}
	if loaded.Status != StatusSolved {
		t.Errorf("Status mismatch: got %s", loaded.Status)
	}
	if loaded.Solution["x"] != 0.0 {
		t.Errorf("Solution mismatch: got %v", loaded.Solution)
	}
	if loaded.Record["value"] != 0.25 {
		t.Errorf("Record mismatch: got %v", loaded.Record)
	}
	if !loaded.Options.Parallel || loaded.Options.MaxEvals != 100 {
		t.Errorf("Options mismatch: got %+v", loaded.Options)
	}
	if !loaded.FinishedAt.Equal(original.FinishedAt) {
		t.Errorf("FinishedAt mismatch: expected %v, got %v", original.FinishedAt, loaded.FinishedAt)
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadRun("nonexistent-run")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %T: %v", err, err)
	}
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.RunID != "nonexistent-run" {
		t.Errorf("Expected RunID in error, got %q", nf.RunID)
	}
}

func TestLoadRun_Corrupted(t *testing.T) {
	store, tempDir := setupTestStore(t)

	dir := filepath.Join(tempDir, "runs", "broken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.LoadRun("broken")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected deserialization error, got %v", err)
	}
}

func TestLoadRun_EmptyID(t *testing.T) {
	store, _ := setupTestStore(t)

	if _, err := store.LoadRun(""); err == nil {
		t.Fatal("Expected error for empty runID")
	}
}

func TestListRuns_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected empty list, got %d runs", len(infos))
	}
}

func TestListRuns_SkipsInvalidEntries(t *testing.T) {
	store, tempDir := setupTestStore(t)

	for _, id := range []string{"run-1", "run-2"} {
		if err := store.SaveRun(createTestRun(id)); err != nil {
			t.Fatalf("Failed to save run %s: %v", id, err)
		}
	}

	runsDir := filepath.Join(tempDir, "runs")
	if err := os.MkdirAll(filepath.Join(runsDir, "in-progress"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runsDir, "dummy.txt"), []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(runsDir, "corrupt")
	if err := os.MkdirAll(corrupt, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "run.json"), []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	found := map[string]bool{}
	for _, info := range infos {
		found[info.ID] = true
	}
	if len(infos) != 2 || !found["run-1"] || !found["run-2"] {
		t.Errorf("Expected run-1 and run-2, got %+v", infos)
	}
}

func TestDeleteRun(t *testing.T) {
	store, _ := setupTestStore(t)

	run := createTestRun("test-run-delete")
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	artifact := filepath.Join(store.RunDir(run.ID), "evals.jsonl")
	if err := os.WriteFile(artifact, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(run.ID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := store.LoadRun(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Error("Artifacts should be removed with the run")
	}
}

func TestDeleteRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.DeleteRun("nonexistent-run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteRun(""); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numRuns = 10
	done := make(chan bool, numRuns)

	for i := 0; i < numRuns; i++ {
		go func(idx int) {
			run := createTestRun(fmt.Sprintf("concurrent-run-%d", idx))
			if err := store.SaveRun(run); err != nil {
				t.Errorf("Concurrent save failed for run %s: %v", run.ID, err)
			}
			done <- true
		}(i)
	}
	for i := 0; i < numRuns; i++ {
		<-done
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != numRuns {
		t.Errorf("Expected %d runs, got %d", numRuns, len(infos))
	}
}

func TestStoreLogKeys(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store, tempDir := setupTestStore(t)
	if err := store.SaveRun(createTestRun("logged-run")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	corrupt := filepath.Join(tempDir, "runs", "corrupt")
	if err := os.MkdirAll(corrupt, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "run.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ListRuns(); err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"run_id":"logged-run"`) || !strings.Contains(out, `"error":`) {
		t.Errorf("Expected run_id and error keys, got %s", out)
	}
	if strings.Contains(out, `"runID"`) || strings.Contains(out, `"err"`) {
		t.Errorf("Unexpected key spelling in %s", out)
	}
}
